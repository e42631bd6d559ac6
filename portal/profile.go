// Package portal describes the PPSR site: the selectors, menu path and text
// patterns the lookup workflow depends on. The markup is not under our
// control, so all of it lives in a versioned Profile that can be replaced
// without touching the workflow.
package portal

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

//go:embed default_profile.yaml
var defaultProfileYAML []byte

// Menu actions.
const (
	ActionHover = "hover"
	ActionClick = "click"
)

// Profile is one version of the portal's structure.
type Profile struct {
	Version  string        `yaml:"version"`
	LoginURL string        `yaml:"login_url"`
	Login    LoginProfile  `yaml:"login"`
	Search   SearchProfile `yaml:"search"`
	Results  ResultProfile `yaml:"results"`
}

// LoginProfile locates the login form and the post-login marker.
type LoginProfile struct {
	// Form appears once the login page is usable.
	Form     string `yaml:"form"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Declaration is an optional terms checkbox that must be ticked to log in.
	Declaration string `yaml:"declaration"`

	// Submit is the explicit login button. FallbackSubmit is tried when it
	// is missing; Enter is pressed when both are.
	Submit         string `yaml:"submit"`
	FallbackSubmit string `yaml:"fallback_submit"`

	// SuccessMarker only exists once authenticated.
	SuccessMarker string `yaml:"success_marker"`

	// ErrorMarker holds the portal's login error text, if any.
	ErrorMarker string `yaml:"error_marker"`
}

// SearchProfile locates the VIN search form.
type SearchProfile struct {
	// URL opens the search form directly. When empty, Menu is followed.
	URL  string     `yaml:"url"`
	Menu []MenuStep `yaml:"menu"`

	VINInput string `yaml:"vin_input"`

	// FocusScript and BlurScript are evaluated around VIN entry; some
	// portal inputs carry watermark handlers that expect them.
	FocusScript string `yaml:"focus_script"`
	BlurScript  string `yaml:"blur_script"`

	Declaration string `yaml:"declaration"`
	Submit      string `yaml:"submit"`
}

// MenuStep is one hover or click on the way to the search form.
type MenuStep struct {
	Action   string `yaml:"action"`
	Selector string `yaml:"selector"`

	// Text, when set, picks the first Selector match whose text matches
	// this regular expression.
	Text string `yaml:"text"`
}

// ResultProfile locates the search results.
type ResultProfile struct {
	// Ready appears once the results view has rendered. Optional.
	Ready string        `yaml:"ready"`
	Plate PlateStrategy `yaml:"plate"`
}

// Default returns a fresh copy of the embedded profile.
func Default() *Profile {
	p, err := Parse(defaultProfileYAML)
	if err != nil {
		panic(fmt.Sprintf("portal: embedded profile is invalid: %v", err))
	}
	return p
}

// Load reads and validates a YAML profile. An empty path returns Default().
func Load(path string) (*Profile, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML profile.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks required fields, parses every selector and compiles the
// plate patterns. It must be called on hand-built profiles before use.
func (p *Profile) Validate() error {
	var errs []error

	required := map[string]string{
		"version":              p.Version,
		"login_url":            p.LoginURL,
		"login.form":           p.Login.Form,
		"login.username":       p.Login.Username,
		"login.password":       p.Login.Password,
		"login.success_marker": p.Login.SuccessMarker,
		"search.vin_input":     p.Search.VINInput,
		"search.declaration":   p.Search.Declaration,
		"search.submit":        p.Search.Submit,
	}
	for name, v := range required {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if p.Search.URL == "" && len(p.Search.Menu) == 0 {
		errs = append(errs, errors.New("search.url or search.menu is required"))
	}

	selectors := map[string]string{
		"login.form":            p.Login.Form,
		"login.username":        p.Login.Username,
		"login.password":        p.Login.Password,
		"login.declaration":     p.Login.Declaration,
		"login.submit":          p.Login.Submit,
		"login.fallback_submit": p.Login.FallbackSubmit,
		"login.success_marker":  p.Login.SuccessMarker,
		"login.error_marker":    p.Login.ErrorMarker,
		"search.vin_input":      p.Search.VINInput,
		"search.declaration":    p.Search.Declaration,
		"search.submit":         p.Search.Submit,
		"results.ready":         p.Results.Ready,
	}
	for i, m := range p.Search.Menu {
		key := fmt.Sprintf("search.menu[%d]", i)
		selectors[key] = m.Selector
		if m.Selector == "" {
			errs = append(errs, fmt.Errorf("%s.selector is required", key))
		}
		if m.Action != ActionHover && m.Action != ActionClick {
			errs = append(errs, fmt.Errorf("%s.action must be %q or %q", key, ActionHover, ActionClick))
		}
		if m.Text != "" {
			if _, err := regexp.Compile(m.Text); err != nil {
				errs = append(errs, fmt.Errorf("%s.text: %w", key, err))
			}
		}
	}
	for i, s := range p.Results.Plate.Selectors {
		selectors[fmt.Sprintf("results.plate.selectors[%d]", i)] = s
	}
	for name, sel := range selectors {
		if sel == "" {
			continue
		}
		if _, err := cascadia.ParseGroup(sel); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid selector %q: %w", name, sel, err))
		}
	}

	if err := p.Results.Plate.compile(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
