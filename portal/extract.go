package portal

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoPlate means no strategy found a valid plate in the page.
var ErrNoPlate = errors.New("no registration plate found")

// PlateStrategy finds the registration plate in a results page. Strategies
// run in order and the first valid value wins:
//
//  1. Selectors  – elements known to hold only the plate value
//  2. Labels     – a label element (dt/th/td/label/span) whose text equals a
//     label, and the value element next to it
//  3. Pattern    – a regular expression over the page's visible text; group
//     1 is the plate
//
// Every candidate must match ValuePattern.
type PlateStrategy struct {
	Selectors    []string `yaml:"selectors"`
	Labels       []string `yaml:"labels"`
	Pattern      string   `yaml:"pattern"`
	ValuePattern string   `yaml:"value_pattern"`

	pattern      *regexp.Regexp
	valuePattern *regexp.Regexp
}

// Match is a plate found in a page, with the strategy that found it.
type Match struct {
	Plate  string
	Source string // "selector", "label" or "pattern"
}

func (s *PlateStrategy) compile() error {
	if len(s.Selectors) == 0 && len(s.Labels) == 0 && s.Pattern == "" {
		return errors.New("results.plate needs at least one of selectors, labels, pattern")
	}
	if s.Pattern != "" {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return fmt.Errorf("results.plate.pattern: %w", err)
		}
		if re.NumSubexp() < 1 {
			return errors.New("results.plate.pattern needs a capture group")
		}
		s.pattern = re
	}
	if s.ValuePattern != "" {
		re, err := regexp.Compile(s.ValuePattern)
		if err != nil {
			return fmt.Errorf("results.plate.value_pattern: %w", err)
		}
		s.valuePattern = re
	}
	return nil
}

// Extract parses page and returns the first plate found.
func (s *PlateStrategy) Extract(page string) (Match, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return Match{}, fmt.Errorf("parse results page: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	for _, sel := range s.Selectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			if v := normalize(el.Text()); s.valid(v) {
				found = v
				return false
			}
			return true
		})
		if found != "" {
			return Match{Plate: found, Source: "selector"}, nil
		}
	}

	labelled := false
	for _, label := range s.Labels {
		v, seen := s.byLabel(doc, label)
		if v != "" {
			return Match{Plate: v, Source: "label"}, nil
		}
		labelled = labelled || seen
	}
	// The portal printed the label with a placeholder ("N/A", "NOT RECORDED").
	if labelled {
		return Match{}, ErrNoPlate
	}

	if s.pattern != nil {
		text := visibleText(page)
		for _, m := range s.pattern.FindAllStringSubmatch(text, -1) {
			if v := normalize(m[1]); s.valid(v) {
				return Match{Plate: v, Source: "pattern"}, nil
			}
		}
	}

	return Match{}, ErrNoPlate
}

// byLabel finds an element whose whole text is the label (ignoring case,
// surrounding whitespace and a trailing colon) and reads the value next to it.
// seen reports whether the label was present at all.
func (s *PlateStrategy) byLabel(doc *goquery.Document, label string) (found string, seen bool) {
	want := strings.ToLower(normalize(label))
	doc.Find("dt, th, td, label, span, strong, b, div").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(normalize(el.Text()), ":")))
		if text != want {
			return true
		}
		seen = true
		var value *goquery.Selection
		switch goquery.NodeName(el) {
		case "dt":
			value = el.NextAllFiltered("dd").First()
		default:
			value = el.Next()
		}
		if value.Length() == 0 && goquery.NodeName(el.Parent()) != "tr" {
			// <span>Label</span> inside a wrapper, value in the wrapper's sibling
			value = el.Parent().Next()
		}
		if v := normalize(value.Text()); s.valid(v) {
			found = v
			return false
		}
		return true
	})
	return found, seen
}

func (s *PlateStrategy) valid(v string) bool {
	if v == "" {
		return false
	}
	if s.valuePattern == nil {
		return true
	}
	return s.valuePattern.MatchString(v)
}

// normalize collapses runs of whitespace and trims the result.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
