package portal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	p := Default()

	assert.NotEmpty(t, p.Version)
	assert.Equal(t, "https://transact.ppsr.gov.au/ppsr/Login", p.LoginURL)
	assert.Equal(t, "#mainMenu", p.Login.SuccessMarker)
	require.Len(t, p.Search.Menu, 3)
	assert.Equal(t, ActionClick, p.Search.Menu[2].Action)
	assert.NoError(t, p.Validate())
}

func TestDefault_ReturnsCopies(t *testing.T) {
	a := Default()
	a.LoginURL = "http://changed"
	assert.NotEqual(t, a.LoginURL, Default().LoginURL)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "test-1"
login_url: "http://127.0.0.1/login"
login:
  form: "#login-form"
  username: "#user"
  password: "#pass"
  success_marker: "#home"
search:
  url: "http://127.0.0.1/search"
  vin_input: "#vin"
  declaration: "#decl"
  submit: "#go"
results:
  plate:
    pattern: "Plate: ([A-Z0-9]+)"
`), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-1", p.Version)
	assert.Equal(t, "http://127.0.0.1/search", p.Search.URL)

	m, err := p.Results.Plate.Extract(`<p>Plate: XYZ9</p>`)
	require.NoError(t, err)
	assert.Equal(t, "XYZ9", m.Plate)
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Version, p.Version)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing fields",
			yaml:    `version: "x"`,
			wantErr: "login_url is required",
		},
		{
			name: "bad selector",
			yaml: `
version: "x"
login_url: "http://h/login"
login: {form: "#f", username: "#u", password: "#p", success_marker: "div[[["}
search: {url: "http://h/s", vin_input: "#v", declaration: "#d", submit: "#s"}
results: {plate: {labels: ["Plate"]}}
`,
			wantErr: "login.success_marker: invalid selector",
		},
		{
			name: "pattern without group",
			yaml: `
version: "x"
login_url: "http://h/login"
login: {form: "#f", username: "#u", password: "#p", success_marker: "#m"}
search: {url: "http://h/s", vin_input: "#v", declaration: "#d", submit: "#s"}
results: {plate: {pattern: "Plate: [A-Z]+"}}
`,
			wantErr: "needs a capture group",
		},
		{
			name: "bad menu action",
			yaml: `
version: "x"
login_url: "http://h/login"
login: {form: "#f", username: "#u", password: "#p", success_marker: "#m"}
search: {menu: [{action: press, selector: "#a"}], vin_input: "#v", declaration: "#d", submit: "#s"}
results: {plate: {labels: ["Plate"]}}
`,
			wantErr: `search.menu[0].action must be "hover" or "click"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
