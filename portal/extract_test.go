package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlateStrategy_Extract(t *testing.T) {
	strategy := Default().Results.Plate

	tests := []struct {
		name       string
		html       string
		wantPlate  string
		wantSource string
	}{
		{
			name: "portal element id",
			html: `<div><span id="ctl00_ctl00_m_cpProgressWizard_ucPW_ucR_ucRM_ucNevdisInformationForMultiple_rptMotorVehicles_ctl00_lblPlateNumberValue">
				ABC123 </span></div>`,
			wantPlate:  "ABC123",
			wantSource: "selector",
		},
		{
			name:       "renamed repeater keeps id suffix",
			html:       `<span id="rptVehicles_ctl03_lblPlateNumberValue">XYZ789</span>`,
			wantPlate:  "XYZ789",
			wantSource: "selector",
		},
		{
			name: "definition list",
			html: `<dl>
				<dt>VIN:</dt><dd>1HGCM82633A123456</dd>
				<dt>Registration plate number:</dt>
				<dd>ABC123</dd>
				<dt>Make:</dt><dd>HONDA</dd>
			</dl>`,
			wantPlate:  "ABC123",
			wantSource: "label",
		},
		{
			name:       "table row",
			html:       `<table><tr><th>Registration plate number</th><td>QWE 456</td></tr></table>`,
			wantPlate:  "QWE 456",
			wantSource: "label",
		},
		{
			name:       "label and value in one paragraph",
			html:       `<p>Vehicle found. Registration plate number: ABC123 (NSW)</p>`,
			wantPlate:  "ABC123",
			wantSource: "pattern",
		},
		{
			name:       "inline label with sibling value",
			html:       `<div><b>Registration plate number</b><i>ZZ99</i><i>Colour</i></div>`,
			wantPlate:  "ZZ99",
			wantSource: "label",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := strategy.Extract(tt.html)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPlate, m.Plate)
			assert.Equal(t, tt.wantSource, m.Source)
		})
	}
}

func TestPlateStrategy_NoPlate(t *testing.T) {
	strategy := Default().Results.Plate

	pages := []string{
		`<p>No vehicle found for this serial number.</p>`,
		`<dl><dt>Registration plate number:</dt><dd>Not available</dd></dl>`,
		`<span id="x_lblPlateNumberValue"></span>`,
		`<script>var s = "Registration plate number: ABC123";</script>`,
		`<dl><dt>Registration plate number:</dt><dd>N/A</dd></dl>`,
		`<dl><dt>Registration plate number:</dt><dd>NOT RECORDED</dd></dl>`,
		`<p>Registration plate number: N/A</p>`,
	}

	for _, html := range pages {
		_, err := strategy.Extract(html)
		assert.ErrorIs(t, err, ErrNoPlate, html)
	}
}

func TestVisibleText(t *testing.T) {
	page := `<html><head><style>td{color:red}</style><script>var plate="ZZZ999"</script></head>
<body><table><tr><td>Plate</td><td>ABC&amp;123</td></tr></table><noscript>enable js</noscript></body></html>`

	assert.Equal(t, "Plate ABC&123", visibleText(page))
}
