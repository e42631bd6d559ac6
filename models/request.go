package models

import "strings"

// VINLength is the length of a standard (post-1981) VIN.
const VINLength = 17

// AutomationRequest is the payload for POST /open_ppsr.
//
// Username and Password are only ever used for form entry. They must not be
// logged, persisted, or echoed back.
type AutomationRequest struct {
	// Username is the PPSR portal account name. Required.
	Username string `json:"username" binding:"required"`

	// Password is the PPSR portal password. Required.
	Password string `json:"password" binding:"required"`

	// VINNumber is the search key, 17 characters expected.
	VINNumber string `json:"vin_number" binding:"required,max=32"`

	// PlateNumber is the plate the caller expects. When set, the result
	// reports whether the extracted plate matches it.
	PlateNumber *string `json:"plate_number,omitempty"`
}

// Normalize trims the VIN and expected plate and upper-cases them.
func (r *AutomationRequest) Normalize() {
	r.VINNumber = strings.ToUpper(strings.TrimSpace(r.VINNumber))
	if r.PlateNumber != nil {
		p := strings.ToUpper(strings.TrimSpace(*r.PlateNumber))
		if p == "" {
			r.PlateNumber = nil
		} else {
			r.PlateNumber = &p
		}
	}
}

// MaskedVIN returns the first 6 characters of the VIN followed by asterisks,
// suitable for logs.
func (r *AutomationRequest) MaskedVIN() string {
	if len(r.VINNumber) <= 6 {
		return r.VINNumber
	}
	return r.VINNumber[:6] + strings.Repeat("*", len(r.VINNumber)-6)
}
