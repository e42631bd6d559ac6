package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutomationError_Error(t *testing.T) {
	err := NewAutomationError(ErrCodeNavigation, "init", "portal did not load", context.DeadlineExceeded)
	assert.Equal(t, "NAVIGATION_FAILED: init: portal did not load: context deadline exceeded", err.Error())

	bare := NewAutomationError(ErrCodeUnexpected, "", "boom", nil)
	assert.Equal(t, "UNEXPECTED_FAILURE: boom", bare.Error())
}

func TestAutomationError_Unwrap(t *testing.T) {
	err := fmt.Errorf("run: %w", NewAutomationError(ErrCodeExtraction, "extract", "no plate", context.DeadlineExceeded))

	var aerr *AutomationError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, ErrCodeExtraction, aerr.Code)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAutomationError_PublicMessage(t *testing.T) {
	err := NewAutomationError(ErrCodeFormInteraction, "enter_vin", "declaration checkbox not found", errors.New("raw cdp detail"))
	assert.Equal(t, "enter_vin: declaration checkbox not found", err.PublicMessage())
	assert.NotContains(t, err.PublicMessage(), "raw cdp detail")
}

func TestAutomationRequest_Normalize(t *testing.T) {
	plate := "  abc123 "
	req := AutomationRequest{VINNumber: " 1hgcm82633a123456 ", PlateNumber: &plate}
	req.Normalize()

	assert.Equal(t, "1HGCM82633A123456", req.VINNumber)
	require.NotNil(t, req.PlateNumber)
	assert.Equal(t, "ABC123", *req.PlateNumber)
	assert.Equal(t, "1HGCM8***********", req.MaskedVIN())

	empty := " "
	req = AutomationRequest{VINNumber: "ABC", PlateNumber: &empty}
	req.Normalize()
	assert.Nil(t, req.PlateNumber)
	assert.Equal(t, "ABC", req.MaskedVIN())
}
