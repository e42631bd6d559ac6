package models

import "fmt"

// Error codes used in API responses and internal error handling.
const (
	// Workflow failures.
	ErrCodeNavigation      = "NAVIGATION_FAILED"
	ErrCodeAuthentication  = "AUTHENTICATION_FAILED"
	ErrCodeFormInteraction = "FORM_INTERACTION_FAILED"
	ErrCodeExtraction      = "EXTRACTION_FAILED"
	ErrCodeUnexpected      = "UNEXPECTED_FAILURE"

	// HTTP edge failures.
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeCapacity     = "CAPACITY_EXHAUSTED"
)

// AutomationError is the internal error type carrying an error code and the
// workflow step it happened in. It supports error wrapping via Unwrap.
//
// Message is safe to show to API clients; Err may carry raw browser errors
// and is only logged.
type AutomationError struct {
	Code    string
	Step    string
	Message string
	Err     error // wrapped original error
}

func (e *AutomationError) Error() string {
	prefix := e.Code
	if e.Step != "" {
		prefix += ": " + e.Step
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *AutomationError) Unwrap() error {
	return e.Err
}

// NewAutomationError creates a new AutomationError.
func NewAutomationError(code, step, message string, err error) *AutomationError {
	return &AutomationError{Code: code, Step: step, Message: message, Err: err}
}

// PublicMessage is the client-facing message: "<step>: <message>".
func (e *AutomationError) PublicMessage() string {
	if e.Step == "" {
		return e.Message
	}
	return e.Step + ": " + e.Message
}
