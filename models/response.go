package models

// Result statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// AutomationResult is the response for POST /open_ppsr. One is produced per
// request and never modified after the handler writes it.
type AutomationResult struct {
	// Status is "success" or "failure".
	Status string `json:"status"`

	// Message is a human-readable summary. For failures it names the step.
	Message string `json:"message"`

	// PlateNumber is the extracted registration plate, null on failure.
	PlateNumber *string `json:"plate_number"`

	// PlateMatches compares PlateNumber with the plate given in the request.
	// Omitted when the request carried no plate.
	PlateMatches *bool `json:"plate_matches,omitempty"`

	RequestID string `json:"request_id"`
	LogsDir   string `json:"logs_dir"`
	TracePath string `json:"trace_path"`

	// Screenshots lists screenshot file names inside LogsDir, in capture order.
	Screenshots []string `json:"screenshots,omitempty"`

	// FailedStep and ErrorCode are populated only when Status is "failure".
	FailedStep string `json:"failed_step,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`

	// DurationMs is the end-to-end workflow duration.
	DurationMs int64 `json:"duration_ms"`
}

// Succeeded reports whether the lookup produced a plate.
func (r *AutomationResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// RootResponse is the response for GET /.
type RootResponse struct {
	Message string `json:"message"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status         string       `json:"status"` // "healthy" or "degraded"
	Uptime         string       `json:"uptime"`
	Sessions       SessionStats `json:"sessions"`
	ProfileVersion string       `json:"profile_version"`
	Version        string       `json:"version"`
}

// SessionStats reports browser session usage.
type SessionStats struct {
	MaxSessions    int `json:"max_sessions"`
	ActiveSessions int `json:"active_sessions"`
}

// FailureResult is a failure produced at the HTTP edge, before any request
// directory exists.
func FailureResult(code, message string) *AutomationResult {
	return &AutomationResult{
		Status:    StatusFailure,
		Message:   message,
		ErrorCode: code,
	}
}
