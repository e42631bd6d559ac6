package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/ppsr/logging"
	"github.com/use-agent/ppsr/tracing"
)

// requestIDLen is the number of hex characters kept from a v4 UUID.
const requestIDLen = 8

// RequestContext is the per-request handle for everything written to disk:
// the request directory, the trace recorder and a request-scoped logger.
// It is created once per request and never reused.
type RequestContext struct {
	ID        string
	LogsDir   string
	CreatedAt time.Time

	// Logger carries request_id and scrubs the request's credentials.
	Logger *slog.Logger

	Trace *tracing.Recorder

	mu   sync.Mutex
	step string
}

// SetStep records the workflow step now running, so a failure outside the
// step's own error handling can still name it.
func (rc *RequestContext) SetStep(step string) {
	rc.mu.Lock()
	rc.step = step
	rc.mu.Unlock()
}

// Step is the last step passed to SetStep, or "" before the first.
func (rc *RequestContext) Step() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.step
}

// TracePath is where the trace archive is (or will be) written.
func (rc *RequestContext) TracePath() string {
	return rc.Trace.Path()
}

// NewRequestContext allocates a fresh request id and creates its directory
// under the logs root. secrets are scrubbed from the request's logs and trace.
func (m *Manager) NewRequestContext(secrets ...string) (*RequestContext, error) {
	if err := os.MkdirAll(m.logsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create logs root: %w", err)
	}

	// An 8-char id can collide; os.Mkdir fails on an existing directory, so
	// two requests can never share one.
	var id, dir string
	for attempt := 0; ; attempt++ {
		id = newRequestID()
		dir = filepath.Join(m.logsRoot, id)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) || attempt >= 4 {
			return nil, fmt.Errorf("create request dir: %w", err)
		}
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}

	logger := logging.Redact(m.logger, secrets...).With("request_id", id)

	return &RequestContext{
		ID:        id,
		LogsDir:   abs,
		CreatedAt: time.Now(),
		Logger:    logger,
		Trace:     tracing.NewRecorder(id, abs, m.screenshotMaxWidth, secrets...),
	}, nil
}

func newRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:requestIDLen]
}
