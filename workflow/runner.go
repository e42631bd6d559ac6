// Package workflow drives one PPSR lookup through the portal: log in, open
// the serial number search, enter the VIN and read the registration plate.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/use-agent/ppsr/config"
	"github.com/use-agent/ppsr/logging"
	"github.com/use-agent/ppsr/models"
	"github.com/use-agent/ppsr/pacing"
	"github.com/use-agent/ppsr/portal"
	"github.com/use-agent/ppsr/session"
	"github.com/use-agent/ppsr/tracing"
)

// Step names, in execution order. They name checkpoints, screenshots and
// the failed_step of a failure result.
const (
	StepInit           = "init"
	StepAuthenticate   = "authenticate"
	StepPostLogin      = "post_login"
	StepNavigateSearch = "navigate_search"
	StepEnterVIN       = "enter_vin"
	StepSubmit         = "submit"
	StepExtract        = "extract"
	StepDone           = "done"
)

// Runner executes lookups. It holds no per-request state and is safe for
// concurrent use; every Run gets its own request context and session.
type Runner struct {
	sessions *session.Manager
	profile  *portal.Profile
	pacer    pacing.Pacer
	cfg      config.WorkflowConfig
}

// NewRunner creates a Runner. profile must have passed Validate.
func NewRunner(sessions *session.Manager, profile *portal.Profile, pacer pacing.Pacer, cfg config.WorkflowConfig) *Runner {
	return &Runner{
		sessions: sessions,
		profile:  profile,
		pacer:    pacer,
		cfg:      cfg,
	}
}

// MaxDuration bounds one lookup once it holds a session: every step
// running into its timeout.
func (r *Runner) MaxDuration() time.Duration {
	return time.Duration(len((&lookup{}).steps())) * r.cfg.StepTimeout
}

// Profile returns the portal profile in use.
func (r *Runner) Profile() *portal.Profile {
	return r.profile
}

// Run performs one lookup. It never returns an error: every failure,
// including a panic inside the workflow, becomes a failure result naming
// the step. The request directory and trace archive exist either way.
func (r *Runner) Run(ctx context.Context, req *models.AutomationRequest) *models.AutomationResult {
	start := time.Now()

	rc, err := r.sessions.NewRequestContext(req.Username, req.Password)
	if err != nil {
		slog.Error("request context allocation failed", "error", err)
		return &models.AutomationResult{
			Status:     models.StatusFailure,
			Message:    "init: request directory could not be created",
			FailedStep: StepInit,
			ErrorCode:  models.ErrCodeUnexpected,
			DurationMs: time.Since(start).Milliseconds(),
		}
	}
	log := rc.Logger
	log.Info("lookup started",
		"vin", req.MaskedVIN(),
		"plate_given", req.PlateNumber != nil,
		"profile", r.profile.Version,
	)
	if n := len(req.VINNumber); n != models.VINLength {
		log.Warn("VIN length is unusual, searching anyway", "length", n)
	}

	var plate string
	err = r.sessions.Run(ctx, rc, func(s *session.Session) error {
		l := &lookup{
			runner: r,
			req:    req,
			s:      s,
			log:    log,
			trace:  rc.Trace,
		}
		var lerr error
		plate, lerr = l.run(ctx)
		return lerr
	})

	result := &models.AutomationResult{
		RequestID:   rc.ID,
		LogsDir:     rc.LogsDir,
		TracePath:   rc.TracePath(),
		Screenshots: rc.Trace.Screenshots(),
		DurationMs:  time.Since(start).Milliseconds(),
	}

	if err != nil {
		aerr := classify(err, "", models.ErrCodeUnexpected)
		result.Status = models.StatusFailure
		result.Message = logging.Scrub(aerr.PublicMessage(), req.Username, req.Password)
		result.FailedStep = aerr.Step
		result.ErrorCode = aerr.Code
		log.Error("lookup failed",
			"step", aerr.Step,
			"code", aerr.Code,
			"error", err,
			"duration_ms", result.DurationMs,
		)
		return result
	}

	result.Status = models.StatusSuccess
	result.Message = "Registration plate extracted"
	result.PlateNumber = &plate
	attrs := []any{"plate", plate, "duration_ms", result.DurationMs}
	if req.PlateNumber != nil {
		matches := samePlate(*req.PlateNumber, plate)
		result.PlateMatches = &matches
		attrs = append(attrs, "plate_matches", matches)
	}
	log.Info("lookup finished", attrs...)
	return result
}

// samePlate compares plates ignoring case and spacing.
func samePlate(a, b string) bool {
	norm := func(s string) string {
		return strings.ToUpper(strings.Join(strings.Fields(s), ""))
	}
	return norm(a) == norm(b)
}

// classify turns any workflow error into an AutomationError. Deadlines
// become timeoutCode failures of step; anything unrecognised is
// UNEXPECTED_FAILURE.
func classify(err error, step, timeoutCode string) *models.AutomationError {
	var aerr *models.AutomationError
	if errors.As(err, &aerr) {
		if aerr.Step == "" {
			aerr.Step = step
		}
		return aerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewAutomationError(timeoutCode, step, "timed out", err)
	}
	return models.NewAutomationError(models.ErrCodeUnexpected, step, "unexpected error", err)
}

// lookup is the state of one Run.
type lookup struct {
	runner *Runner
	req    *models.AutomationRequest
	s      *session.Session
	log    *slog.Logger
	trace  *tracing.Recorder
	plate  string
}

// stepFunc is one workflow step. p is bound to the step's deadline.
type stepFunc func(ctx context.Context, p *rod.Page) error

// stepDef is one entry of the workflow; code classifies its timeouts.
type stepDef struct {
	name string
	code string
	fn   stepFunc
}

func (l *lookup) steps() []stepDef {
	return []stepDef{
		{StepInit, models.ErrCodeNavigation, l.openPortal},
		{StepAuthenticate, models.ErrCodeAuthentication, l.authenticate},
		{StepPostLogin, models.ErrCodeAuthentication, l.confirmLogin},
		{StepNavigateSearch, models.ErrCodeNavigation, l.navigateSearch},
		{StepEnterVIN, models.ErrCodeFormInteraction, l.enterVIN},
		{StepSubmit, models.ErrCodeFormInteraction, l.submitSearch},
		{StepExtract, models.ErrCodeExtraction, l.extractPlate},
	}
}

func (l *lookup) run(ctx context.Context) (string, error) {
	for _, st := range l.steps() {
		if err := l.step(ctx, st.name, st.code, st.fn); err != nil {
			return "", err
		}
	}

	l.trace.Checkpoint(l.s.Page, StepDone, tracing.StatusOK, "plate "+l.plate)
	return l.plate, nil
}

// step runs fn under the step deadline and records a checkpoint whatever
// the outcome.
func (l *lookup) step(ctx context.Context, name, code string, fn stepFunc) error {
	stepCtx, cancel := context.WithTimeout(ctx, l.runner.cfg.StepTimeout)
	defer cancel()

	started := time.Now()
	l.s.RequestContext().SetStep(name)
	l.log.Info("step started", "step", name)

	if err := fn(stepCtx, l.s.Page.Context(stepCtx)); err != nil {
		aerr := classify(err, name, code)
		l.trace.Checkpoint(l.s.Page, name, tracing.StatusFailed, aerr.Error())
		l.log.Warn("step failed",
			"step", name,
			"code", aerr.Code,
			"error", err,
			"elapsed", time.Since(started),
		)
		return aerr
	}

	l.trace.Checkpoint(l.s.Page, name, tracing.StatusOK, "")
	l.log.Info("step completed", "step", name, "elapsed", time.Since(started))
	return nil
}
