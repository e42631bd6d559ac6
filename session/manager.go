// Package session owns the shared Chromium process and hands out one
// isolated browser session per request.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/use-agent/ppsr/config"
	"github.com/use-agent/ppsr/models"
	"github.com/use-agent/ppsr/pacing"
	"github.com/use-agent/ppsr/tracing"
	"golang.org/x/sync/semaphore"
)

// Manager launches the browser once and runs each request in its own
// incognito context. It is safe for concurrent use.
type Manager struct {
	browser            *rod.Browser
	cfg                config.BrowserConfig
	pacer              pacing.Pacer
	logsRoot           string
	screenshotMaxWidth int
	logger             *slog.Logger

	sem            *semaphore.Weighted
	activeSessions atomic.Int32
	inflight       sync.WaitGroup
	startTime      time.Time
}

// NewManager launches the browser. The process is shared; cookies, storage
// and cache are not, because every session gets a fresh incognito context.
func NewManager(browserCfg config.BrowserConfig, artifacts config.ArtifactsConfig, pacer pacing.Pacer, logger *slog.Logger) (*Manager, error) {
	l := launcher.New().
		Headless(browserCfg.Headless).
		NoSandbox(browserCfg.NoSandbox)

	if browserCfg.BrowserBin != "" {
		l = l.Bin(browserCfg.BrowserBin)
	}
	if browserCfg.Proxy != "" {
		l = l.Proxy(browserCfg.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("no-default-browser-check"))
	l.Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", browserCfg.ViewportWidth, browserCfg.ViewportHeight))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	logger.Info("browser launched", "controlURL", controlURL, "headless", browserCfg.Headless)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	maxSessions := browserCfg.MaxSessions
	if maxSessions < 1 {
		maxSessions = 1
	}

	return &Manager{
		browser:            browser,
		cfg:                browserCfg,
		pacer:              pacer,
		logsRoot:           artifacts.LogsDir,
		screenshotMaxWidth: artifacts.ScreenshotMaxWidth,
		logger:             logger,
		sem:                semaphore.NewWeighted(int64(maxSessions)),
		startTime:          time.Now(),
	}, nil
}

// Run opens a session for rc, calls fn with it and tears everything down,
// whatever fn does. Teardown order is fixed: recover a panic, close the
// session, free the slot, then flush the trace archive. The returned error
// is fn's error, a panic converted to UNEXPECTED_FAILURE, or a session
// setup failure.
func (m *Manager) Run(ctx context.Context, rc *RequestContext, fn func(*Session) error) (err error) {
	m.inflight.Add(1)
	defer m.inflight.Done()

	defer func() {
		outcome := models.StatusSuccess
		if err != nil {
			outcome = models.StatusFailure
		}
		if _, ferr := rc.Trace.Flush(outcome); ferr != nil {
			rc.Logger.Error("trace flush failed", "error", ferr)
		}
	}()

	acquireCtx := ctx
	if m.cfg.QueueTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, m.cfg.QueueTimeout)
		defer cancel()
	}
	if aerr := m.sem.Acquire(acquireCtx, 1); aerr != nil {
		rc.Trace.Checkpoint(nil, "init", tracing.StatusFailed, "no free browser session")
		return models.NewAutomationError(models.ErrCodeCapacity, "init",
			"no browser session became available", aerr)
	}
	defer m.sem.Release(1)

	m.activeSessions.Add(1)
	defer m.activeSessions.Add(-1)

	s, oerr := m.open(ctx, rc)
	if oerr != nil {
		rc.Trace.Checkpoint(nil, "init", tracing.StatusFailed, "browser session could not be opened")
		return models.NewAutomationError(models.ErrCodeUnexpected, "init",
			"browser session could not be opened", oerr)
	}
	defer s.close()

	defer func() {
		if r := recover(); r != nil {
			step := rc.Step()
			if step == "" {
				step = "init"
			}
			rc.Logger.Error("workflow panicked", "step", step, "panic", r, "stack", string(debug.Stack()))
			rc.Trace.Checkpoint(s.Page, step, tracing.StatusFailed, fmt.Sprintf("panic: %v", r))
			err = models.NewAutomationError(models.ErrCodeUnexpected, step,
				"unexpected failure", fmt.Errorf("panic: %v", r))
		}
	}()

	return fn(s)
}

// Wait blocks until every Run in progress has closed its session and
// flushed its trace, or ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of session usage.
func (m *Manager) Stats() models.SessionStats {
	return models.SessionStats{
		MaxSessions:    m.cfg.MaxSessions,
		ActiveSessions: int(m.activeSessions.Load()),
	}
}

// Uptime is the time since the browser was launched.
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Close kills the browser process. Call this on graceful shutdown to
// prevent zombie Chrome processes.
func (m *Manager) Close() {
	m.logger.Info("session manager shutting down: closing browser")
	if err := m.browser.Close(); err != nil {
		m.logger.Warn("browser close failed", "error", err)
	}
	m.logger.Info("session manager shutdown complete")
}
