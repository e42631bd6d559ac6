package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

// Session is one incognito browser context with a single page, owned by
// exactly one request.
type Session struct {
	// Browser is scoped to the incognito context.
	Browser *rod.Browser

	// Page is the session's only tab. It carries no context; callers bind
	// their own with Page.Context.
	Page *rod.Page

	ContextID proto.BrowserBrowserContextID

	rc         *RequestContext
	router     *rod.HijackRouter
	stopEvents context.CancelFunc
}

// RequestContext returns the request the session belongs to.
func (s *Session) RequestContext() *RequestContext {
	return s.rc
}

// open creates the incognito context and its page and prepares the page
// before any navigation:
//
//  1. Stealth injection   – mask navigator.webdriver etc.
//  2. Viewport + UA       – fixed desktop profile, Accept-Language
//  3. Extra headers       – Accept-Language when the UA is left alone
//  4. Event listeners     – console, page errors, dialogs
//  5. Network throttle    – per-request jitter via the hijack router
func (m *Manager) open(ctx context.Context, rc *RequestContext) (*Session, error) {
	inc, err := m.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("create incognito context: %w", err)
	}
	if m.cfg.SlowMotion > 0 {
		inc = inc.SlowMotion(m.cfg.SlowMotion)
	}

	page, err := inc.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = inc.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	s := &Session{
		Browser:   inc,
		Page:      page,
		ContextID: inc.BrowserContextID,
		rc:        rc,
	}

	// ── 1. Stealth injection ──────────────────────────────────────────
	if m.cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			rc.Logger.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}

	// ── 2. Viewport and user agent ────────────────────────────────────
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.ViewportWidth,
		Height:            m.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		s.close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	if m.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      m.cfg.UserAgent,
			AcceptLanguage: m.cfg.AcceptLanguage,
		}); err != nil {
			s.close()
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	} else if m.cfg.AcceptLanguage != "" {
		// ── 3. Extra headers ──────────────────────────────────────────
		// Without a UA override the language goes out as a plain header.
		if err := (proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(map[string]string{"Accept-Language": m.cfg.AcceptLanguage}),
		}).Call(page); err != nil {
			rc.Logger.Warn("setting Accept-Language failed, proceeding with browser default", "error", err)
		}
	}

	// ── 4. Event listeners ────────────────────────────────────────────
	evCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopEvents = cancel
	go s.watchEvents(evCtx)

	// ── 5. Network throttle ───────────────────────────────────────────
	if m.cfg.ThrottleNetwork {
		s.router = m.setupThrottle(evCtx, page)
	}

	rc.Logger.Debug("browser session opened", "browser_context", string(s.ContextID))
	return s, nil
}

// watchEvents copies console output and page errors into the request log
// and the trace, and accepts native dialogs so they never block a step.
func (s *Session) watchEvents(ctx context.Context) {
	logger := s.rc.Logger
	trace := s.rc.Trace
	page := s.Page

	wait := page.Context(ctx).EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			msg := consoleText(e.Args)
			logger.Debug("browser console", "type", string(e.Type), "text", msg)
			trace.Event("console."+string(e.Type), msg)
		},
		func(e *proto.RuntimeExceptionThrown) {
			msg := e.ExceptionDetails.Text
			if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
				msg = e.ExceptionDetails.Exception.Description
			}
			logger.Warn("page error", "error", msg)
			trace.Event("pageerror", msg)
		},
		func(e *proto.PageJavascriptDialogOpening) {
			logger.Info("dialog auto-accepted", "type", string(e.Type), "message", e.Message)
			trace.Event("dialog."+string(e.Type), e.Message)
			go func() {
				_ = proto.PageHandleJavaScriptDialog{Accept: true}.Call(page)
			}()
		},
	)
	wait()
}

// consoleText renders console arguments the way devtools prints them.
func consoleText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch {
		case a.Type == proto.RuntimeRemoteObjectTypeString:
			parts = append(parts, a.Value.Str())
		case !a.Value.Nil():
			parts = append(parts, a.Value.JSON("", ""))
		default:
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

// setupThrottle delays every request of the page by the pacer's network
// jitter, so the portal sees human-scale gaps between resource loads.
//
// Returns the running HijackRouter so the caller can stop it.
func (m *Manager) setupThrottle(ctx context.Context, page *rod.Page) *rod.HijackRouter {
	router := page.HijackRequests()

	_ = router.Add("*", "", func(h *rod.Hijack) {
		_ = m.pacer.JitterDelay(ctx)
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks, so it must live in its own goroutine.
	// It will exit when router.Stop() is called.
	go router.Run()

	return router
}

// close tears the session down: listeners, hijack router, page, then the
// incognito context itself. It uses the context-free page, so it works after
// any step deadline has passed.
func (s *Session) close() {
	logger := s.rc.Logger

	if s.stopEvents != nil {
		s.stopEvents()
	}
	if s.router != nil {
		if err := s.router.Stop(); err != nil {
			logger.Debug("stop hijack router", "error", err)
		}
	}
	if err := s.Page.Close(); err != nil {
		logger.Debug("close page", "error", err)
	}
	if err := s.Browser.Close(); err != nil {
		logger.Warn("dispose browser context", "error", err)
	}
	logger.Debug("browser session closed", "browser_context", string(s.ContextID))
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
