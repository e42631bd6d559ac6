package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/ppsr/api"
	"github.com/use-agent/ppsr/config"
	"github.com/use-agent/ppsr/logging"
	"github.com/use-agent/ppsr/pacing"
	"github.com/use-agent/ppsr/portal"
	"github.com/use-agent/ppsr/session"
	"github.com/use-agent/ppsr/webhook"
	"github.com/use-agent/ppsr/workflow"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	config.LoadDotEnv()
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	sink, err := logging.Setup(cfg.Log, cfg.Artifacts.LogsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logging: %v\n", err)
		os.Exit(1)
	}
	defer sink.Close()

	slog.Info("ppsr starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"headless", cfg.Browser.Headless,
		"maxSessions", cfg.Browser.MaxSessions,
		"logsDir", cfg.Artifacts.LogsDir,
	)

	// ── 3. Load portal profile ──────────────────────────────────────
	profile, err := portal.Load(cfg.Workflow.ProfilePath)
	if err != nil {
		slog.Error("failed to load portal profile", "path", cfg.Workflow.ProfilePath, "error", err)
		os.Exit(1)
	}
	slog.Info("portal profile loaded", "version", profile.Version, "loginURL", profile.LoginURL)

	// ── 4. Initialise session manager (launches browser) ────────────
	pacer := pacing.New(cfg.Pacing)
	sessions, err := session.NewManager(cfg.Browser, cfg.Artifacts, pacer, sink.Logger)
	if err != nil {
		slog.Error("failed to initialise session manager", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	// ── 5. Wire workflow runner and webhook ─────────────────────────
	runner := workflow.NewRunner(sessions, profile, pacer, cfg.Workflow)
	notifier := webhook.New(cfg.Webhook.URL, cfg.Webhook.Secret)
	defer notifier.Wait()

	// ── 6. Setup router ─────────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(runner, sessions, notifier, cfg, profile.Version, sink.Writer, startTime)

	// ── 7. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 8. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// An in-flight lookup may still be queued for a session and then run
	// every step to its timeout. Chromium is only closed after that.
	drain := cfg.Browser.QueueTimeout + runner.MaxDuration()
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}
	if err := sessions.Wait(ctx); err != nil {
		slog.Error("lookups still running at shutdown", "active", sessions.Stats().ActiveSessions, "error", err)
	}

	// notifier.Wait, sessions.Close and sink.Close run via defer.
	slog.Info("ppsr stopped")
}
