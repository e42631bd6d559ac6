// Package logging wires slog to stdout and a daily-rotated log file, and
// keeps portal credentials out of every line it writes.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/use-agent/ppsr/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the rotating service log inside the logs root.
const LogFileName = "ppsr.log"

// Sink is the process-wide log destination: stdout plus the rotating file.
type Sink struct {
	// Writer fans out to stdout and the log file. gin's access log uses it too.
	Writer io.Writer

	// Logger is the configured root logger; Setup also installs it as the
	// slog default.
	Logger *slog.Logger

	file     *lumberjack.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// Setup creates logsDir, opens the rotating log file and installs the root
// logger as slog's default. Rotation happens at local midnight.
func Setup(cfg config.LogConfig, logsDir string) (*Sink, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}

	file := newLogFile(cfg, logsDir)

	w := io.MultiWriter(os.Stdout, file)
	logger := slog.New(NewHandler(cfg, w))
	slog.SetDefault(logger)

	s := &Sink{
		Writer: w,
		Logger: logger,
		file:   file,
		stop:   make(chan struct{}),
	}
	go s.rotateDaily()

	return s, nil
}

// NewHandler builds the slog handler selected by cfg.
func NewHandler(cfg config.LogConfig, w io.Writer) slog.Handler {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Close stops the rotation loop and closes the log file.
func (s *Sink) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.file.Close()
}

func (s *Sink) rotateDaily() {
	for {
		timer := time.NewTimer(untilMidnight(time.Now()))
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
			if err := s.file.Rotate(); err != nil {
				slog.Warn("log rotation failed", "error", err)
			}
		}
	}
}

func untilMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}

func newLogFile(cfg config.LogConfig, logsDir string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(logsDir, LogFileName),
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		LocalTime:  true,
	}
}
