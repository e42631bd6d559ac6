package logging

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/ppsr/config"
)

func TestRedact_MessageAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	logger := Redact(base, "alice.smith", "hunter22")

	logger.Info("typing for alice.smith",
		"password", "hunter22",
		"error", errors.New("login rejected for alice.smith"),
		slog.Group("form", slog.String("value", "xx-hunter22-xx")),
		"count", 3,
	)
	logger.With("user", "alice.smith").WithGroup("g").Info("with attrs")

	out := buf.String()
	assert.NotContains(t, out, "alice.smith")
	assert.NotContains(t, out, "hunter22")
	assert.Contains(t, out, Redacted)
	assert.Contains(t, out, "count=3")
}

func TestRedact_ShortSecretsIgnored(t *testing.T) {
	assert.Equal(t, "a b c", Scrub("a b c", "a", ""))
	assert.Equal(t, "id=[REDACTED]", Scrub("id=bob", "bob"))
}

func TestSecret(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := Secret("s3cr3t-value")

	logger.Info("run", "username", s)

	assert.NotContains(t, buf.String(), "s3cr3t-value")
	assert.Equal(t, Redacted, fmt.Sprintf("%v", s))
	assert.Equal(t, Redacted, fmt.Sprintf("%#v", s))
}

func TestSetup_WritesRotatingFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	sink, err := Setup(config.LogConfig{Level: "info", Format: "json", MaxBackups: 2}, dir)
	require.NoError(t, err)

	sink.Logger.Info("hello from test")
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}

func TestUntilMidnight(t *testing.T) {
	loc := time.FixedZone("AEST", 10*60*60)
	now := time.Date(2024, 3, 1, 23, 30, 0, 0, loc)
	assert.Equal(t, 30*time.Minute, untilMidnight(now))
}

func TestNewLogFile_Retention(t *testing.T) {
	f := newLogFile(config.LogConfig{MaxBackups: 7}, "logs")
	assert.Equal(t, filepath.Join("logs", LogFileName), f.Filename)
	assert.Equal(t, 7, f.MaxBackups)
	assert.Zero(t, f.MaxAge, "a backup count is not an age")

	f = newLogFile(config.LogConfig{MaxBackups: 7, MaxAgeDays: 30}, "logs")
	assert.Equal(t, 30, f.MaxAge)
}
