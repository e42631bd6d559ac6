package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration. It is built once in main and
// handed to each component; nothing below main reads the environment.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Workflow  WorkflowConfig
	Pacing    PacingConfig
	Artifacts ArtifactsConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8000
	Mode string // "debug", "release", "test"; default: "release"

	// StrictStatus maps workflow failures to non-2xx HTTP status codes.
	// When false, failures are returned as 200 with status="failure".
	StrictStatus bool // default: false
}

// BrowserConfig controls the shared Chromium process and per-request contexts.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is the upstream proxy for all sessions.
	Proxy string

	// SlowMotion delays every input action on the page.
	SlowMotion time.Duration // default: 0

	// MaxSessions bounds concurrently open browser sessions.
	MaxSessions int // default: 4

	// QueueTimeout is how long a request waits for a free session slot.
	QueueTimeout time.Duration // default: 60s

	// Stealth injects anti-detection JS into every new document.
	Stealth bool // default: true

	UserAgent      string
	AcceptLanguage string
	ViewportWidth  int // default: 1280
	ViewportHeight int // default: 800

	// ThrottleNetwork delays every request of a session by Pacing.NetworkJitter.
	ThrottleNetwork bool // default: true
}

// WorkflowConfig bounds every wait in the lookup sequence.
type WorkflowConfig struct {
	// ProfilePath points at a YAML portal profile. Empty uses the embedded one.
	ProfilePath string

	// NavigationTimeout is the max time for a single page load.
	NavigationTimeout time.Duration // default: 10s

	// ElementTimeout is the max time to wait for one element to appear.
	ElementTimeout time.Duration // default: 10s

	// StepTimeout is the max time for a whole workflow step.
	StepTimeout time.Duration // default: 60s
}

// Range is an inclusive [Min, Max] duration interval.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// PacingConfig holds the human-like delay ranges.
type PacingConfig struct {
	Keystroke     Range // default: 120ms-220ms
	Pause         Range // default: 900ms-1.8s
	Settle        Range // default: 1.3s-2.1s
	NetworkJitter Range // default: 200ms-550ms
}

// ArtifactsConfig controls where per-request screenshots and traces go.
type ArtifactsConfig struct {
	// LogsDir is the root for ppsr.log and the per-request directories.
	LogsDir string // default: "logs"

	// ScreenshotMaxWidth downsizes wider screenshots. 0 keeps the original.
	ScreenshotMaxWidth int // default: 1280
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool // default: false
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key or client IP.
	RequestsPerSecond float64 // default: 1

	// Burst is the maximum burst size per identity.
	Burst int // default: 5

	// AccountPerMinute caps lookups per portal username, whoever calls,
	// so a burst of requests cannot lock the PPSR account out. 0 disables.
	AccountPerMinute float64 // default: 4

	// AccountBurst is the maximum burst size per portal username.
	AccountBurst int // default: 2
}

// WebhookConfig controls result notifications.
type WebhookConfig struct {
	// URL receives lookup.completed / lookup.failed events. Empty disables.
	URL    string
	Secret string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level      string // default: "info"
	Format     string // "json" or "text"; default: "text"
	MaxBackups int    // default: 7

	// MaxAgeDays removes rotated files older than this many days. 0 keeps
	// them until MaxBackups prunes them.
	MaxAgeDays int // default: 0
}

// LoadDotEnv loads .env from the working directory if present. Variables
// already set in the process environment win.
func LoadDotEnv() {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         envOr("PPSR_HOST", "0.0.0.0"),
			Port:         envIntOr("PPSR_PORT", 8000),
			Mode:         envOr("PPSR_MODE", "release"),
			StrictStatus: envBoolOr("PPSR_STRICT_STATUS", false),
		},
		Browser: BrowserConfig{
			Headless:        envHeadlessOr("HEADLESS", true),
			NoSandbox:       envBoolOr("PPSR_NO_SANDBOX", false),
			BrowserBin:      os.Getenv("PPSR_BROWSER_BIN"),
			Proxy:           os.Getenv("PPSR_PROXY"),
			SlowMotion:      envDurationOr("PPSR_SLOW_MOTION", 0),
			MaxSessions:     envIntOr("PPSR_MAX_SESSIONS", 4),
			QueueTimeout:    envDurationOr("PPSR_QUEUE_TIMEOUT", 60*time.Second),
			Stealth:         envBoolOr("PPSR_STEALTH", true),
			UserAgent:       envOr("PPSR_USER_AGENT", DefaultUserAgent),
			AcceptLanguage:  envOr("PPSR_ACCEPT_LANGUAGE", "en-AU,en;q=0.9"),
			ViewportWidth:   envIntOr("PPSR_VIEWPORT_WIDTH", 1280),
			ViewportHeight:  envIntOr("PPSR_VIEWPORT_HEIGHT", 800),
			ThrottleNetwork: envBoolOr("PPSR_THROTTLE_NETWORK", true),
		},
		Workflow: WorkflowConfig{
			ProfilePath:       os.Getenv("PPSR_PROFILE_PATH"),
			NavigationTimeout: envDurationOr("PPSR_NAV_TIMEOUT", 10*time.Second),
			ElementTimeout:    envDurationOr("PPSR_ELEMENT_TIMEOUT", 10*time.Second),
			StepTimeout:       envDurationOr("PPSR_STEP_TIMEOUT", 60*time.Second),
		},
		Pacing: PacingConfig{
			Keystroke:     envRangeOr("PPSR_KEY_DELAY", Range{120 * time.Millisecond, 220 * time.Millisecond}),
			Pause:         envRangeOr("PPSR_PAUSE", Range{900 * time.Millisecond, 1800 * time.Millisecond}),
			Settle:        envRangeOr("PPSR_SETTLE", Range{1300 * time.Millisecond, 2100 * time.Millisecond}),
			NetworkJitter: envRangeOr("PPSR_NET_JITTER", Range{200 * time.Millisecond, 550 * time.Millisecond}),
		},
		Artifacts: ArtifactsConfig{
			LogsDir:            envOr("PPSR_LOGS_DIR", "logs"),
			ScreenshotMaxWidth: envIntOr("PPSR_SCREENSHOT_MAX_WIDTH", 1280),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PPSR_AUTH_ENABLED", false),
			APIKeys: envSliceOr("PPSR_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("PPSR_RATE_RPS", 1.0),
			Burst:             envIntOr("PPSR_RATE_BURST", 5),
			AccountPerMinute:  envFloatOr("PPSR_ACCOUNT_RATE_PER_MIN", 4),
			AccountBurst:      envIntOr("PPSR_ACCOUNT_BURST", 2),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("PPSR_WEBHOOK_URL"),
			Secret: os.Getenv("PPSR_WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:      envOr("PPSR_LOG_LEVEL", "info"),
			Format:     envOr("PPSR_LOG_FORMAT", "text"),
			MaxBackups: envIntOr("PPSR_LOG_MAX_BACKUPS", 7),
			MaxAgeDays: envIntOr("PPSR_LOG_MAX_AGE_DAYS", 0),
		},
	}
}

// DefaultUserAgent is a desktop Chrome on Windows.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/124.0.0.0 Safari/537.36"

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envHeadlessOr also accepts "yes"/"on"/"no"/"off", which deployments of
// the service have historically used for HEADLESS.
func envHeadlessOr(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envRangeOr parses "min-max" (e.g. "120ms-220ms") or a single duration,
// which is used for both bounds.
func envRangeOr(key string, fallback Range) Range {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if r, ok := ParseRange(v); ok {
		return r
	}
	return fallback
}

// ParseRange parses "min-max" or a single duration. Bounds are swapped if
// given in reverse order.
func ParseRange(s string) (Range, bool) {
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil || d < 0 {
			return Range{}, false
		}
		return Range{Min: d, Max: d}, true
	}
	minD, err := time.ParseDuration(strings.TrimSpace(lo))
	if err != nil || minD < 0 {
		return Range{}, false
	}
	maxD, err := time.ParseDuration(strings.TrimSpace(hi))
	if err != nil || maxD < 0 {
		return Range{}, false
	}
	if maxD < minD {
		minD, maxD = maxD, minD
	}
	return Range{Min: minD, Max: maxD}, true
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
