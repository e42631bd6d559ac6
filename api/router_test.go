package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/ppsr/config"
	"github.com/use-agent/ppsr/models"
)

type fakeLookup struct {
	mu     sync.Mutex
	got    []models.AutomationRequest
	result func(req *models.AutomationRequest) *models.AutomationResult
}

func (f *fakeLookup) Run(ctx context.Context, req *models.AutomationRequest) *models.AutomationResult {
	f.mu.Lock()
	f.got = append(f.got, *req)
	f.mu.Unlock()
	return f.result(req)
}

type fakeStats struct{ stats models.SessionStats }

func (f fakeStats) Stats() models.SessionStats { return f.stats }

func succeed(req *models.AutomationRequest) *models.AutomationResult {
	plate := "ABC123"
	return &models.AutomationResult{
		Status:      models.StatusSuccess,
		Message:     "Registration plate extracted",
		PlateNumber: &plate,
		RequestID:   "a1b2c3d4",
		LogsDir:     "/tmp/logs/a1b2c3d4",
		TracePath:   "/tmp/logs/a1b2c3d4/trace-a1b2c3d4.zip",
	}
}

func failAt(step, code string) func(*models.AutomationRequest) *models.AutomationResult {
	return func(req *models.AutomationRequest) *models.AutomationResult {
		return &models.AutomationResult{
			Status:     models.StatusFailure,
			Message:    step + ": login was not accepted",
			RequestID:  "a1b2c3d4",
			FailedStep: step,
			ErrorCode:  code,
		}
	}
}

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.Server.Mode = "test"
	cfg.RateLimit.RequestsPerSecond = 1000
	cfg.RateLimit.Burst = 1000
	cfg.RateLimit.AccountPerMinute = 60000
	cfg.RateLimit.AccountBurst = 1000
	return cfg
}

func newTestRouter(cfg *config.Config, lookup *fakeLookup) http.Handler {
	return NewRouter(lookup, fakeStats{models.SessionStats{MaxSessions: 4, ActiveSessions: 1}},
		nil, cfg, "test-profile", io.Discard, time.Now())
}

func postLookup(t *testing.T, h http.Handler, body string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/open_ppsr", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w, out
}

const validBody = `{"username":"jdoe","password":"hunter22","vin_number":" 1hgcm82633a123456 ","plate_number":"abc123"}`

func TestRoot(t *testing.T) {
	h := newTestRouter(testConfig(), &fakeLookup{result: succeed})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"PPSR Automation API is running"}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	h := newTestRouter(testConfig(), &fakeLookup{result: succeed})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test-profile", resp.ProfileVersion)
	assert.Equal(t, 4, resp.Sessions.MaxSessions)
	assert.Equal(t, 1, resp.Sessions.ActiveSessions)
}

func TestOpenPPSR_Success(t *testing.T) {
	lookup := &fakeLookup{result: succeed}
	h := newTestRouter(testConfig(), lookup)

	w, out := postLookup(t, h, validBody, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "ABC123", out["plate_number"])
	assert.Equal(t, "a1b2c3d4", out["request_id"])
	assert.Contains(t, out, "logs_dir")
	assert.Contains(t, out, "trace_path")

	require.Len(t, lookup.got, 1)
	assert.Equal(t, "1HGCM82633A123456", lookup.got[0].VINNumber)
	require.NotNil(t, lookup.got[0].PlateNumber)
	assert.Equal(t, "ABC123", *lookup.got[0].PlateNumber)
}

func TestOpenPPSR_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"username":`},
		{"missing vin", `{"username":"jdoe","password":"hunter22"}`},
		{"blank vin", `{"username":"jdoe","password":"hunter22","vin_number":"   "}`},
		{"vin too long", `{"username":"jdoe","password":"hunter22","vin_number":"` + string(bytes.Repeat([]byte("A"), 40)) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &fakeLookup{result: succeed}
			h := newTestRouter(testConfig(), lookup)

			w, out := postLookup(t, h, tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "failure", out["status"])
			assert.Equal(t, models.ErrCodeInvalidInput, out["error_code"])
			assert.Nil(t, out["plate_number"])
			assert.NotContains(t, w.Body.String(), "hunter22")
			assert.Empty(t, lookup.got)
		})
	}
}

func TestOpenPPSR_FailureStatus(t *testing.T) {
	t.Run("lenient", func(t *testing.T) {
		h := newTestRouter(testConfig(), &fakeLookup{result: failAt("post_login", models.ErrCodeAuthentication)})

		w, out := postLookup(t, h, validBody, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "failure", out["status"])
		assert.Equal(t, "post_login", out["failed_step"])
		assert.Nil(t, out["plate_number"])
	})

	t.Run("strict", func(t *testing.T) {
		cfg := testConfig()
		cfg.Server.StrictStatus = true
		h := newTestRouter(cfg, &fakeLookup{result: failAt("post_login", models.ErrCodeAuthentication)})

		w, out := postLookup(t, h, validBody, nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, models.ErrCodeAuthentication, out["error_code"])
	})

	t.Run("strict success stays 200", func(t *testing.T) {
		cfg := testConfig()
		cfg.Server.StrictStatus = true
		h := newTestRouter(cfg, &fakeLookup{result: succeed})

		w, _ := postLookup(t, h, validBody, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestOpenPPSR_Auth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKeys = []string{"k-123"}
	h := newTestRouter(cfg, &fakeLookup{result: succeed})

	w, out := postLookup(t, h, validBody, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, models.ErrCodeUnauthorized, out["error_code"])

	w, _ = postLookup(t, h, validBody, http.Header{"X-Api-Key": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = postLookup(t, h, validBody, http.Header{"X-Api-Key": {"k-123"}})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = postLookup(t, h, validBody, http.Header{"Authorization": {"Bearer k-123"}})
	assert.Equal(t, http.StatusOK, w.Code)

	// health stays open
	hw := httptest.NewRecorder()
	h.ServeHTTP(hw, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, hw.Code)
}

func TestOpenPPSR_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RequestsPerSecond = 0.001
	cfg.RateLimit.Burst = 1
	h := newTestRouter(cfg, &fakeLookup{result: succeed})

	w, _ := postLookup(t, h, validBody, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, out := postLookup(t, h, validBody, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, models.ErrCodeRateLimited, out["error_code"])
}

func TestOpenPPSR_AccountThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.AccountPerMinute = 0.001
	cfg.RateLimit.AccountBurst = 1
	lookup := &fakeLookup{result: succeed}
	h := newTestRouter(cfg, lookup)

	w, _ := postLookup(t, h, validBody, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// same account, different case and padding
	again := `{"username":" JDoe ","password":"other","vin_number":"1HGCM82633A123456"}`
	w, out := postLookup(t, h, again, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, models.ErrCodeRateLimited, out["error_code"])
	assert.NotContains(t, w.Body.String(), "JDoe")

	other := `{"username":"asmith","password":"hunter22","vin_number":"1HGCM82633A123456"}`
	w, _ = postLookup(t, h, other, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Len(t, lookup.got, 2)
}

func TestOpenPPSR_AccountThrottleDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.AccountPerMinute = 0
	h := newTestRouter(cfg, &fakeLookup{result: succeed})

	for i := 0; i < 3; i++ {
		w, _ := postLookup(t, h, validBody, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
