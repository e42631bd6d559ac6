package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/ppsr/models"
)

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args

	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return res, text.Text
}

func TestHandleLookup_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/open_ppsr", r.URL.Path)
		assert.Equal(t, "k-1", r.Header.Get("X-API-Key"))

		var req models.AutomationRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "jdoe", req.Username)
		assert.Equal(t, "1HGCM82633A123456", req.VINNumber)
		if assert.NotNil(t, req.PlateNumber) {
			assert.Equal(t, "ABC123", *req.PlateNumber)
		}

		plate, matches := "ABC123", true
		_ = json.NewEncoder(w).Encode(models.AutomationResult{
			Status:       models.StatusSuccess,
			PlateNumber:  &plate,
			PlateMatches: &matches,
			RequestID:    "a1b2c3d4",
			LogsDir:      "/logs/a1b2c3d4",
			DurationMs:   42000,
		})
	}))
	defer srv.Close()

	res, text := callTool(t, handleLookup(srv.URL, "k-1"), map[string]any{
		"username":     "jdoe",
		"password":     "hunter22",
		"vin_number":   "1HGCM82633A123456",
		"plate_number": "ABC123",
	})

	assert.False(t, res.IsError)
	assert.Contains(t, text, "Registration plate: ABC123")
	assert.Contains(t, text, "Matches the expected plate.")
	assert.Contains(t, text, "Request: a1b2c3d4")
	assert.Contains(t, text, "Duration: 42s")
}

func TestHandleLookup_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.AutomationResult{
			Status:     models.StatusFailure,
			Message:    "post_login: login was not accepted",
			RequestID:  "a1b2c3d4",
			FailedStep: "post_login",
			ErrorCode:  models.ErrCodeAuthentication,
		})
	}))
	defer srv.Close()

	res, text := callTool(t, handleLookup(srv.URL, ""), map[string]any{
		"username":   "jdoe",
		"password":   "hunter22",
		"vin_number": "1HGCM82633A123456",
	})

	assert.True(t, res.IsError)
	assert.Contains(t, text, "[AUTHENTICATION_FAILED] post_login: login was not accepted")
}

func TestHandleLookup_MissingArgument(t *testing.T) {
	res, text := callTool(t, handleLookup("http://127.0.0.1:1", ""), map[string]any{
		"username": "jdoe",
		"password": "hunter22",
	})

	assert.True(t, res.IsError)
	assert.Equal(t, "vin_number is required", text)
}

func TestHandleHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(models.HealthResponse{
			Status:         "healthy",
			Uptime:         "1m0s",
			Sessions:       models.SessionStats{MaxSessions: 4, ActiveSessions: 1},
			ProfileVersion: "2025.1",
			Version:        "0.1.0",
		})
	}))
	defer srv.Close()

	res, text := callTool(t, handleHealth(srv.URL), nil)

	assert.False(t, res.IsError)
	assert.Contains(t, text, "Sessions: 1/4 in use")
	assert.Contains(t, text, "Portal profile: 2025.1")
}
