package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/ppsr/models"
)

func handleLookup(apiURL, apiKey string) server.ToolHandlerFunc {
	// Long enough for a full lookup including queueing for a session.
	client := &http.Client{Timeout: 10 * time.Minute}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req models.AutomationRequest
		var err error
		if req.Username, err = request.RequireString("username"); err != nil {
			return mcp.NewToolResultError("username is required"), nil
		}
		if req.Password, err = request.RequireString("password"); err != nil {
			return mcp.NewToolResultError("password is required"), nil
		}
		if req.VINNumber, err = request.RequireString("vin_number"); err != nil {
			return mcp.NewToolResultError("vin_number is required"), nil
		}
		if plate := request.GetString("plate_number", ""); plate != "" {
			req.PlateNumber = &plate
		}

		body, err := json.Marshal(req)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal request: %v", err)), nil
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/open_ppsr", bytes.NewReader(body))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create request: %v", err)), nil
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			httpReq.Header.Set("X-API-Key", apiKey)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read response: %v", err)), nil
		}

		var result models.AutomationResult
		if err := json.Unmarshal(respBody, &result); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response (HTTP %d): %v", resp.StatusCode, err)), nil
		}

		if !result.Succeeded() {
			msg := fmt.Sprintf("[%s] %s", result.ErrorCode, result.Message)
			if result.RequestID != "" {
				msg += fmt.Sprintf("\nRequest: %s\nArtifacts: %s", result.RequestID, result.LogsDir)
			}
			return mcp.NewToolResultError(msg), nil
		}

		return mcp.NewToolResultText(formatResult(&result)), nil
	}
}

func formatResult(r *models.AutomationResult) string {
	var b strings.Builder
	if r.PlateNumber != nil {
		fmt.Fprintf(&b, "Registration plate: %s\n", *r.PlateNumber)
	}
	if r.PlateMatches != nil {
		if *r.PlateMatches {
			b.WriteString("Matches the expected plate.\n")
		} else {
			b.WriteString("Does NOT match the expected plate.\n")
		}
	}
	fmt.Fprintf(&b, "\n---\nRequest: %s\nArtifacts: %s\nTrace: %s\nDuration: %s",
		r.RequestID, r.LogsDir, r.TracePath, time.Duration(r.DurationMs)*time.Millisecond)
	return b.String()
}

func handleHealth(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 10 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/health", nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create request: %v", err)), nil
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		defer resp.Body.Close()

		var health models.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf(
			"Status: %s\nUptime: %s\nSessions: %d/%d in use\nPortal profile: %s\nVersion: %s",
			health.Status, health.Uptime,
			health.Sessions.ActiveSessions, health.Sessions.MaxSessions,
			health.ProfileVersion, health.Version,
		)), nil
	}
}
