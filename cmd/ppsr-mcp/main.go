package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	apiURL := os.Getenv("PPSR_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8000"
	}
	// Optional: only needed when the API runs with PPSR_AUTH_ENABLED.
	apiKey := os.Getenv("PPSR_API_KEY")

	s := server.NewMCPServer(
		"ppsr",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	lookupTool := mcp.NewTool("ppsr_lookup",
		mcp.WithDescription("Log in to the PPSR portal with the given account, search a vehicle by VIN and return its registration plate. Takes 30-90 seconds; a browser drives the portal like a person would."),
		mcp.WithString("username",
			mcp.Required(),
			mcp.Description("PPSR portal account username"),
		),
		mcp.WithString("password",
			mcp.Required(),
			mcp.Description("PPSR portal account password"),
		),
		mcp.WithString("vin_number",
			mcp.Required(),
			mcp.Description("17-character vehicle identification number"),
		),
		mcp.WithString("plate_number",
			mcp.Description("Expected registration plate; when given the result says whether it matches"),
		),
	)
	s.AddTool(lookupTool, handleLookup(apiURL, apiKey))

	healthTool := mcp.NewTool("ppsr_health",
		mcp.WithDescription("Report whether the PPSR automation service is up and how many browser sessions are in use."),
	)
	s.AddTool(healthTool, handleHealth(apiURL))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
