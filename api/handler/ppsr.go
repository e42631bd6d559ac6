package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/ppsr/models"
	"github.com/use-agent/ppsr/webhook"
)

// Lookup runs one PPSR lookup. *workflow.Runner implements it.
type Lookup interface {
	Run(ctx context.Context, req *models.AutomationRequest) *models.AutomationResult
}

// AccountThrottle limits lookups per portal account. *middleware.Limiter
// implements it.
type AccountThrottle interface {
	Allow(key string) bool
}

// OpenPPSR returns a handler for POST /open_ppsr.
//
// Orchestration flow:
//  1. Parse & validate request, normalise VIN and plate.
//  2. Throttle per portal account.
//  3. Lookup.Run → result (never an error; failures are results).
//  4. Notify the webhook, if configured.
//  5. Respond: 200 for every result, or the mapped status when strict.
//
// The lookup is detached from the client connection: once started it runs
// to completion, bounded only by its own step timeouts, so the request
// directory and trace are always complete.
func OpenPPSR(lookup Lookup, accounts AccountThrottle, notifier *webhook.Notifier, strict bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		// ── 1. Parse request ────────────────────────────────────────
		var req models.AutomationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.FailureResult(
				models.ErrCodeInvalidInput,
				"invalid request: "+err.Error(),
			))
			return
		}
		req.Normalize()
		if strings.TrimSpace(req.Username) == "" || req.VINNumber == "" {
			c.JSON(http.StatusBadRequest, models.FailureResult(
				models.ErrCodeInvalidInput,
				"invalid request: username and vin_number must not be blank",
			))
			return
		}

		// ── 2. Account throttle ─────────────────────────────────────
		if accounts != nil && !accounts.Allow(accountKey(req.Username)) {
			c.JSON(http.StatusTooManyRequests, models.FailureResult(
				models.ErrCodeRateLimited,
				"too many lookups for this portal account, try again later",
			))
			return
		}

		// ── 3. Run ──────────────────────────────────────────────────
		result := lookup.Run(context.WithoutCancel(c.Request.Context()), &req)

		// ── 4. Notify ───────────────────────────────────────────────
		notifier.Notify(result)

		// ── 5. Respond ──────────────────────────────────────────────
		status := http.StatusOK
		if strict && !result.Succeeded() {
			status = mapErrorToStatus(result.ErrorCode)
		}
		c.JSON(status, result)
	}
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(code string) int {
	switch code {
	case models.ErrCodeNavigation, models.ErrCodeFormInteraction:
		return http.StatusBadGateway // 502
	case models.ErrCodeAuthentication:
		return http.StatusUnauthorized // 401
	case models.ErrCodeExtraction:
		return http.StatusNotFound // 404
	case models.ErrCodeCapacity:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	default:
		return http.StatusInternalServerError // 500
	}
}

// accountKey identifies a portal account without holding its username.
func accountKey(username string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(username))))
	return hex.EncodeToString(sum[:])
}
