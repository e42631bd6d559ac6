package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/ppsr/models"
)

// Version is reported by GET /health.
const Version = "0.1.0"

// SessionStats reports browser session usage. *session.Manager implements it.
type SessionStats interface {
	Stats() models.SessionStats
}

// Root returns a handler for GET /.
func Root() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.RootResponse{Message: "PPSR Automation API is running"})
	}
}

// Health returns a handler for GET /health.
//
// Reports session utilisation and degrades status when every session slot
// is taken, i.e. new lookups would queue.
func Health(sessions SessionStats, profileVersion string, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := sessions.Stats()

		status := "healthy"
		if stats.MaxSessions > 0 && stats.ActiveSessions >= stats.MaxSessions {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:         status,
			Uptime:         time.Since(startTime).Round(time.Second).String(),
			Sessions:       stats,
			ProfileVersion: profileVersion,
			Version:        Version,
		})
	}
}
