package api

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/ppsr/api/handler"
	"github.com/use-agent/ppsr/api/middleware"
	"github.com/use-agent/ppsr/config"
	"github.com/use-agent/ppsr/webhook"
	"golang.org/x/time/rate"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger (to accessLog)
//	Lookup:  Auth (if enabled) → RateLimit (per caller) → account throttle
//
// Root and health endpoints are intentionally outside auth so monitoring
// checks always work.
func NewRouter(
	lookup handler.Lookup,
	sessions handler.SessionStats,
	notifier *webhook.Notifier,
	cfg *config.Config,
	profileVersion string,
	accessLog io.Writer,
	startTime time.Time,
) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithWriter(accessLog))

	r.GET("/", handler.Root())
	r.GET("/health", handler.Health(sessions, profileVersion, startTime))

	// Protected group: auth + rate limit.
	protected := r.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	callers := middleware.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	protected.Use(middleware.RateLimit(callers))

	var accounts *middleware.Limiter
	if cfg.RateLimit.AccountPerMinute > 0 {
		accounts = middleware.NewLimiter(rate.Limit(cfg.RateLimit.AccountPerMinute/60), cfg.RateLimit.AccountBurst)
	}

	protected.POST("/open_ppsr", handler.OpenPPSR(lookup, accounts, notifier, cfg.Server.StrictStatus))

	return r
}
