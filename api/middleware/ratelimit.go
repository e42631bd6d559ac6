package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/ppsr/models"
	"golang.org/x/time/rate"
)

const (
	// limiterIdle is how long an unused bucket is kept.
	limiterIdle = time.Hour

	// limiterSweep is the minimum gap between eviction passes.
	limiterSweep = 5 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key (API key, client IP or portal
// account). Idle buckets are evicted on access, at most once per sweep
// interval, so there is no background goroutine to stop.
//
// A nil *Limiter allows everything.
type Limiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

// NewLimiter returns a limiter refilling each bucket at limit tokens per
// second up to burst.
func NewLimiter(limit rate.Limit, burst int) *Limiter {
	return &Limiter{
		limit:   limit,
		burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether key may proceed now, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Len is the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < limiterSweep {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-limiterIdle)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// RateLimit returns per-caller rate limiting middleware. The caller is the
// API key set by Auth, or the client IP when auth is off.
func RateLimit(l *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.ClientIP()
		if key, ok := c.Get("api_key"); ok {
			identity = "key:" + key.(string)
		}

		if !l.Allow(identity) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.FailureResult(
				models.ErrCodeRateLimited,
				"rate limit exceeded, please slow down",
			))
			return
		}

		c.Next()
	}
}
