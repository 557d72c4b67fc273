// ratelimit.go provides Gin middleware that enforces per-client token-bucket
// rate limits, returning 429 when the requests-per-minute threshold is
// exceeded.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DecisionRecordsORG/decision-records/internal/config"
)

// RateLimitConfig holds configuration for a rate limiter instance.
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
	// CleanupInterval is how often idle client entries are evicted.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns limits for general API traffic.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50,
		CleanupInterval:   5 * time.Minute,
	}
}

// AuthRateLimitConfig returns stricter limits for the sign-in and ceremony
// endpoints, where every request may cost a bcrypt comparison or an upstream
// identity-provider round trip.
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimitFromConfig maps the security.rate_limiting section onto a limiter
// config, falling back to defaults for unset values.
func RateLimitFromConfig(cfg config.RateLimitingConfig) RateLimitConfig {
	out := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute > 0 {
		out.RequestsPerMinute = cfg.RequestsPerMinute
	}
	if cfg.Burst > 0 {
		out.BurstSize = cfg.Burst
	}
	return out
}

type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements a token-bucket limiter keyed by client identity.
type RateLimiter struct {
	config  RateLimitConfig
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	stopCh  chan struct{}
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  cfg,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, entry := range rl.entries {
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Allow reports whether a request from the given key should proceed, and the
// number of tokens remaining after the decision.
func (rl *RateLimiter) Allow(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.entries[key]
	if !exists {
		rl.entries[key] = &rateLimitEntry{
			tokens:     float64(rl.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true, rl.config.BurstSize - 1
	}

	refill := now.Sub(entry.lastUpdate).Seconds() * float64(rl.config.RequestsPerMinute) / 60.0
	entry.tokens = min(float64(rl.config.BurstSize), entry.tokens+refill)
	entry.lastUpdate = now

	if entry.tokens < 1 {
		return false, 0
	}
	entry.tokens--
	return true, int(entry.tokens)
}

// RateLimit enforces the limiter per client. Authenticated requests are keyed
// by user or API key id so NAT'd colleagues do not share a bucket; everything
// else falls back to the client IP.
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rateLimitKey(c)

		allowed, remaining := limiter.Allow(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			return
		}
		c.Next()
	}
}

func rateLimitKey(c *gin.Context) string {
	if p := CurrentPrincipal(c); p != nil {
		switch {
		case p.APIKey != nil:
			return "apikey:" + p.APIKey.ID
		case p.User != nil:
			return "user:" + p.User.ID
		case p.Master != nil:
			return "master:" + p.Master.ID
		}
	}
	if ip := c.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + c.Request.RemoteAddr
}
