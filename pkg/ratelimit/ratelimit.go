package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/accountdesk/accountdesk/pkg/apiresponses"
	"github.com/accountdesk/accountdesk/pkg/config"
	"github.com/accountdesk/accountdesk/pkg/metrics"
)

// Config holds rate limiter configuration
type Config struct {
	// Rate is the number of requests allowed per second
	Rate float64
	// Burst is the maximum number of requests allowed in a burst
	Burst int
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration
	// MaxAge is how long to keep an entry after last access
	MaxAge time.Duration
}

// AuthenticatedConfig holds separate limits for requests with and without a session.
type AuthenticatedConfig struct {
	Unauthenticated Config
	Authenticated   Config
	// UserIdentityKey is the gin context key holding the signed-in user id
	UserIdentityKey string
}

// DefaultAccountConfig limits anonymous account endpoints (register, login,
// password reset) which each may queue an email: 5 req/s per IP, burst of 10.
func DefaultAccountConfig() Config {
	return Config{
		Rate:            5,
		Burst:           10,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// ConfigFrom applies the file config on top of DefaultAccountConfig.
func ConfigFrom(cfg config.RateLimit) Config {
	c := DefaultAccountConfig()
	if cfg.Rate > 0 {
		c.Rate = cfg.Rate
	}
	if cfg.Burst > 0 {
		c.Burst = cfg.Burst
	}
	return c
}

// DefaultAuthenticatedConfig keeps the anonymous limit per IP and gives
// signed-in users 20 req/s, burst of 40.
func DefaultAuthenticatedConfig(anonymous Config) AuthenticatedConfig {
	return AuthenticatedConfig{
		Unauthenticated: anonymous,
		Authenticated: Config{
			Rate:            20,
			Burst:           40,
			CleanupInterval: time.Minute,
			MaxAge:          10 * time.Minute,
		},
		UserIdentityKey: "uid",
	}
}

// entry holds rate limiter and last access time for an IP or user
type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IPRateLimiter implements keyed rate limiting with automatic cleanup.
type IPRateLimiter struct {
	mu      sync.RWMutex
	entries map[string]*entry
	config  Config
	done    chan struct{}
	once    sync.Once
}

// New creates a new per-IP rate limiter with the given configuration
func New(cfg Config) *IPRateLimiter {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}

	rl := &IPRateLimiter{
		entries: make(map[string]*entry),
		config:  cfg,
		done:    make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a request for key should be allowed
func (rl *IPRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.entries[key]
	if !exists {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst),
		}
		rl.entries[key] = e
	}
	e.lastAccess = time.Now()

	return e.limiter.Allow()
}

// Middleware returns a Gin middleware that applies per-IP rate limiting
func (rl *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			reject(c, "Too many requests, please try again later")
			return
		}
		c.Next()
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *IPRateLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *IPRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.cleanupStaleEntries()
		}
	}
}

func (rl *IPRateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.config.MaxAge {
			delete(rl.entries, key)
		}
	}
}

// Len returns the current number of tracked keys
func (rl *IPRateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.entries)
}

func (rl *IPRateLimiter) Config() Config {
	return rl.config
}

// AuthenticatedRateLimiter limits signed-in users by user id and everyone
// else by IP.
type AuthenticatedRateLimiter struct {
	ipLimiter   *IPRateLimiter
	userLimiter *IPRateLimiter
	userKey     string
}

func NewAuthenticated(cfg AuthenticatedConfig) *AuthenticatedRateLimiter {
	if cfg.UserIdentityKey == "" {
		cfg.UserIdentityKey = "uid"
	}

	return &AuthenticatedRateLimiter{
		ipLimiter:   New(cfg.Unauthenticated),
		userLimiter: New(cfg.Authenticated),
		userKey:     cfg.UserIdentityKey,
	}
}

// Allow returns (allowed, isAuthenticated).
func (arl *AuthenticatedRateLimiter) Allow(c *gin.Context) (bool, bool) {
	if userID := c.GetString(arl.userKey); userID != "" {
		return arl.userLimiter.Allow(userID), true
	}
	return arl.ipLimiter.Allow(c.ClientIP()), false
}

// Middleware must run after the session middleware so the user id is set.
func (arl *AuthenticatedRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, isAuthenticated := arl.Allow(c)
		if !allowed {
			msg := "Too many requests, please try again later"
			if !isAuthenticated {
				msg = "Too many requests. Please sign in for higher limits."
			}
			reject(c, msg)
			return
		}
		c.Next()
	}
}

func (arl *AuthenticatedRateLimiter) Stop() {
	arl.ipLimiter.Stop()
	arl.userLimiter.Stop()
}

func (arl *AuthenticatedRateLimiter) IPLen() int {
	return arl.ipLimiter.Len()
}

func (arl *AuthenticatedRateLimiter) UserLen() int {
	return arl.userLimiter.Len()
}

func reject(c *gin.Context, msg string) {
	metrics.RateLimited.WithLabelValues(c.FullPath()).Inc()
	c.AbortWithStatusJSON(http.StatusTooManyRequests, apiresponses.APIError{
		Error: msg,
		Code:  apiresponses.CodeRateLimited,
	})
}
