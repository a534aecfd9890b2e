// Package floodguard is a coarse per-IP token bucket that sits in front of
// every route. It protects the process; the submission rate limit in
// internal/ratelimit is the per-identity business rule.
package floodguard

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"formgate/internal/config"
	apperrors "formgate/pkg/errors"
	"formgate/pkg/metrics"
	"formgate/pkg/middleware"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

type Guard struct {
	cfg     config.FloodGuardConfig
	buckets map[string]*bucket
	mu      sync.RWMutex
	now     func() time.Time
}

func DefaultConfig() config.FloodGuardConfig {
	return config.FloodGuardConfig{
		Enabled:         true,
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

func New(cfg config.FloodGuardConfig) *Guard {
	def := DefaultConfig()
	if cfg.RPS <= 0 {
		cfg.RPS = def.RPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}

	return &Guard{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Run evicts idle buckets until ctx is cancelled.
func (g *Guard) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.evict()
		}
	}
}

func (g *Guard) evict() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for ip, b := range g.buckets {
		b.mu.Lock()
		lastSeen := b.lastSeen
		b.mu.Unlock()
		if now.Sub(lastSeen) > g.cfg.MaxAge {
			delete(g.buckets, ip)
			removed++
		}
	}
	return removed
}

func (g *Guard) bucketFor(ip string) *bucket {
	g.mu.RLock()
	b, exists := g.buckets[ip]
	g.mu.RUnlock()

	if !exists {
		g.mu.Lock()
		b, exists = g.buckets[ip]
		if !exists {
			b = &bucket{
				limiter:  rate.NewLimiter(rate.Limit(g.cfg.RPS), g.cfg.Burst),
				lastSeen: g.now(),
			}
			g.buckets[ip] = b
		}
		g.mu.Unlock()
	}
	return b
}

func (g *Guard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.buckets)
}

func (g *Guard) Middleware() gin.HandlerFunc {
	limit := strconv.Itoa(int(g.cfg.RPS))

	return func(c *gin.Context) {
		b := g.bucketFor(middleware.ClientIP(c))

		now := g.now()
		b.mu.Lock()
		b.lastSeen = now
		allowed := b.limiter.AllowN(now, 1)
		remaining := int(b.limiter.TokensAt(now))
		b.mu.Unlock()

		c.Header("X-RateLimit-Limit", limit)

		if !allowed {
			metrics.FloodGuardRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apperrors.ToErrorResponse(apperrors.ErrRateLimited))
			return
		}

		metrics.FloodGuardRequestsTotal.WithLabelValues("allowed").Inc()
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}
