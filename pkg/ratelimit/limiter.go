// Package ratelimit throttles management API callers with one token bucket
// per client.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"hogflow/internal/config"
	apperrors "hogflow/pkg/errors"
	"hogflow/pkg/metrics"
)

const (
	defaultRPS             = 10.0
	defaultBurst           = 20
	defaultCleanupInterval = 5 * time.Minute
	defaultMaxAge          = 10 * time.Minute
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ClientIP charges requests to the client address.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return c.RemoteIP()
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Limiter struct {
	rps             rate.Limit
	burst           int
	cleanupInterval time.Duration
	maxAge          time.Duration
	key             KeyFunc
	now             func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New builds a limiter from cfg; unset values fall back to 10 rps with a burst
// of 20, dropping buckets idle for ten minutes.
func New(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{
		rps:             rate.Limit(cfg.RPS),
		burst:           cfg.Burst,
		cleanupInterval: time.Duration(cfg.CleanupInterval) * time.Second,
		maxAge:          time.Duration(cfg.MaxAge) * time.Second,
		key:             ClientIP,
		now:             time.Now,
		buckets:         make(map[string]*bucket),
	}
	if l.rps <= 0 {
		l.rps = defaultRPS
	}
	if l.burst <= 0 {
		l.burst = defaultBurst
	}
	if l.cleanupInterval <= 0 {
		l.cleanupInterval = defaultCleanupInterval
	}
	if l.maxAge <= 0 {
		l.maxAge = defaultMaxAge
	}
	return l
}

func (l *Limiter) WithKeyFunc(fn KeyFunc) *Limiter {
	l.key = fn
	return l
}

// Allow takes a token from key's bucket, reporting whether one was available
// and how many remain.
func (l *Limiter) Allow(key string) (bool, int) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	now := l.now()
	b.lastSeen = now
	l.mu.Unlock()

	allowed := b.limiter.AllowN(now, 1)
	remaining := int(math.Floor(b.limiter.TokensAt(now)))
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

// Run drops idle buckets until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *Limiter) cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.maxAge)
	dropped := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			dropped++
		}
	}
	return dropped
}

func (l *Limiter) Middleware() gin.HandlerFunc {
	limit := strconv.FormatFloat(float64(l.rps), 'f', -1, 64)
	return func(c *gin.Context) {
		allowed, remaining := l.Allow(l.key(c))
		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apperrors.ToErrorResponse(apperrors.ErrRateLimited))
			return
		}
		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		c.Next()
	}
}
