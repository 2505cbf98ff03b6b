package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"hogflow/internal/config"
)

func TestNewDefaults(t *testing.T) {
	l := New(config.RateLimitConfig{})
	assert.EqualValues(t, defaultRPS, l.rps)
	assert.Equal(t, defaultBurst, l.burst)
	assert.Equal(t, defaultCleanupInterval, l.cleanupInterval)
	assert.Equal(t, defaultMaxAge, l.maxAge)
}

func TestAllowPerKey(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := New(config.RateLimitConfig{RPS: 1, Burst: 2})
	l.now = func() time.Time { return now }

	ok, remaining := l.Allow("a")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	ok, _ = l.Allow("a")
	assert.True(t, ok)
	ok, remaining = l.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 0, remaining)

	ok, _ = l.Allow("b")
	assert.True(t, ok, "buckets are independent")

	now = now.Add(time.Second)
	ok, _ = l.Allow("a")
	assert.True(t, ok, "tokens refill over time")
}

func TestCleanupDropsIdleBuckets(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := New(config.RateLimitConfig{MaxAge: 60})
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(50 * time.Second)
	l.Allow("new")
	now = now.Add(20 * time.Second)

	assert.Equal(t, 1, l.cleanup())
	assert.Contains(t, l.buckets, "new")
	assert.NotContains(t, l.buckets, "old")
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := New(config.RateLimitConfig{RPS: 1, Burst: 1}).
		WithKeyFunc(func(c *gin.Context) string { return c.GetHeader("X-Client") })
	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	send := func(client string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Client", client)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, send("a").Code)

	w := send("a")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")

	assert.Equal(t, http.StatusNoContent, send("b").Code)
}
