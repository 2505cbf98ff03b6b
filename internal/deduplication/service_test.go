package deduplication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hogflow/internal/config"
	"hogflow/internal/constants"
	"hogflow/internal/logger"
	"hogflow/pkg/circuitbreaker"
)

type claim struct {
	owner string
	ttl   time.Duration
}

type memoryStore struct {
	mu     sync.Mutex
	claims map[string]claim
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{claims: map[string]claim{}}
}

func (s *memoryStore) Claim(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.claims[key]; ok {
		return false, nil
	}
	s.claims[key] = claim{owner: owner, ttl: ttl}
	return true, nil
}

func (s *memoryStore) Release(_ context.Context, key, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if c, ok := s.claims[key]; !ok || c.owner != owner {
		return false, nil
	}
	delete(s.claims, key)
	return true, nil
}

func guardConfig() config.DeduplicationConfig {
	return config.DeduplicationConfig{Enabled: true, HashAlgorithm: "sha256", TTLSeconds: 300}
}

func TestGuardClaim(t *testing.T) {
	store := newMemoryStore()
	g := NewGuard(store, guardConfig(), logger.NopLogger())
	ctx := context.Background()

	ok, err := g.Claim(ctx, "event-1", "fn-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, "event-1", "fn-1")
	require.NoError(t, err)
	assert.False(t, ok, "second claim of the same invocation")

	ok, err = g.Claim(ctx, "event-1", "fn-2")
	require.NoError(t, err)
	assert.True(t, ok, "same event for another function")

	require.Len(t, store.claims, 2)
	for key, c := range store.claims {
		assert.Contains(t, key, constants.CacheKeyPrefixGuard)
		assert.Equal(t, 300*time.Second, c.ttl)
		assert.Equal(t, g.owner, c.owner)
	}
}

func TestGuardRelease(t *testing.T) {
	g := NewGuard(newMemoryStore(), guardConfig(), logger.NopLogger())
	ctx := context.Background()

	ok, err := g.Claim(ctx, "event-1", "fn-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, g.Release(ctx, "event-1", "fn-1"))

	ok, err = g.Claim(ctx, "event-1", "fn-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGuardReleaseKeepsOtherOwnersClaim(t *testing.T) {
	store := newMemoryStore()
	first := NewGuard(store, guardConfig(), logger.NopLogger())
	second := NewGuard(store, guardConfig(), logger.NopLogger())
	ctx := context.Background()

	ok, err := first.Claim(ctx, "event-1", "fn-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, second.Release(ctx, "event-1", "fn-1"))

	ok, err = second.Claim(ctx, "event-1", "fn-1")
	require.NoError(t, err)
	assert.False(t, ok, "claim of the first guard survives")
}

func TestGuardDisabled(t *testing.T) {
	store := newMemoryStore()
	g := NewGuard(store, config.DeduplicationConfig{}, logger.NopLogger())

	for i := 0; i < 2; i++ {
		ok, err := g.Claim(context.Background(), "event-1", "fn-1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Empty(t, store.claims)

	var nilGuard *Guard
	ok, err := nilGuard.Claim(context.Background(), "event-1", "fn-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, nilGuard.Release(context.Background(), "event-1", "fn-1"))
}

func TestGuardRedisErrorFallback(t *testing.T) {
	tests := []struct {
		name     string
		fallback string
		want     bool
		wantErr  bool
	}{
		{"allow", constants.FallbackAllow, true, false},
		{"deny", constants.FallbackDeny, false, false},
		{"error", constants.FallbackError, false, true},
		{"unset", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			store.err = errors.New("connection refused")
			cfg := guardConfig()
			cfg.OnRedisError = tt.fallback

			ok, err := NewGuard(store, cfg, logger.NopLogger()).Claim(context.Background(), "event-1", "fn-1")
			if tt.wantErr {
				assert.ErrorIs(t, err, store.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestKeyFunc(t *testing.T) {
	for _, algo := range []string{"sha256", "sha1", "MD5", ""} {
		key := keyFunc(algo)
		assert.NotEqual(t, key("ab", "c"), key("a", "bc"), algo)
		assert.Equal(t, key("ab", "c"), key("ab", "c"), algo)
	}

	assert.Len(t, keyFunc("md5")("e", "f"), len(constants.CacheKeyPrefixGuard)+32)
	assert.Equal(t, keyFunc("sha256")("e", "f"), keyFunc("")("e", "f"))
}

func TestWithCircuitBreaker(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("connection refused")
	wrapped := WithCircuitBreaker(store, config.CircuitBreakerConfig{
		Enabled:      true,
		FailureRatio: 0.5,
		MinRequests:  2,
		Timeout:      time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := wrapped.Claim(ctx, "k", "owner", time.Minute)
		require.ErrorIs(t, err, store.err)
	}

	_, err := wrapped.Claim(ctx, "k", "owner", time.Minute)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)

	plain := newMemoryStore()
	assert.Same(t, plain, WithCircuitBreaker(plain, config.CircuitBreakerConfig{}))
}
