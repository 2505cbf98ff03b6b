package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hogflow/internal/config"
	"hogflow/internal/constants"
	"hogflow/internal/deduplication"
	"hogflow/pkg/circuitbreaker"
)

func TestRedisClaimStore_ClaimAndRelease(t *testing.T) {
	infra := SetupTestInfra(t, withRedis)

	ctx := context.Background()
	store := deduplication.NewRedisClaimStore(infra.RedisClient)
	key := "test:guard:key1"

	ok, err := store.Claim(ctx, key, "owner-a", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, key, "owner-b", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := store.Release(ctx, key, "owner-b")
	require.NoError(t, err)
	assert.False(t, released, "only the owner releases a claim")

	released, err = store.Release(ctx, key, "owner-a")
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = store.Claim(ctx, key, "owner-b", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisClaimStore_Expiry(t *testing.T) {
	infra := SetupTestInfra(t, withRedis)

	ctx := context.Background()
	store := deduplication.NewRedisClaimStore(infra.RedisClient)
	key := "test:guard:key2"

	ok, err := store.Claim(ctx, key, "owner-a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(2 * time.Second)

	ok, err = store.Claim(ctx, key, "owner-b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGuard_ClaimOncePerEventAndFunction(t *testing.T) {
	infra := SetupTestInfra(t, withRedis)

	ctx := context.Background()
	guard := deduplication.NewGuard(deduplication.NewRedisClaimStore(infra.RedisClient), createTestGuardConfig(), createTestLogger())

	claimed, err := guard.Claim(ctx, "e-1", "fn-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = guard.Claim(ctx, "e-1", "fn-1")
	require.NoError(t, err)
	assert.False(t, claimed, "redelivered event must not run twice")

	claimed, err = guard.Claim(ctx, "e-1", "fn-2")
	require.NoError(t, err)
	assert.True(t, claimed, "other functions still receive the event")

	require.NoError(t, guard.Release(ctx, "e-1", "fn-1"))
	claimed, err = guard.Claim(ctx, "e-1", "fn-1")
	require.NoError(t, err)
	assert.True(t, claimed, "a released claim can be taken again")
}

func TestGuard_RedisDownFallback(t *testing.T) {
	infra := SetupTestInfra(t, withRedis)
	ctx := context.Background()

	store := deduplication.NewRedisClaimStore(infra.RedisClient)
	require.NoError(t, infra.RedisClient.Close())

	allow := deduplication.NewGuard(store, createTestGuardConfig(), createTestLogger())
	claimed, err := allow.Claim(ctx, "e-1", "fn-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	denyCfg := createTestGuardConfig()
	denyCfg.OnRedisError = constants.FallbackDeny
	deny := deduplication.NewGuard(store, denyCfg, createTestLogger())
	claimed, err = deny.Claim(ctx, "e-1", "fn-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	errorCfg := createTestGuardConfig()
	errorCfg.OnRedisError = constants.FallbackError
	strict := deduplication.NewGuard(store, errorCfg, createTestLogger())
	_, err = strict.Claim(ctx, "e-1", "fn-1")
	assert.Error(t, err)
}

func TestClaimStoreCircuitBreaker_OpensOnFailures(t *testing.T) {
	infra := SetupTestInfra(t, withRedis)
	ctx := context.Background()

	store := deduplication.NewRedisClaimStore(infra.RedisClient)
	require.NoError(t, infra.RedisClient.Close())

	wrapped := deduplication.WithCircuitBreaker(store, config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	})

	for i := 0; i < 2; i++ {
		_, err := wrapped.Claim(ctx, "test:guard:cb", "owner", time.Second)
		assert.Error(t, err)
	}
	_, err := wrapped.Claim(ctx, "test:guard:cb", "owner", time.Second)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}
