package deduplication

import (
	"context"
	"fmt"
	"time"

	"hogflow/internal/config"
	"hogflow/pkg/circuitbreaker"
)

const breakerName = "redis-guard"

type breakerStore struct {
	store ClaimStore
	cb    *circuitbreaker.Breaker
}

// WithCircuitBreaker trips after repeated store failures so a dead Redis fails
// claims fast and the guard fallback takes over. It returns store unchanged
// when the breaker is disabled.
func WithCircuitBreaker(store ClaimStore, cfg config.CircuitBreakerConfig) ClaimStore {
	if !cfg.Enabled {
		return store
	}
	return &breakerStore{
		store: store,
		cb:    circuitbreaker.New(circuitbreaker.SettingsFrom(breakerName, cfg)),
	}
}

func (s *breakerStore) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return s.run(ctx, func() (bool, error) {
		return s.store.Claim(ctx, key, owner, ttl)
	})
}

func (s *breakerStore) Release(ctx context.Context, key, owner string) (bool, error) {
	return s.run(ctx, func() (bool, error) {
		return s.store.Release(ctx, key, owner)
	})
}

func (s *breakerStore) run(ctx context.Context, fn func() (bool, error)) (bool, error) {
	ok, err := circuitbreaker.Execute(ctx, s.cb, fn)
	if err != nil {
		return false, fmt.Errorf("%s: %w", breakerName, err)
	}
	return ok, nil
}
