package deduplication

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hogflow/internal/config"
	"hogflow/internal/constants"
	"hogflow/internal/logger"
	"hogflow/pkg/metrics"
	"hogflow/pkg/tracing"
)

const (
	resultClaimed   = "claimed"
	resultDuplicate = "duplicate"
	resultError     = "error"
	resultDisabled  = "disabled"
)

// Guard makes sure an event is delivered to a function at most once while its
// claim lives, so a redelivered Kafka message does not repeat outbound calls.
type Guard struct {
	store  ClaimStore
	key    func(eventUUID, functionID string) string
	owner  string
	ttl    time.Duration
	cfg    config.DeduplicationConfig
	logger logger.Logger
}

func NewGuard(store ClaimStore, cfg config.DeduplicationConfig, log logger.Logger) *Guard {
	if cfg.TTLSeconds <= 0 {
		cfg.TTLSeconds = constants.DefaultGuardTTLSeconds
	}
	cfg.OnRedisError = strings.ToLower(cfg.OnRedisError)
	return &Guard{
		store:  store,
		key:    keyFunc(cfg.HashAlgorithm),
		owner:  uuid.NewString(),
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
		cfg:    cfg,
		logger: log,
	}
}

// Claim reports whether the caller owns the (event, function) invocation. A
// disabled guard claims everything.
func (g *Guard) Claim(ctx context.Context, eventUUID, functionID string) (bool, error) {
	if g == nil || !g.cfg.Enabled {
		metrics.InvocationGuardTotal.WithLabelValues(resultDisabled).Inc()
		return true, nil
	}

	ctx, span := tracing.GetTracer("destination-service").Start(ctx, "guard.claim")
	defer span.End()

	claimed, err := g.store.Claim(ctx, g.key(eventUUID, functionID), g.owner, g.ttl)
	if err != nil {
		metrics.InvocationGuardTotal.WithLabelValues(resultError).Inc()
		return g.fallback(ctx, err, eventUUID, functionID)
	}

	if claimed {
		metrics.InvocationGuardTotal.WithLabelValues(resultClaimed).Inc()
	} else {
		metrics.InvocationGuardTotal.WithLabelValues(resultDuplicate).Inc()
	}
	return claimed, nil
}

// Release gives a claim back, used when the invocation failed before anything
// left the process and should run again on redelivery. Claims taken by other
// processes are left alone.
func (g *Guard) Release(ctx context.Context, eventUUID, functionID string) error {
	if g == nil || !g.cfg.Enabled {
		return nil
	}
	released, err := g.store.Release(ctx, g.key(eventUUID, functionID), g.owner)
	if err != nil {
		return err
	}
	if !released {
		g.logger.DebugwCtx(ctx, "Guard claim already gone on release",
			"event_uuid", eventUUID,
			"function_id", functionID,
		)
	}
	return nil
}

func (g *Guard) fallback(ctx context.Context, err error, eventUUID, functionID string) (bool, error) {
	var allow bool
	switch g.cfg.OnRedisError {
	case constants.FallbackAllow:
		allow = true
	case constants.FallbackDeny:
		allow = false
	default:
		return false, fmt.Errorf("invocation guard for event %s: %w", eventUUID, err)
	}

	strategy := "deny_on_error"
	if allow {
		strategy = "allow_on_error"
	}
	metrics.FallbackUsageTotal.WithLabelValues("invocation_guard", strategy, "redis").Inc()
	g.logger.WarnwCtx(ctx, "Invocation guard unavailable, using fallback",
		"fallback", g.cfg.OnRedisError,
		"error", err,
		"event_uuid", eventUUID,
		"function_id", functionID,
	)
	return allow, nil
}
