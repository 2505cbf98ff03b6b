// Package circuitbreaker stops calling a dependency that keeps failing. It
// wraps sony/gobreaker with config driven settings, Prometheus state metrics
// and a typed Execute.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"hogflow/internal/config"
	"hogflow/pkg/metrics"
)

// ErrOpen is returned while a breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

const (
	defaultMaxRequests  = 3
	defaultInterval     = time.Minute
	defaultTimeout      = time.Minute
	defaultFailureRatio = 0.5
	defaultMinRequests  = 3
)

// Settings configure one breaker. The breaker trips once MinRequests calls
// were made in the current interval and at least FailureRatio of them failed.
type Settings struct {
	Name          string
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration
	FailureRatio  float64
	MinRequests   uint32
	OnStateChange func(name string, from, to gobreaker.State)
}

// SettingsFrom fills every unset field of cfg with the package defaults.
func SettingsFrom(name string, cfg config.CircuitBreakerConfig) Settings {
	s := Settings{
		Name:         name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		FailureRatio: cfg.FailureRatio,
		MinRequests:  cfg.MinRequests,
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = defaultMaxRequests
	}
	if s.Interval <= 0 {
		s.Interval = defaultInterval
	}
	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}
	if s.FailureRatio <= 0 {
		s.FailureRatio = defaultFailureRatio
	}
	if s.MinRequests == 0 {
		s.MinRequests = defaultMinRequests
	}
	return s
}

type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(s Settings) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= s.MinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		// Cancellation by the caller says nothing about the dependency.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			setStateMetric(name, to)
			if s.OnStateChange != nil {
				s.OnStateChange(name, from, to)
			}
		},
	})
	setStateMetric(s.Name, cb.State())
	return &Breaker{cb: cb}
}

// Execute runs fn through b unless ctx is already done. Rejections by an open
// or saturated half-open breaker are reported as ErrOpen.
func Execute[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	v, err := b.cb.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn()
	})

	metrics.CircuitBreakerRequests.WithLabelValues(b.cb.Name(), b.cb.State().String()).Inc()
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return zero, ErrOpen
	case err != nil:
		metrics.CircuitBreakerFailures.WithLabelValues(b.cb.Name()).Inc()
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

func (b *Breaker) Name() string {
	return b.cb.Name()
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Group hands out one breaker per key, created on first use and named
// "<name>:<key>". The fetch bridge keeps a breaker per outbound host.
type Group struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewGroup(s Settings) *Group {
	return &Group{settings: s, breakers: map[string]*Breaker{}}
}

func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[key]; ok {
		return b
	}
	s := g.settings
	s.Name = g.settings.Name + ":" + key
	b := New(s)
	g.breakers[key] = b
	return b
}

func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.breakers)
}

// setStateMetric exports closed as 0, half-open as 1 and open as 2.
func setStateMetric(name string, state gobreaker.State) {
	value := map[gobreaker.State]float64{
		gobreaker.StateClosed:   0,
		gobreaker.StateHalfOpen: 1,
		gobreaker.StateOpen:     2,
	}[state]
	metrics.CircuitBreakerState.WithLabelValues(name).Set(value)
}
