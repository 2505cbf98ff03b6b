package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"hogflow/internal/config"
)

// Policy bounds the attempts of an operation. Zero fields take the values of
// DefaultPolicy.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

// PolicyFromConfig fills the unset fields of cfg from DefaultPolicy.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		p.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		p.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.MaxElapsedTime > 0 {
		p.MaxElapsedTime = cfg.MaxElapsedTime
	}
	return p
}

// BackOff returns the exponential schedule of p, capped at MaxAttempts-1
// retries. A zero MaxElapsedTime leaves only the attempt cap.
func (p Policy) BackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialInterval),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithMultiplier(p.Multiplier),
		backoff.WithMaxElapsedTime(p.MaxElapsedTime),
	)
	return backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1))
}

// FatalError marks an error that no further attempt can fix, such as a
// message that does not decode.
type FatalError interface {
	error
	IsFatal() bool
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) IsFatal() bool { return true }
func (e *fatalError) Unwrap() error { return e.err }

func NewFatalError(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

func IsFatal(err error) bool {
	var fatal FatalError
	return errors.As(err, &fatal) && fatal.IsFatal()
}

// OnRetry is told about every failed attempt that will be retried.
type OnRetry func(attempt int, err error, nextDelay time.Duration)

// Do calls fn until it succeeds, returns a fatal error, ctx is done or the
// policy is exhausted. The last error is returned.
func Do(ctx context.Context, policy Policy, fn func() error, onRetry OnRetry) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}

	b := backoff.WithContext(policy.BackOff(), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err != nil && IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, next time.Duration) {
		if onRetry != nil {
			onRetry(attempt, err, next)
		}
	})
}
