// Package retry is the single retry combinator used by every remote call site.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Delay produces the wait schedule between attempts
type Delay func() backoff.BackOff

// Fixed waits d between attempts. Ledger confirmation loops use it.
func Fixed(d time.Duration) Delay {
	return func() backoff.BackOff {
		return backoff.NewConstantBackOff(d)
	}
}

// Exponential starts at base and doubles per attempt, capped at max when max > 0.
// External quote and bridge calls use it.
func Exponential(base, max time.Duration) Delay {
	return func() backoff.BackOff {
		opts := []backoff.ExponentialBackOffOpts{
			backoff.WithInitialInterval(base),
			backoff.WithMultiplier(2),
			backoff.WithRandomizationFactor(0),
			backoff.WithMaxElapsedTime(0),
		}
		if max > 0 {
			opts = append(opts, backoff.WithMaxInterval(max))
		}
		return backoff.NewExponentialBackOff(opts...)
	}
}

// Policy describes how one call site retries
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean one attempt.
	MaxAttempts int
	Delay       Delay
	// Retryable decides whether a failure is worth another attempt. Nil retries everything.
	Retryable func(error) bool
	// OnRetry is called before each wait with the failed attempt number (1-based).
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Do calls fn until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts, or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// DoValue is Do for functions that produce a value
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	if delay == nil {
		delay = Fixed(0)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(delay(), uint64(attempts-1)), ctx)

	attempt := 0
	var lastErr error
	op := func() (T, error) {
		attempt++
		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
	}

	v, err := backoff.RetryNotifyWithData(op, b, notify)
	if err != nil && lastErr != nil && errors.Is(err, ctx.Err()) {
		// context ended between attempts; keep the domain error visible
		return v, errors.Join(lastErr, err)
	}
	return v, err
}
