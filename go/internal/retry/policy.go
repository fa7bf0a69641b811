// Package retry runs an operation under a bounded backoff policy. It is the single
// retry primitive shared by registration, canonical resync and mutation confirmation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrExhausted is returned when every attempt of a policy failed
var ErrExhausted = errors.New("retry budget exhausted")

// Policy describes how many attempts to make and how long to wait between them.
// The wait before attempt n (n >= 2) is BaseDelay * Multiplier^(n-2) when Linear is false,
// and BaseDelay * (n-1) when Linear is true.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Linear      bool
}

// Linear returns a policy waiting base, 2*base, 3*base... between attempts
func Linear(attempts int, base time.Duration) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: base, Multiplier: 1, Linear: true}
}

// Exponential returns a policy multiplying the delay by multiplier after every attempt
func Exponential(attempts int, base time.Duration, multiplier float64) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: base, Multiplier: multiplier}
}

// Once never retries
func Once() Policy {
	return Policy{MaxAttempts: 1}
}

// Delay returns the wait before the given 1-based attempt
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.BaseDelay <= 0 {
		return 0
	}
	if p.Linear {
		return p.BaseDelay * time.Duration(attempt-1)
	}
	m := p.Multiplier
	if m <= 0 {
		m = 1
	}
	d := float64(p.BaseDelay)
	for i := 2; i < attempt; i++ {
		d *= m
	}
	return time.Duration(d)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Permanent wraps an error that must not be retried
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Do runs fn until it succeeds, returns a permanent error, the context ends or the
// policy runs out of attempts. fn receives the 1-based attempt number.
func Do(ctx context.Context, clock clockwork.Clock, p Policy, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.attempts(); attempt++ {
		if wait := p.Delay(attempt); wait > 0 {
			timer := clock.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.Chan():
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.attempts(), lastErr)
}
