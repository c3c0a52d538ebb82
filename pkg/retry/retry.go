// Package retry polls an operation with capped exponential backoff and jitter.
// The Redis user lock uses it while another holder owns the lock.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// retryableError marks an attempt that should be repeated.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// permanentError stops polling immediately.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt. Unmarked errors end polling.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// Permanent marks err as final.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type schedule struct {
	attempts   int
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
}

// Option adjusts the polling schedule.
type Option func(*schedule)

// WithMaxAttempts caps the number of attempts, the first one included.
func WithMaxAttempts(n int) Option {
	return func(s *schedule) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithInitialDelay sets the pause after the first failed attempt.
func WithInitialDelay(d time.Duration) Option {
	return func(s *schedule) {
		if d > 0 {
			s.initial = d
		}
	}
}

// WithMaxDelay caps a single pause.
func WithMaxDelay(d time.Duration) Option {
	return func(s *schedule) {
		if d > 0 {
			s.max = d
		}
	}
}

// WithMultiplier sets the growth factor between pauses (>= 1).
func WithMultiplier(m float64) Option {
	return func(s *schedule) {
		if m >= 1 {
			s.multiplier = m
		}
	}
}

// WithJitter sets the random spread of a pause, 0..1 of its length.
func WithJitter(j float64) Option {
	return func(s *schedule) {
		if j >= 0 && j <= 1 {
			s.jitter = j
		}
	}
}

// Retrier repeats an operation on a fixed schedule.
type Retrier struct {
	s schedule
}

// New creates a Retrier. Defaults: 3 attempts, 100ms doubling up to 30s, 10% jitter.
func New(opts ...Option) *Retrier {
	s := schedule{attempts: 3, initial: 100 * time.Millisecond, max: 30 * time.Second, multiplier: 2, jitter: 0.1}
	for _, opt := range opts {
		opt(&s)
	}
	return &Retrier{s: s}
}

// LockRetrier polls for a per-user lock. Short pauses keep lock hand-off fast;
// the caller bounds the total wait with its context.
func LockRetrier() *Retrier {
	return New(
		WithMaxAttempts(20),
		WithInitialDelay(10*time.Millisecond),
		WithMaxDelay(250*time.Millisecond),
		WithMultiplier(1.5),
		WithJitter(0.2),
	)
}

// Do runs op until it succeeds, returns an error not marked Retryable, or the
// attempts run out. Marker wrappers are removed from the returned error.
// A done context ends polling with the last attempt's error, or ctx.Err()
// if nothing ran.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; attempt <= r.s.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		var again *retryableError
		if !errors.As(err, &again) {
			return err
		}
		last = again.err

		if attempt == r.s.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(r.delay(attempt)):
		}
	}
	return last
}

func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.s.initial) * math.Pow(r.s.multiplier, float64(attempt-1))
	d = math.Min(d, float64(r.s.max))
	if r.s.jitter > 0 {
		d += d * r.s.jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(math.Max(d, 0))
}
