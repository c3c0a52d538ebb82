// Package circuitbreaker stops calling an optional dependency after repeated
// failures and probes it again after a cool-down. The stats cache uses it so a
// dead Redis costs one fast rejection per read instead of a dial timeout.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed - calls go through.
	StateClosed State = iota
	// StateOpen - calls are rejected until the cool-down expires.
	StateOpen
	// StateHalfOpen - a limited number of probe calls are allowed.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned when the circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned when the half-open probe budget is spent.
	ErrTooManyProbes = errors.New("circuit breaker probe in flight")
)

// IsRejected reports whether err came from the breaker rather than the call.
func IsRejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyProbes)
}

// Config holds circuit breaker configuration.
type Config struct {
	// Name identifies this breaker in logs.
	Name string

	// FailureThreshold - consecutive failures that open the circuit.
	FailureThreshold int

	// SuccessThreshold - consecutive probe successes that close it again.
	SuccessThreshold int

	// CoolDown - time spent open before probing.
	CoolDown time.Duration

	// MaxProbes - concurrent calls allowed while half-open.
	MaxProbes int

	// OnStateChange is called under the breaker lock; keep it cheap.
	OnStateChange func(name string, from, to State)

	// IsFailure decides whether an error counts. Nil counts every error.
	IsFailure func(error) bool

	now func() time.Time
}

// DefaultConfig returns the defaults used for cache dependencies.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		CoolDown:         10 * time.Second,
		MaxProbes:        1,
		now:              time.Now,
	}
}

// Option is a functional option for configuring the circuit breaker.
type Option func(*Config)

// WithFailureThreshold sets the failure threshold.
func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the success threshold.
func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

// WithCoolDown sets how long the circuit stays open.
func WithCoolDown(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.CoolDown = d
		}
	}
}

// WithMaxProbes sets the half-open concurrency.
func WithMaxProbes(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxProbes = n
		}
	}
}

// WithOnStateChange sets the state change callback.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) {
		c.OnStateChange = fn
	}
}

// WithIsFailure sets the failure classifier.
func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) {
		c.IsFailure = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.now = now
		}
	}
}

// Counts holds breaker statistics.
type Counts struct {
	Requests             int
	Rejections           int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	config Config

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probes   int
}

// New creates a new CircuitBreaker with the given name and options.
func New(name string, opts ...Option) *CircuitBreaker {
	config := DefaultConfig(name)
	for _, opt := range opts {
		opt(&config)
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// Execute runs fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// Do is Execute for calls that return a value.
func Do[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.config.now().Sub(cb.openedAt) < cb.config.CoolDown {
			cb.counts.Rejections++
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.probes = 1
		return nil
	case StateHalfOpen:
		if cb.probes < cb.config.MaxProbes {
			cb.probes++
			return nil
		}
		cb.counts.Rejections++
		return ErrTooManyProbes
	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++

	failed := err != nil
	if failed && cb.config.IsFailure != nil {
		failed = cb.config.IsFailure(err)
	}

	if !failed {
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.probes--
			if cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
				cb.setState(StateClosed)
			}
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	switch cb.state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.config.now()
	cb.setState(StateOpen)
}

func (cb *CircuitBreaker) setState(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.counts.ConsecutiveSuccesses = 0
	cb.counts.ConsecutiveFailures = 0
	cb.probes = 0

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, prev, next)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns the current counts.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}
