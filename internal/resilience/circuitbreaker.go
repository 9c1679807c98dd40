// Package resilience protects the error store's persistence path from
// repeated failures of a remote backend.
//
// The central type is [CircuitBreaker], a three-state breaker
// (closed → open → half-open). [GuardedStore] wraps an [errstore.Store] so
// that a backend which keeps failing is skipped for a while instead of
// stalling every transcript run on its Flush.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through. Enough
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful trials needed to close the
	// breaker again. Default: 1.
	HalfOpenMax int

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	trials    int
	trialWins int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		now:          cfg.Now,
	}
}

// Execute runs fn if the breaker allows it. Errors caused by ctx being
// cancelled or timing out are passed through without counting as failures.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case err == nil:
		cb.success(trial)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		if trial {
			cb.trials--
		}
	default:
		cb.failure(trial)
	}
	return err
}

// admit decides whether a call may proceed and whether it is a trial.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trials = 0
		cb.trialWins = 0
		slog.Info("circuit breaker half-open", "name", cb.name)
	}
	if cb.state == StateHalfOpen {
		if cb.trials >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.trials++
		return true, nil
	}
	return false, nil
}

// failure must be called with cb.mu held.
func (cb *CircuitBreaker) failure(trial bool) {
	if trial {
		cb.trip()
		slog.Warn("circuit breaker re-opened by failed trial", "name", cb.name)
		return
	}
	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.trip()
		slog.Warn("circuit breaker opened", "name", cb.name, "consecutive_failures", cb.failures)
	}
}

// success must be called with cb.mu held.
func (cb *CircuitBreaker) success(trial bool) {
	if !trial {
		cb.failures = 0
		return
	}
	cb.trialWins++
	if cb.trialWins >= cb.halfOpenMax {
		cb.state = StateClosed
		cb.failures = 0
		slog.Info("circuit breaker closed", "name", cb.name)
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.failures = 0
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.trials = 0
	cb.trialWins = 0
	slog.Info("circuit breaker reset", "name", cb.name)
}
