package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/scrivener/internal/errstore"
)

var _ errstore.Store = (*GuardedStore)(nil)

// GuardedStore routes Flush through a [CircuitBreaker]. Every other method
// goes straight to the wrapped store, so lookups and new corrections keep
// working in memory while the backend is unavailable.
type GuardedStore struct {
	errstore.Store
	backend string
	cb      *CircuitBreaker
}

// Guard wraps store. backend names the store in [errstore.PersistError]
// values produced while the breaker is open.
func Guard(store errstore.Store, backend string, cfg CircuitBreakerConfig) *GuardedStore {
	if cfg.Name == "" {
		cfg.Name = "errstore/" + backend
	}
	return &GuardedStore{Store: store, backend: backend, cb: NewCircuitBreaker(cfg)}
}

// Unwrap returns the wrapped store.
func (g *GuardedStore) Unwrap() errstore.Store { return g.Store }

// Breaker returns the breaker guarding Flush.
func (g *GuardedStore) Breaker() *CircuitBreaker { return g.cb }

// Flush implements [errstore.Store.Flush]. While the breaker is open it
// returns a [*errstore.PersistError] wrapping [ErrCircuitOpen] without
// touching the backend.
func (g *GuardedStore) Flush(ctx context.Context) error {
	err := g.cb.Execute(ctx, g.Store.Flush)
	if errors.Is(err, ErrCircuitOpen) {
		return &errstore.PersistError{Backend: g.backend, Err: err}
	}
	return err
}

// Ping reports [ErrCircuitOpen] while the breaker is open and otherwise
// pings the wrapped store if it supports it.
func (g *GuardedStore) Ping(ctx context.Context) error {
	if g.cb.State() == StateOpen {
		return ErrCircuitOpen
	}
	if p, ok := g.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
