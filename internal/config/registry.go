package config

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/scrivener/internal/errstore"
	"github.com/MrWong99/scrivener/internal/resilience"
)

// ErrBackendNotRegistered is returned by [Registry.CreateErrorStore] when no
// factory has been registered under the requested backend.
var ErrBackendNotRegistered = errors.New("config: error store backend not registered")

// ErrorStoreFactory builds an error store from its config. The returned
// close function releases the backend's resources and is never nil.
type ErrorStoreFactory func(ctx context.Context, cfg ErrorStoreConfig) (errstore.Store, func() error, error)

// Registry maps error store backends to their constructor functions. It is
// safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stores map[Backend]ErrorStoreFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{stores: make(map[Backend]ErrorStoreFactory)}
}

// DefaultRegistry returns a [Registry] with the file, sqlite, postgres and
// memory backends registered. The postgres store is wrapped in a
// [resilience.GuardedStore] so a database outage does not stall every run.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterErrorStore(BackendFile, func(_ context.Context, cfg ErrorStoreConfig) (errstore.Store, func() error, error) {
		return errstore.NewFileStore(cfg.Path), noopClose, nil
	})
	r.RegisterErrorStore(BackendSQLite, func(ctx context.Context, cfg ErrorStoreConfig) (errstore.Store, func() error, error) {
		s, err := errstore.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	})
	r.RegisterErrorStore(BackendPostgres, func(ctx context.Context, cfg ErrorStoreConfig) (errstore.Store, func() error, error) {
		s, err := errstore.NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		g := resilience.Guard(s, string(BackendPostgres), resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
		})
		return g, func() error { s.Close(); return nil }, nil
	})
	r.RegisterErrorStore(BackendMemory, func(context.Context, ErrorStoreConfig) (errstore.Store, func() error, error) {
		return errstore.NewMemStore(), noopClose, nil
	})
	return r
}

func noopClose() error { return nil }

// RegisterErrorStore registers factory under backend.
// Subsequent calls with the same backend overwrite the previous registration.
func (r *Registry) RegisterErrorStore(backend Backend, factory ErrorStoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[backend] = factory
}

// CreateErrorStore instantiates the store selected by cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateErrorStore(ctx context.Context, cfg ErrorStoreConfig) (errstore.Store, func() error, error) {
	r.mu.RLock()
	factory, ok := r.stores[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	s, closeFn, err := factory(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("config: create %s error store: %w", cfg.Backend, err)
	}
	if closeFn == nil {
		closeFn = noopClose
	}
	return s, closeFn, nil
}
