// Package app wires the scrivener subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the knowledge base,
// opens the error store and builds the transcript engine; Run serves the
// HTTP API until its context is cancelled; Shutdown flushes and closes the
// stores in order. Batch callers skip Run and call Process or Learn
// directly.
//
// For testing, inject doubles via functional options (WithErrorStore,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MrWong99/scrivener/internal/config"
	"github.com/MrWong99/scrivener/internal/errstore"
	"github.com/MrWong99/scrivener/internal/knowledge"
	"github.com/MrWong99/scrivener/internal/observe"
	"github.com/MrWong99/scrivener/internal/segment"
	"github.com/MrWong99/scrivener/internal/transcript"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      atomic.Pointer[config.Config]
	registry *config.Registry
	metrics  *observe.Metrics
	level    *slog.LevelVar
	version  string

	kb   *knowledge.Holder
	errs errstore.Store

	// mu guards the knowledge watcher and the warnings that feed new engines.
	mu        sync.Mutex
	kbWatcher *knowledge.Watcher
	kbWarn    error
	storeWarn error

	segmenter atomic.Pointer[segment.Segmenter]
	engine    atomic.Pointer[transcript.Engine]

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry replaces [config.DefaultRegistry] as the source of error
// store factories.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithErrorStore injects an error store instead of creating one from config.
// The caller keeps ownership; Shutdown flushes it but does not close it.
func WithErrorStore(s errstore.Store) Option {
	return func(a *App) { a.errs = s }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.ApplyConfig] change the log level of a running
// process.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithVersion sets the version reported by the API.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Problems that leave the app usable, such as a
// knowledge base that fails to load or an unreadable error store, are logged
// and attached to every report as warnings. Only a store that cannot be
// opened at all is fatal.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{kb: knowledge.NewHolder(nil)}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.DefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Knowledge base ────────────────────────────────────────────────
	a.openKnowledge(cfg.Stores)

	// ── 2. Error store ───────────────────────────────────────────────────
	if err := a.initErrorStore(ctx, cfg.Stores.Errors); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init error store: %w", err)
	}

	// ── 3. Engine ────────────────────────────────────────────────────────
	a.segmenter.Store(newSegmenter(cfg.Segmenter))
	a.rebuildEngine()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// openKnowledge loads the knowledge base into a.kb, polling it for changes
// when a reload interval is configured. A load failure is kept as a warning.
func (a *App) openKnowledge(sc config.StoresConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.kbWatcher != nil {
		a.kbWatcher.Stop()
		a.kbWatcher = nil
	}
	a.kbWarn = nil

	switch {
	case sc.KnowledgeBase == "":
		a.kb.Store(nil)
	case sc.ReloadInterval > 0:
		w, err := knowledge.NewWatcher(sc.KnowledgeBase, a.kb,
			knowledge.WithInterval(sc.ReloadInterval),
			knowledge.WithOnReload(a.knowledgeReloaded),
		)
		a.kbWatcher = w
		a.kbWarn = err
	default:
		s, err := knowledge.LoadOrEmpty(sc.KnowledgeBase)
		a.kb.Store(s)
		a.kbWarn = err
	}

	if a.kbWarn != nil {
		slog.Warn("knowledge base unavailable, continuing without it", "path", sc.KnowledgeBase, "err", a.kbWarn)
		return
	}
	slog.Info("knowledge base loaded", "path", sc.KnowledgeBase, "entities", a.kb.Load().Len())
}

// knowledgeReloaded clears a start-up load warning once the file becomes
// valid.
func (a *App) knowledgeReloaded(s *knowledge.Store) {
	a.mu.Lock()
	hadWarning := a.kbWarn != nil
	a.kbWarn = nil
	a.mu.Unlock()

	slog.Info("knowledge base reloaded", "entities", s.Len())
	if hadWarning {
		a.rebuildEngine()
	}
}

// initErrorStore opens the configured store and loads its records.
func (a *App) initErrorStore(ctx context.Context, ec config.ErrorStoreConfig) error {
	if a.errs == nil {
		s, closeFn, err := a.registry.CreateErrorStore(ctx, ec)
		if err != nil {
			return err
		}
		a.errs = s
		a.closers = append(a.closers, closeFn)
	}

	if err := a.errs.Load(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		slog.Warn("error store could not be read, starting empty", "backend", ec.Backend, "err", err)
		a.storeWarn = err
		return nil
	}
	slog.Info("error store loaded", "backend", ec.Backend, "records", len(a.errs.Records()))
	return nil
}

// rebuildEngine publishes an engine for the current config. Runs already in
// flight keep the engine they started with.
func (a *App) rebuildEngine() {
	a.engine.Store(a.newEngine(""))
}

// newEngine builds an engine for the current config. A non-empty title
// selects a dedup profile when the config names none.
func (a *App) newEngine(title string) *transcript.Engine {
	a.mu.Lock()
	warnings := []error{a.kbWarn, a.storeWarn}
	a.mu.Unlock()

	cfg := a.cfg.Load()
	return transcript.New(a.kb, a.errs,
		transcript.WithSegmenter(a.segmenter.Load()),
		transcript.WithDedupOptions(dedupOptions(cfg.Dedup, title)...),
		transcript.WithResolverOptions(resolverOptions(cfg.Resolver)...),
		transcript.WithMetrics(a.metrics),
		transcript.WithWarnings(warnings...),
	)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the active configuration.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Engine returns the engine new runs use.
func (a *App) Engine() *transcript.Engine { return a.engine.Load() }

// ErrorStore returns the error store.
func (a *App) ErrorStore() errstore.Store { return a.errs }

// Knowledge returns the current knowledge base snapshot.
func (a *App) Knowledge() *knowledge.Store { return a.kb.Load() }

// ─── Operations ──────────────────────────────────────────────────────────────

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// Process cleans text under runID. An empty runID gets a fresh one. title
// picks a dedup profile via [dedup.ProfileFor] when the config names none.
func (a *App) Process(ctx context.Context, text, runID, title string) (*transcript.Report, error) {
	if runID == "" {
		runID = NewRunID()
	}
	eng := a.Engine()
	if title != "" && a.cfg.Load().Dedup.Profile == "" {
		eng = a.newEngine(title)
	}
	return eng.Process(ctx, text, runID)
}

// Learn records the replacements correctedText made to rawText.
func (a *App) Learn(ctx context.Context, rawText, correctedText, sourceID string) ([]errstore.CorrectionRecord, error) {
	if sourceID == "" {
		sourceID = NewRunID()
	}
	return a.Engine().Learn(ctx, rawText, correctedText, sourceID)
}

// ApplyConfig switches a running app to next. It is the callback for a
// [config.Watcher]: log level, engine settings and the knowledge base path
// apply immediately; everything listed in d.RestartRequired is kept as it
// was.
func (a *App) ApplyConfig(old, next *config.Config, d config.ConfigDiff) {
	// Settings that need a restart keep their old values.
	merged := *next
	merged.Server.ListenAddr = old.Server.ListenAddr
	merged.Server.LogFormat = old.Server.LogFormat
	merged.Stores.ReloadInterval = old.Stores.ReloadInterval
	merged.Stores.Errors = old.Stores.Errors
	merged.Observe = old.Observe
	a.cfg.Store(&merged)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.KnowledgeBaseChanged {
		a.openKnowledge(merged.Stores)
	}
	if old.Segmenter != next.Segmenter {
		a.segmenter.Store(newSegmenter(next.Segmenter))
	}
	if d.EngineChanged || d.KnowledgeBaseChanged {
		a.rebuildEngine()
		slog.Info("engine rebuilt with new settings")
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the knowledge watcher, flushes the error store and closes
// it. It respects the context deadline: if ctx expires, remaining closers
// are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		if a.kbWatcher != nil {
			a.kbWatcher.Stop()
		}
		a.mu.Unlock()

		if eng := a.Engine(); eng != nil {
			if ferr := eng.Flush(ctx); ferr != nil {
				slog.Warn("final error store flush failed", "err", ferr)
				err = errors.Join(err, ferr)
			}
		}

		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				err = errors.Join(err, ctx.Err())
				return
			}
			if cerr := closer(); cerr != nil {
				slog.Warn("close error", "err", cerr)
				err = errors.Join(err, cerr)
			}
		}
	})
	return err
}

func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
