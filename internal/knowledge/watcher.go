package knowledge

import (
	"crypto/sha256"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Holder publishes the current [Store]. Readers call Load for every run and
// keep using that snapshot; a reload never changes a store mid-run.
type Holder struct {
	p atomic.Pointer[Store]
}

// NewHolder returns a holder that starts with s, or [Empty] if s is nil.
func NewHolder(s *Store) *Holder {
	h := &Holder{}
	h.Store(s)
	return h
}

// Load returns the current store. It never returns nil.
func (h *Holder) Load() *Store {
	if s := h.p.Load(); s != nil {
		return s
	}
	return Empty()
}

// Store replaces the current store.
func (h *Holder) Store(s *Store) {
	if s == nil {
		s = Empty()
	}
	h.p.Store(s)
}

// Watcher polls a knowledge base file and swaps a freshly loaded store into
// a [Holder] whenever the content changes. Files that fail to load are
// logged and ignored; the previous store stays active.
type Watcher struct {
	path     string
	interval time.Duration
	holder   *Holder
	onReload func(*Store)

	mu       sync.Mutex
	done     chan struct{}
	stopOnce sync.Once

	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithOnReload registers a callback invoked after each successful swap.
func WithOnReload(fn func(*Store)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// NewWatcher loads path into holder immediately and starts polling in a
// background goroutine. The initial load error, if any, is returned as a
// [*LoadError]; the watcher still starts and picks up the file once it
// becomes valid.
func NewWatcher(path string, holder *Holder, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		holder:   holder,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	s, hash, mtime, err := w.loadAndHash()
	if err == nil {
		holder.Store(s)
		w.lastHash = hash
		w.lastMtime = mtime
	}

	go w.poll()
	return w, err
}

// Stop stops polling.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the file if its mtime moved and its hash changed.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("knowledge watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	s, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		slog.Warn("knowledge watcher: failed to load knowledge base", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		// Touched but unchanged.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	w.holder.Store(s)
	slog.Info("knowledge watcher: knowledge base reloaded", "path", w.path, "entities", s.Len())

	if w.onReload != nil {
		w.onReload(s)
	}
}

func (w *Watcher) loadAndHash() (*Store, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, &LoadError{Path: w.path, Err: err}
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, &LoadError{Path: w.path, Err: err}
	}

	s, err := Parse(data, FormatForPath(w.path))
	if err != nil {
		return nil, zeroHash, time.Time{}, &LoadError{Path: w.path, Err: err}
	}
	return s, sha256.Sum256(data), info.ModTime(), nil
}
