package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/scrivener/internal/config"
	"github.com/MrWong99/scrivener/internal/errstore"
	"github.com/MrWong99/scrivener/internal/segment"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info
  log_format: json

dedup:
  profile: podcast
  look_ahead_window: 8
  similarity_threshold: 0.85
  max_removal_ratio: 0.4

resolver:
  entity_match_threshold: 0.8
  latin_min_score: 0.9
  context_window: 40
  concurrency: 4
  extra_stopwords: [ครับ, ค่ะ]

segmenter:
  strategy: regex
  max_unit_runes: 300

stores:
  knowledge_base: testdata/entities.yaml
  reload_interval: 30s
  errors:
    backend: sqlite
    path: /var/lib/scrivener/corrections.db

observe:
  metrics: true
  service_name: scrivener-test
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("server.log_format: got %q, want json", cfg.Server.LogFormat)
	}
	if cfg.Dedup.Profile != "podcast" || cfg.Dedup.LookAheadWindow != 8 {
		t.Errorf("dedup: got %+v", cfg.Dedup)
	}
	if cfg.Dedup.SimilarityThreshold != 0.85 {
		t.Errorf("dedup.similarity_threshold: got %.2f, want 0.85", cfg.Dedup.SimilarityThreshold)
	}
	if cfg.Resolver.Concurrency != 4 {
		t.Errorf("resolver.concurrency: got %d, want 4", cfg.Resolver.Concurrency)
	}
	if len(cfg.Resolver.ExtraStopwords) != 2 || cfg.Resolver.ExtraStopwords[0] != "ครับ" {
		t.Errorf("resolver.extra_stopwords: got %v", cfg.Resolver.ExtraStopwords)
	}
	if cfg.Segmenter.Strategy != segment.StrategyRegex {
		t.Errorf("segmenter.strategy: got %q, want regex", cfg.Segmenter.Strategy)
	}
	if cfg.Stores.ReloadInterval != 30*time.Second {
		t.Errorf("stores.reload_interval: got %v, want 30s", cfg.Stores.ReloadInterval)
	}
	if cfg.Stores.Errors.Backend != config.BackendSQLite {
		t.Errorf("stores.errors.backend: got %q, want sqlite", cfg.Stores.Errors.Backend)
	}
	if !cfg.Observe.Metrics || cfg.Observe.ServiceName != "scrivener-test" {
		t.Errorf("observe: got %+v", cfg.Observe)
	}
}

func TestLoadFromReader_EmptyAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
	want := config.Default()
	if cfg.Server != want.Server || cfg.Stores.Errors != want.Stores.Errors || cfg.Observe != want.Observe {
		t.Errorf("empty config = %+v, want defaults %+v", cfg, want)
	}
	if cfg.Stores.Errors.Path != config.DefaultErrorsPath {
		t.Errorf("stores.errors.path: got %q, want %q", cfg.Stores.Errors.Path, config.DefaultErrorsPath)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("dedup:\n  treshold: 0.9\n"))
	if err == nil {
		t.Fatal("expected error for misspelled field, got nil")
	}
	if !strings.Contains(err.Error(), "treshold") {
		t.Errorf("error should name the unknown field, got: %v", err)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		mention string
	}{
		{"log level", "server:\n  log_level: verbose\n", "log_level"},
		{"log format", "server:\n  log_format: xml\n", "log_format"},
		{"profile", "dedup:\n  profile: radio\n", "dedup.profile"},
		{"negative window", "dedup:\n  look_ahead_window: -1\n", "look_ahead_window"},
		{"threshold above one", "dedup:\n  similarity_threshold: 1.5\n", "similarity_threshold"},
		{"removal ratio", "dedup:\n  max_removal_ratio: -0.1\n", "max_removal_ratio"},
		{"match threshold", "resolver:\n  entity_match_threshold: 2\n", "entity_match_threshold"},
		{"negative concurrency", "resolver:\n  concurrency: -2\n", "concurrency"},
		{"strategy", "segmenter:\n  strategy: ml\n", "segmenter.strategy"},
		{"reload interval", "stores:\n  reload_interval: -1s\n", "reload_interval"},
		{"backend", "stores:\n  errors:\n    backend: redis\n", "backend"},
		{"sqlite path", "stores:\n  errors:\n    backend: sqlite\n", "stores.errors.path"},
		{"postgres dsn", "stores:\n  errors:\n    backend: postgres\n", "stores.errors.dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.mention) {
				t.Errorf("error should mention %q, got: %v", tt.mention, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: "loud"},
		Dedup:  config.DedupConfig{SimilarityThreshold: 3},
		Stores: config.StoresConfig{Errors: config.ErrorStoreConfig{Backend: config.BackendPostgres}},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "similarity_threshold", "dsn"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error should mention %q, got: %v", want, msg)
		}
	}
}

func TestValidate_MemoryBackendIsValid(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Stores.Errors = config.ErrorStoreConfig{Backend: config.BackendMemory}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_UnknownBackend(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, _, err := r.CreateErrorStore(context.Background(), config.ErrorStoreConfig{Backend: config.BackendFile})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("expected ErrBackendNotRegistered, got %v", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	r := config.NewRegistry()
	r.RegisterErrorStore(config.BackendMemory, func(context.Context, config.ErrorStoreConfig) (errstore.Store, func() error, error) {
		return nil, nil, boom
	})
	_, _, err := r.CreateErrorStore(context.Background(), config.ErrorStoreConfig{Backend: config.BackendMemory})
	if !errors.Is(err, boom) {
		t.Errorf("expected factory error to be wrapped, got %v", err)
	}
}

func TestRegistry_NilCloseIsReplaced(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterErrorStore(config.BackendMemory, func(context.Context, config.ErrorStoreConfig) (errstore.Store, func() error, error) {
		return errstore.NewMemStore(), nil, nil
	})
	_, closeFn, err := r.CreateErrorStore(context.Background(), config.ErrorStoreConfig{Backend: config.BackendMemory})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestDefaultRegistry_Backends(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := config.DefaultRegistry()

	tests := []struct {
		name string
		cfg  config.ErrorStoreConfig
		want func(errstore.Store) bool
	}{
		{
			name: "file",
			cfg:  config.ErrorStoreConfig{Backend: config.BackendFile, Path: dir + "/corrections.json"},
			want: func(s errstore.Store) bool { _, ok := s.(*errstore.FileStore); return ok },
		},
		{
			name: "sqlite",
			cfg:  config.ErrorStoreConfig{Backend: config.BackendSQLite, Path: dir + "/corrections.db"},
			want: func(s errstore.Store) bool { _, ok := s.(*errstore.SQLiteStore); return ok },
		},
		{
			name: "memory",
			cfg:  config.ErrorStoreConfig{Backend: config.BackendMemory},
			want: func(s errstore.Store) bool { _, ok := s.(*errstore.MemStore); return ok },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, closeFn, err := r.CreateErrorStore(context.Background(), tt.cfg)
			if err != nil {
				t.Fatalf("CreateErrorStore: %v", err)
			}
			t.Cleanup(func() { _ = closeFn() })
			if !tt.want(s) {
				t.Errorf("got store of type %T", s)
			}
		})
	}
}

func TestDefaultRegistry_PostgresUnreachable(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r := config.DefaultRegistry()
	_, _, err := r.CreateErrorStore(ctx, config.ErrorStoreConfig{
		Backend: config.BackendPostgres,
		DSN:     "postgres://nobody@127.0.0.1:1/none?connect_timeout=1",
	})
	if err == nil {
		t.Fatal("expected error for unreachable database, got nil")
	}
}
