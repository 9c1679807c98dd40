package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/scrivener/internal/dedup"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "SCRIVENER"

// Defaults applied by [Default] and by [Load] for fields left empty.
const (
	DefaultListenAddr  = ":8080"
	DefaultLogLevel    = LogInfo
	DefaultLogFormat   = LogFormatText
	DefaultBackend     = BackendFile
	DefaultErrorsPath  = "scrivener-corrections.json"
	DefaultServiceName = "scrivener"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Environment overrides are not applied.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with every SCRIVENER_* variable that is set.
// Unset variables leave the field untouched.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = DefaultLogFormat
	}
	if cfg.Stores.Errors.Backend == "" {
		cfg.Stores.Errors.Backend = DefaultBackend
	}
	if cfg.Stores.Errors.Backend == BackendFile && cfg.Stores.Errors.Path == "" {
		cfg.Stores.Errors.Path = DefaultErrorsPath
	}
	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Dedup
	if cfg.Dedup.Profile != "" {
		if _, ok := dedup.LookupProfile(cfg.Dedup.Profile); !ok {
			errs = append(errs, fmt.Errorf("dedup.profile %q is unknown; valid values: default, live_stream, podcast, news", cfg.Dedup.Profile))
		}
	}
	if cfg.Dedup.LookAheadWindow < 0 {
		errs = append(errs, fmt.Errorf("dedup.look_ahead_window %d must not be negative", cfg.Dedup.LookAheadWindow))
	}
	errs = appendUnit(errs, "dedup.similarity_threshold", cfg.Dedup.SimilarityThreshold)
	errs = appendUnit(errs, "dedup.max_removal_ratio", cfg.Dedup.MaxRemovalRatio)

	// Resolver
	errs = appendUnit(errs, "resolver.entity_match_threshold", cfg.Resolver.EntityMatchThreshold)
	errs = appendUnit(errs, "resolver.latin_min_score", cfg.Resolver.LatinMinScore)
	if cfg.Resolver.ContextWindow < 0 {
		errs = append(errs, fmt.Errorf("resolver.context_window %d must not be negative", cfg.Resolver.ContextWindow))
	}
	if cfg.Resolver.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("resolver.concurrency %d must not be negative", cfg.Resolver.Concurrency))
	}
	if m, l := cfg.Resolver.EntityMatchThreshold, cfg.Resolver.LatinMinScore; m > 0 && l > 0 && l < m {
		slog.Warn("resolver.latin_min_score is below resolver.entity_match_threshold and has no effect",
			"latin_min_score", l,
			"entity_match_threshold", m,
		)
	}

	// Segmenter
	if cfg.Segmenter.Strategy != "" && !cfg.Segmenter.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("segmenter.strategy %q is invalid; valid values: linguistic, regex", cfg.Segmenter.Strategy))
	}
	if cfg.Segmenter.MaxUnitRunes < 0 {
		errs = append(errs, fmt.Errorf("segmenter.max_unit_runes %d must not be negative", cfg.Segmenter.MaxUnitRunes))
	}

	// Stores
	if cfg.Stores.KnowledgeBase == "" {
		slog.Warn("stores.knowledge_base is empty; entity resolution will only apply learned corrections")
	}
	if cfg.Stores.ReloadInterval < 0 {
		errs = append(errs, fmt.Errorf("stores.reload_interval %s must not be negative", cfg.Stores.ReloadInterval))
	}
	es := cfg.Stores.Errors
	switch {
	case es.Backend == "":
	case !es.Backend.IsValid():
		errs = append(errs, fmt.Errorf("stores.errors.backend %q is invalid; valid values: file, sqlite, postgres, memory", es.Backend))
	case (es.Backend == BackendFile || es.Backend == BackendSQLite) && es.Path == "":
		errs = append(errs, fmt.Errorf("stores.errors.path is required when backend is %s", es.Backend))
	case es.Backend == BackendPostgres && es.DSN == "":
		errs = append(errs, errors.New("stores.errors.dsn is required when backend is postgres"))
	case es.Backend == BackendMemory:
		slog.Warn("stores.errors.backend is memory; learned corrections are lost on exit")
	}

	return errors.Join(errs...)
}

// appendUnit appends an error when v lies outside [0, 1].
func appendUnit(errs []error, field string, v float64) []error {
	if v < 0 || v > 1 {
		return append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", field, v))
	}
	return errs
}
