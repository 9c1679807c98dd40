// Package config provides the configuration schema, loader, and error store
// backend registry for scrivener.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/scrivener/internal/segment"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Backend names an error store implementation.
type Backend string

const (
	// BackendFile keeps corrections in a versioned JSON document.
	BackendFile Backend = "file"

	// BackendSQLite keeps corrections in an embedded SQLite database.
	BackendSQLite Backend = "sqlite"

	// BackendPostgres keeps corrections in a shared PostgreSQL table.
	BackendPostgres Backend = "postgres"

	// BackendMemory keeps corrections for the lifetime of the process only.
	BackendMemory Backend = "memory"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	switch b {
	case BackendFile, BackendSQLite, BackendPostgres, BackendMemory:
		return true
	}
	return false
}

// Config is the root configuration structure for scrivener.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
//
// Every field can be overridden from the environment with the SCRIVENER_
// prefix followed by the upper-cased YAML path, for example
// SCRIVENER_DEDUP_SIMILARITY_THRESHOLD or SCRIVENER_STORES_ERRORS_DSN.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Stores    StoresConfig    `yaml:"stores"`
	Observe   ObserveConfig   `yaml:"observe"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on in serve mode
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr" split_words:"true"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level" split_words:"true"`

	// LogFormat selects text or JSON log lines. Default: text.
	LogFormat LogFormat `yaml:"log_format" split_words:"true"`
}

// DedupConfig tunes the duplicate detector. Zero values fall back to the
// selected profile, then to the detector defaults.
type DedupConfig struct {
	// Profile names a preset window and threshold: default, live_stream,
	// podcast or news.
	Profile string `yaml:"profile"`

	// LookAheadWindow is how many following sentences each sentence is
	// compared against.
	LookAheadWindow int `yaml:"look_ahead_window" split_words:"true"`

	// SimilarityThreshold is the minimum similarity in [0, 1] for two
	// sentences to count as duplicates.
	SimilarityThreshold float64 `yaml:"similarity_threshold" split_words:"true"`

	// MaxRemovalRatio discards the dedup result when more than this share of
	// the sentences would be removed. Zero disables the guard.
	MaxRemovalRatio float64 `yaml:"max_removal_ratio" split_words:"true"`
}

// ResolverConfig tunes the entity resolver. Zero values mean the resolver
// default.
type ResolverConfig struct {
	// EntityMatchThreshold is the minimum fuzzy score for a match.
	EntityMatchThreshold float64 `yaml:"entity_match_threshold" split_words:"true"`

	// LatinMinScore is the stricter bar for Latin-script spans.
	LatinMinScore float64 `yaml:"latin_min_score" split_words:"true"`

	// ContextWindow is the rune radius the safety rules inspect.
	ContextWindow int `yaml:"context_window" split_words:"true"`

	// Concurrency is how many sentences are resolved in parallel.
	Concurrency int `yaml:"concurrency"`

	// ExtraStopwords never start or end a candidate span.
	ExtraStopwords []string `yaml:"extra_stopwords" split_words:"true"`
}

// SegmenterConfig selects and tunes the sentence segmenter.
type SegmenterConfig struct {
	// Strategy is linguistic (default) or regex.
	Strategy segment.Strategy `yaml:"strategy"`

	// MaxUnitRunes re-splits sentences longer than this. Zero means the
	// segmenter default.
	MaxUnitRunes int `yaml:"max_unit_runes" split_words:"true"`
}

// StoresConfig locates the knowledge base and the error store.
type StoresConfig struct {
	// KnowledgeBase is the path to the YAML or JSON entity file. Empty
	// disables entity resolution.
	KnowledgeBase string `yaml:"knowledge_base" split_words:"true"`

	// ReloadInterval is how often serve mode polls the knowledge base for
	// changes. Zero disables reloading.
	ReloadInterval time.Duration `yaml:"reload_interval" split_words:"true"`

	Errors ErrorStoreConfig `yaml:"errors"`
}

// ErrorStoreConfig selects the error store backend.
type ErrorStoreConfig struct {
	// Backend is file (default), sqlite, postgres or memory.
	Backend Backend `yaml:"backend"`

	// Path is the file or SQLite database path.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// ObserveConfig controls telemetry.
type ObserveConfig struct {
	// Metrics enables the OpenTelemetry provider with the Prometheus
	// exporter. In serve mode the registry is exposed on /metrics.
	Metrics bool `yaml:"metrics"`

	// ServiceName is reported in telemetry. Default: scrivener.
	ServiceName string `yaml:"service_name" split_words:"true"`
}
