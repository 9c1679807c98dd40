package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/scrivener/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Resolver.ExtraStopwords = []string{"ครับ"}
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.EngineChanged || len(d.RestartRequired) != 0 {
		t.Errorf("only the log level should change, got %+v", d)
	}
}

func TestDiff_EngineSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"dedup threshold", func(c *config.Config) { c.Dedup.SimilarityThreshold = 0.9 }},
		{"dedup profile", func(c *config.Config) { c.Dedup.Profile = "news" }},
		{"segmenter strategy", func(c *config.Config) { c.Segmenter.Strategy = "regex" }},
		{"resolver threshold", func(c *config.Config) { c.Resolver.EntityMatchThreshold = 0.7 }},
		{"resolver stopwords", func(c *config.Config) { c.Resolver.ExtraStopwords = []string{"นะ"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			new := config.Default()
			tt.mutate(new)

			d := config.Diff(old, new)
			if !d.EngineChanged {
				t.Error("expected EngineChanged=true")
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("engine settings apply live, got RestartRequired=%v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_KnowledgeBaseChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Stores.KnowledgeBase = "entities-v2.yaml"

	d := config.Diff(old, new)
	if !d.KnowledgeBaseChanged {
		t.Error("expected KnowledgeBaseChanged=true")
	}
	if d.EngineChanged {
		t.Error("knowledge base path is not an engine setting")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":9090"
	new.Server.LogFormat = config.LogFormatJSON
	new.Stores.ReloadInterval = time.Minute
	new.Stores.Errors.Backend = config.BackendMemory
	new.Observe.Metrics = true

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "server.log_format", "stores.reload_interval", "stores.errors", "observe"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if !d.Changed() {
		t.Error("Changed() should be true")
	}
}
