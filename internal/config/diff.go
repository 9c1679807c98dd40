package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Fields that can be applied to a running server are tracked individually;
// everything else is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EngineChanged is true when dedup, resolver or segmenter settings
	// changed. A new engine picks them up for the next run.
	EngineChanged bool

	// KnowledgeBaseChanged is true when the knowledge base path changed.
	KnowledgeBaseChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.EngineChanged || d.KnowledgeBaseChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Dedup != new.Dedup || old.Segmenter != new.Segmenter || !resolverEqual(old.Resolver, new.Resolver) {
		d.EngineChanged = true
	}

	if old.Stores.KnowledgeBase != new.Stores.KnowledgeBase {
		d.KnowledgeBaseChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server.log_format")
	}
	if old.Stores.ReloadInterval != new.Stores.ReloadInterval {
		d.RestartRequired = append(d.RestartRequired, "stores.reload_interval")
	}
	if old.Stores.Errors != new.Stores.Errors {
		d.RestartRequired = append(d.RestartRequired, "stores.errors")
	}
	if old.Observe != new.Observe {
		d.RestartRequired = append(d.RestartRequired, "observe")
	}

	return d
}

func resolverEqual(a, b ResolverConfig) bool {
	return a.EntityMatchThreshold == b.EntityMatchThreshold &&
		a.LatinMinScore == b.LatinMinScore &&
		a.ContextWindow == b.ContextWindow &&
		a.Concurrency == b.Concurrency &&
		slices.Equal(a.ExtraStopwords, b.ExtraStopwords)
}
