package app

import (
	"github.com/MrWong99/scrivener/internal/config"
	"github.com/MrWong99/scrivener/internal/dedup"
	"github.com/MrWong99/scrivener/internal/resolve"
	"github.com/MrWong99/scrivener/internal/segment"
)

// Zero config values mean "use the component default", so only set fields
// become options.

func newSegmenter(sc config.SegmenterConfig) *segment.Segmenter {
	var opts []segment.Option
	if sc.Strategy != "" {
		opts = append(opts, segment.WithStrategy(sc.Strategy))
	}
	if sc.MaxUnitRunes > 0 {
		opts = append(opts, segment.WithMaxUnitRunes(sc.MaxUnitRunes))
	}
	return segment.New(opts...)
}

// dedupOptions applies the named profile, or the one title suggests, and
// then the explicit window and threshold on top of it.
func dedupOptions(dc config.DedupConfig, title string) []dedup.Option {
	var opts []dedup.Option
	if p, ok := dedup.LookupProfile(dc.Profile); ok {
		opts = append(opts, dedup.WithProfile(p))
	} else if title != "" {
		opts = append(opts, dedup.WithProfile(dedup.ProfileFor(title)))
	}
	if dc.LookAheadWindow > 0 {
		opts = append(opts, dedup.WithWindow(dc.LookAheadWindow))
	}
	if dc.SimilarityThreshold > 0 {
		opts = append(opts, dedup.WithThreshold(dc.SimilarityThreshold))
	}
	if dc.MaxRemovalRatio > 0 {
		opts = append(opts, dedup.WithMaxRemovalRatio(dc.MaxRemovalRatio))
	}
	return opts
}

func resolverOptions(rc config.ResolverConfig) []resolve.Option {
	var opts []resolve.Option
	if rc.EntityMatchThreshold > 0 {
		opts = append(opts, resolve.WithThreshold(rc.EntityMatchThreshold))
	}
	if rc.LatinMinScore > 0 {
		opts = append(opts, resolve.WithLatinMinScore(rc.LatinMinScore))
	}
	if rc.ContextWindow > 0 {
		opts = append(opts, resolve.WithContextRadius(rc.ContextWindow))
	}
	if rc.Concurrency > 0 {
		opts = append(opts, resolve.WithConcurrency(rc.Concurrency))
	}
	if len(rc.ExtraStopwords) > 0 {
		opts = append(opts, resolve.WithExtraStopwords(rc.ExtraStopwords...))
	}
	return opts
}
