// Package observe provides application-wide observability primitives for
// scrivener: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all scrivener metrics.
const meterName = "github.com/MrWong99/scrivener"

// Stage names used with [Metrics.StageDuration].
const (
	StageSegment = "segment"
	StageDedup   = "dedup"
	StageResolve = "resolve"
	StageFlush   = "flush"
	StageLearn   = "learn"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency ---

	// StageDuration tracks the latency of one pipeline stage. Use with
	// attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// --- Counters ---

	// SentencesSegmented counts sentence units produced by the segmenter.
	SentencesSegmented metric.Int64Counter

	// DuplicatesRemoved counts sentences dropped by the duplicate detector.
	DuplicatesRemoved metric.Int64Counter

	// DedupGuardTrips counts runs where the removal guard kept the input
	// intact.
	DedupGuardTrips metric.Int64Counter

	// CorrectionsApplied counts entity replacements. Use with attribute:
	//   attribute.String("method", ...)
	CorrectionsApplied metric.Int64Counter

	// ErrorStoreHits counts corrections taken straight from the error store
	// without scoring.
	ErrorStoreHits metric.Int64Counter

	// Rejections counts matches refused by a safety rule. Use with attribute:
	//   attribute.String("rule", ...)
	Rejections metric.Int64Counter

	// CorrectionsLearned counts pairs recorded from externally corrected
	// text.
	CorrectionsLearned metric.Int64Counter

	// --- Error counters ---

	// StoreFlushFailures counts failed error store flushes. Use with
	// attribute:
	//   attribute.String("backend", ...)
	StoreFlushFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveRuns tracks the number of transcripts being processed.
	ActiveRuns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Segmenting
// and deduplicating a long transcript sits at the low end; resolving one with
// a large knowledge base reaches into seconds.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("scrivener.stage.duration",
		metric.WithDescription("Latency of one transcript pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SentencesSegmented, err = m.Int64Counter("scrivener.sentences.segmented",
		metric.WithDescription("Total sentence units produced by the segmenter."),
	); err != nil {
		return nil, err
	}
	if met.DuplicatesRemoved, err = m.Int64Counter("scrivener.duplicates.removed",
		metric.WithDescription("Total sentences removed as duplicates."),
	); err != nil {
		return nil, err
	}
	if met.DedupGuardTrips, err = m.Int64Counter("scrivener.dedup.guard_trips",
		metric.WithDescription("Total runs where the removal guard discarded the dedup result."),
	); err != nil {
		return nil, err
	}
	if met.CorrectionsApplied, err = m.Int64Counter("scrivener.corrections.applied",
		metric.WithDescription("Total entity corrections applied by method."),
	); err != nil {
		return nil, err
	}
	if met.ErrorStoreHits, err = m.Int64Counter("scrivener.errstore.hits",
		metric.WithDescription("Total corrections short-circuited by the error store."),
	); err != nil {
		return nil, err
	}
	if met.Rejections, err = m.Int64Counter("scrivener.corrections.rejected",
		metric.WithDescription("Total candidate corrections refused by rule."),
	); err != nil {
		return nil, err
	}
	if met.CorrectionsLearned, err = m.Int64Counter("scrivener.corrections.learned",
		metric.WithDescription("Total correction pairs learned from corrected text."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.StoreFlushFailures, err = m.Int64Counter("scrivener.errstore.flush_failures",
		metric.WithDescription("Total error store flush failures by backend."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRuns, err = m.Int64UpDownCounter("scrivener.active_runs",
		metric.WithDescription("Number of transcripts currently being processed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("scrivener.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the latency of one pipeline stage in seconds.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordCorrection is a convenience method that records an applied
// correction with the standard attribute set.
func (m *Metrics) RecordCorrection(ctx context.Context, method string) {
	m.CorrectionsApplied.Add(ctx, 1,
		metric.WithAttributes(attribute.String("method", method)),
	)
}

// RecordRejection is a convenience method that records a rule rejection.
func (m *Metrics) RecordRejection(ctx context.Context, rule string) {
	m.Rejections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("rule", rule)),
	)
}

// RecordFlushFailure is a convenience method that records a failed error
// store flush.
func (m *Metrics) RecordFlushFailure(ctx context.Context, backend string) {
	m.StoreFlushFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("backend", backend)),
	)
}
