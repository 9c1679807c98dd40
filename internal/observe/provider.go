package observe

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "scrivener".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string

	// Registerer receives the Prometheus collector. Default:
	// prometheus.DefaultRegisterer, which the serve mode /metrics route reads.
	Registerer prometheus.Registerer

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded but not exported.
	TraceExporter sdktrace.SpanExporter
}

// httpLatencyBuckets are the request latency bounds in seconds. A
// /v1/process call carries a whole transcript, so the top end is far above
// a typical API.
var httpLatencyBuckets = []float64{
	0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// instrumentAttrs lists the attributes each labelled instrument keeps. Any
// other attribute a caller adds, such as a run ID, is dropped before export
// so run identifiers never become label values.
var instrumentAttrs = map[string][]attribute.Key{
	"scrivener.stage.duration":          {"stage"},
	"scrivener.corrections.applied":     {"method"},
	"scrivener.corrections.rejected":    {"rule"},
	"scrivener.errstore.flush_failures": {"backend"},
	"scrivener.http.request.duration":   {"method", "path"},
}

// Views returns the metric views scrivener registers on every meter
// provider: attribute allow-lists for the labelled instruments and the
// request latency buckets.
func Views() []sdkmetric.View {
	views := make([]sdkmetric.View, 0, len(instrumentAttrs))
	for name, keys := range instrumentAttrs {
		stream := sdkmetric.Stream{AttributeFilter: attribute.NewAllowKeysFilter(keys...)}
		if name == "scrivener.http.request.duration" {
			stream.Aggregation = sdkmetric.AggregationExplicitBucketHistogram{Boundaries: httpLatencyBuckets}
		}
		views = append(views, sdkmetric.NewView(
			sdkmetric.Instrument{Name: name},
			stream,
		))
	}
	return views
}

// NewMeterProvider returns a meter provider reading into reader with
// [Views] applied. res may be nil.
func NewMeterProvider(reader sdkmetric.Reader, res *resource.Resource) *sdkmetric.MeterProvider {
	opts := []sdkmetric.Option{sdkmetric.WithReader(reader)}
	if res != nil {
		opts = append(opts, sdkmetric.WithResource(res))
	}
	for _, v := range Views() {
		opts = append(opts, sdkmetric.WithView(v))
	}
	return sdkmetric.NewMeterProvider(opts...)
}

// InitProvider installs the global meter and tracer providers. Metrics are
// exported through a Prometheus collector registered on cfg.Registerer, so
// serve mode exposes them at /metrics. The returned function flushes and
// closes both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "scrivener"
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New(promexporter.WithRegisterer(cfg.Registerer))
	if err != nil {
		return nil, err
	}
	mp := NewMeterProvider(promExp, res)
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}
