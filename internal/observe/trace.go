package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the scrivener tracer.
const tracerName = "github.com/MrWong99/scrivener"

// RunIDKey is the span attribute carrying the run identifier.
const RunIDKey = attribute.Key("scrivener.run_id")

// Tracer returns the package-level [trace.Tracer] for scrivener. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartStage starts a child span for one pipeline stage. The returned
// function ends the span and records the stage latency on m; m may be nil.
func StartStage(ctx context.Context, m *Metrics, stage string) (context.Context, func()) {
	start := time.Now()
	ctx, span := StartSpan(ctx, "scrivener."+stage)
	return ctx, func() {
		if m != nil {
			m.RecordStage(ctx, stage, time.Since(start).Seconds())
		}
		span.End()
	}
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
