package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// The middleware tests swap the global tracer provider and slog default, so
// none of them run in parallel.

// ─── helpers ─────────────────────────────────────────────────────────────────

func withTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// serveAPI sends req through the middleware to a handler answering status.
func serveAPI(m *Metrics, req *http.Request, status int) *httptest.ResponseRecorder {
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func spanAttr(span tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, a := range span.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

// ─── run ID ──────────────────────────────────────────────────────────────────

func TestMiddleware_RunID(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		runID string
	}{
		{name: "process with run id", path: "/v1/process", runID: "ep-42"},
		{name: "learn with run id", path: "/v1/learn", runID: "2025-03-01-market-close"},
		{name: "process without run id", path: "/v1/process"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exp := withTracing(t)
			m, _ := newTestMetrics(t)

			req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(`{"text":"หุ้น อมตะ ขึ้น"}`))
			if tc.runID != "" {
				req.Header.Set(RunIDHeader, tc.runID)
			}
			rec := serveAPI(m, req, http.StatusOK)

			if got := rec.Header().Get(RunIDHeader); got != tc.runID {
				t.Errorf("response %s = %q, want %q", RunIDHeader, got, tc.runID)
			}
			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			v, ok := spanAttr(spans[0], RunIDKey)
			switch {
			case tc.runID == "" && ok:
				t.Errorf("span has run ID %q for a request without one", v.AsString())
			case tc.runID != "" && (!ok || v.AsString() != tc.runID):
				t.Errorf("span run ID = %q, %v; want %q", v.AsString(), ok, tc.runID)
			}
		})
	}
}

func TestMiddleware_LogsRunID(t *testing.T) {
	withTracing(t)
	m, _ := newTestMetrics(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	req := httptest.NewRequest(http.MethodPost, "/v1/process", nil)
	req.Header.Set(RunIDHeader, "ep-7")
	serveAPI(m, req, http.StatusBadRequest)

	var entry struct {
		Msg     string `json:"msg"`
		RunID   string `json:"run_id"`
		Status  int    `json:"status"`
		Path    string `json:"path"`
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	if entry.Msg != "request completed" || entry.RunID != "ep-7" || entry.Status != http.StatusBadRequest || entry.Path != "/v1/process" {
		t.Errorf("log entry = %+v", entry)
	}
	if len(entry.TraceID) != 32 {
		t.Errorf("trace_id = %q, want 32 hex digits", entry.TraceID)
	}
}

// ─── spans and metrics per route ─────────────────────────────────────────────

func TestMiddleware_Routes(t *testing.T) {
	exp := withTracing(t)
	m, reader := newTestMetrics(t)

	routes := []struct {
		method, path string
		status       int
	}{
		{http.MethodPost, "/v1/process", http.StatusOK},
		{http.MethodPost, "/v1/process", http.StatusBadRequest},
		{http.MethodPost, "/v1/learn", http.StatusOK},
		{http.MethodGet, "/v1/corrections", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusServiceUnavailable},
	}
	for _, r := range routes {
		serveAPI(m, httptest.NewRequest(r.method, r.path, nil), r.status)
	}

	spans := exp.GetSpans()
	if len(spans) != len(routes) {
		t.Fatalf("got %d spans, want %d", len(spans), len(routes))
	}
	for i, r := range routes {
		if want := "HTTP " + r.method + " " + r.path; spans[i].Name != want {
			t.Errorf("span %d name = %q, want %q", i, spans[i].Name, want)
		}
		if v, ok := spanAttr(spans[i], "http.response.status_code"); !ok || v.AsInt64() != int64(r.status) {
			t.Errorf("span %d status = %v, want %d", i, v.AsInt64(), r.status)
		}
	}

	rm := collect(t, reader)
	hist := findMetric(rm, "scrivener.http.request.duration").Data.(metricdata.Histogram[float64])
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		counts[path.AsString()] += dp.Count
	}
	want := map[string]uint64{"/v1/process": 2, "/v1/learn": 1, "/v1/corrections": 1, "/readyz": 1}
	for path, n := range want {
		if counts[path] != n {
			t.Errorf("requests recorded for %s = %d, want %d", path, counts[path], n)
		}
	}
}

// ─── trace context ───────────────────────────────────────────────────────────

func TestMiddleware_CorrelationID(t *testing.T) {
	const upstream = "4bf92f3577b34da6a3ce929d0e0e4736"

	tests := []struct {
		name        string
		traceparent string
		want        string // empty: any fresh trace ID
	}{
		{name: "continues caller trace", traceparent: "00-" + upstream + "-00f067aa0ba902b7-01", want: upstream},
		{name: "starts a trace", traceparent: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			withTracing(t)
			m, _ := newTestMetrics(t)

			var seen string
			h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = CorrelationID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodPost, "/v1/process", nil)
			if tc.traceparent != "" {
				req.Header.Set("traceparent", tc.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if len(seen) != 32 || (tc.want != "" && seen != tc.want) {
				t.Errorf("correlation ID = %q, want %q", seen, tc.want)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seen {
				t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
			}
			if !strings.Contains(rec.Header().Get("traceparent"), seen) {
				t.Errorf("traceparent %q does not carry trace %s", rec.Header().Get("traceparent"), seen)
			}
		})
	}
}
