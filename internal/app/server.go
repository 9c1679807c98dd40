package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/scrivener/internal/errstore"
	"github.com/MrWong99/scrivener/internal/health"
	"github.com/MrWong99/scrivener/internal/observe"
	"github.com/MrWong99/scrivener/internal/transcript"
)

// maxBodyBytes bounds request bodies on the API.
const maxBodyBytes = 16 << 20

// shutdownTimeout is how long Run waits for in-flight requests.
const shutdownTimeout = 15 * time.Second

// ProcessRequest is the body of POST /v1/process.
type ProcessRequest struct {
	Text  string `json:"text"`
	RunID string `json:"run_id"`
	Title string `json:"title"`
}

// LearnRequest is the body of POST /v1/learn.
type LearnRequest struct {
	Raw       string `json:"raw"`
	Corrected string `json:"corrected"`
	SourceID  string `json:"source_id"`
}

// LearnResponse is the body returned by POST /v1/learn.
type LearnResponse struct {
	Records  []errstore.CorrectionRecord `json:"records"`
	Warnings []string                    `json:"warnings"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the HTTP API: the /v1 routes, health checks and, when
// metrics are enabled, the Prometheus scrape endpoint. Every route is
// wrapped in [observe.Middleware].
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/process", a.handleProcess)
	mux.HandleFunc("POST /v1/learn", a.handleLearn)
	mux.HandleFunc("GET /v1/corrections", a.handleCorrections)
	mux.HandleFunc("GET /v1/version", a.handleVersion)

	health.New(a.Checkers()).Register(mux)

	if a.cfg.Load().Observe.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

// Checkers returns the readiness checks: the knowledge base loaded and the
// error store reachable.
func (a *App) Checkers() []health.Checker {
	return []health.Checker{
		{Name: "knowledge_base", Check: func(context.Context) error {
			a.mu.Lock()
			defer a.mu.Unlock()
			return a.kbWarn
		}},
		{Name: "error_store", Check: func(ctx context.Context) error {
			if p, ok := a.errs.(interface{ Ping(context.Context) error }); ok {
				return p.Ping(ctx)
			}
			return nil
		}},
	}
}

// Run serves the HTTP API on the configured listen address until ctx is
// cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Load().Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	slog.Info("http api listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: serve: %w", err)
	}
	return ctx.Err()
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (a *App) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RunID == "" {
		req.RunID = r.Header.Get(observe.RunIDHeader)
	}

	report, err := a.Process(r.Context(), req.Text, req.RunID, req.Title)
	switch {
	case errors.Is(err, transcript.ErrMalformedInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case err != nil:
		observe.Logger(r.Context()).Error("process failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *App) handleLearn(w http.ResponseWriter, r *http.Request) {
	var req LearnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SourceID == "" {
		req.SourceID = r.Header.Get(observe.RunIDHeader)
	}

	recs, err := a.Learn(r.Context(), req.Raw, req.Corrected, req.SourceID)
	if errors.Is(err, transcript.ErrMalformedInput) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err != nil && (errors.Is(err, transcript.ErrNoErrorStore) || r.Context().Err() != nil) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := LearnResponse{Records: recs, Warnings: []string{}}
	if resp.Records == nil {
		resp.Records = []errstore.CorrectionRecord{}
	}
	if err != nil {
		observe.Logger(r.Context()).Warn("learn finished with store errors", "err", err)
		resp.Warnings = append(resp.Warnings, err.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleCorrections(w http.ResponseWriter, _ *http.Request) {
	recs := a.errs.Records()
	if recs == nil {
		recs = []errstore.CorrectionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": a.version})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// decodeBody decodes a JSON request body into v. On failure it writes a 400
// response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}
