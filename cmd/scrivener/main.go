// Command scrivener cleans ASR transcripts: it drops repeated sentences and
// replaces misheard named entities with their canonical spelling.
//
// Batch mode reads one transcript and writes the cleaned text:
//
//	scrivener -config scrivener.yaml -in raw.txt -out clean.txt -run-id ep-42
//
// With -learn-from it instead compares the input against a corrected copy
// and records the differences in the error store. Serve mode runs the HTTP
// API:
//
//	scrivener serve -config scrivener.yaml
//
// Eval mode scores a transcript against a hand-corrected reference and
// prints the word and character error rates as JSON:
//
//	scrivener eval -ref groundtruth.txt -hyp clean.txt -max-wer 10
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/scrivener/internal/app"
	"github.com/MrWong99/scrivener/internal/config"
	"github.com/MrWong99/scrivener/internal/evaluate"
	"github.com/MrWong99/scrivener/internal/observe"
	"github.com/MrWong99/scrivener/internal/transcript"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			os.Exit(runServe(os.Args[2:]))
		case "eval":
			os.Exit(runEval(os.Args[2:], os.Stdout))
		}
	}
	os.Exit(runBatch(os.Args[1:]))
}

// ── Batch mode ────────────────────────────────────────────────────────────────

func runBatch(args []string) int {
	fset := flag.NewFlagSet("scrivener", flag.ContinueOnError)
	configPath := fset.String("config", "scrivener.yaml", "path to the YAML configuration file")
	envFile := fset.String("env-file", ".env", "optional file of SCRIVENER_* environment overrides")
	in := fset.String("in", "-", "transcript to clean, - for stdin")
	out := fset.String("out", "-", "where to write the result, - for stdout")
	runID := fset.String("run-id", "", "identifier recorded with learned corrections (default: random UUID)")
	title := fset.String("title", "", "show title; picks a dedup profile when none is configured")
	learnFrom := fset.String("learn-from", "", "corrected copy of -in; learn its corrections instead of cleaning")
	report := fset.Bool("report", false, "write the full JSON report instead of the cleaned text")
	showVersion := fset.Bool("version", false, "print the version and exit")
	if err := fset.Parse(args); err != nil {
		return 1
	}
	if *showVersion {
		fmt.Println("scrivener", version)
		return 0
	}

	// ── Configuration ─────────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, *envFile, flagSet(fset, "config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrivener: %v\n", err)
		return 1
	}
	// A single run never outlives a reload interval.
	cfg.Stores.ReloadInterval = 0

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogFormat, levelVar(cfg.Server.LogLevel)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := initTelemetry(ctx, cfg)
	defer shutdownTelemetry()

	// ── Input ─────────────────────────────────────────────────────────────────
	raw, err := readInput(*in)
	if err != nil {
		slog.Error("failed to read input", "path", *in, "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, app.WithVersion(version))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}()

	// ── Run ───────────────────────────────────────────────────────────────────
	var result []byte
	if *learnFrom != "" {
		result, err = learn(ctx, application, raw, *learnFrom, *runID)
	} else {
		result, err = process(ctx, application, raw, *runID, *title, *report)
	}
	if err != nil {
		slog.Error("run failed", "err", err)
		return 1
	}

	if err := writeOutput(*out, result); err != nil {
		slog.Error("failed to write output", "path", *out, "err", err)
		return 1
	}
	return 0
}

func process(ctx context.Context, a *app.App, raw, runID, title string, asReport bool) ([]byte, error) {
	rep, err := a.Process(ctx, raw, runID, title)
	if err != nil {
		return nil, err
	}
	for _, w := range rep.Warnings {
		slog.Warn("run finished with a warning", "run_id", rep.RunID, "err", w)
	}
	slog.Info("transcript cleaned",
		"run_id", rep.RunID,
		"sentences", rep.SentenceCount,
		"removed", len(rep.Removed),
		"corrections", len(rep.Corrections),
	)
	if !asReport {
		return []byte(rep.Text), nil
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(data, '\n'), nil
}

func learn(ctx context.Context, a *app.App, raw, correctedPath, sourceID string) ([]byte, error) {
	corrected, err := readInput(correctedPath)
	if err != nil {
		return nil, fmt.Errorf("read corrected transcript: %w", err)
	}
	recs, err := a.Learn(ctx, raw, corrected, sourceID)
	switch {
	case errors.Is(err, transcript.ErrMalformedInput), errors.Is(err, transcript.ErrNoErrorStore):
		return nil, err
	case err != nil:
		slog.Warn("learned corrections were not persisted", "err", err)
	}
	slog.Info("corrections learned", "records", len(recs))
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return append(data, '\n'), nil
}

// ── Serve mode ────────────────────────────────────────────────────────────────

func runServe(args []string) int {
	fset := flag.NewFlagSet("scrivener serve", flag.ContinueOnError)
	configPath := fset.String("config", "scrivener.yaml", "path to the YAML configuration file")
	envFile := fset.String("env-file", ".env", "optional file of SCRIVENER_* environment overrides")
	if err := fset.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath, *envFile, true)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "scrivener: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "scrivener: %v\n", err)
		}
		return 1
	}

	level := levelVar(cfg.Server.LogLevel)
	slog.SetDefault(newLogger(cfg.Server.LogFormat, level))

	slog.Info("scrivener starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"error_store", cfg.Stores.Errors.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := initTelemetry(ctx, cfg)
	defer shutdownTelemetry()

	application, err := app.New(ctx, cfg, app.WithLevelVar(level), app.WithVersion(version))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Eval mode ─────────────────────────────────────────────────────────────────

// runEval writes the score of -hyp against -ref to w. It returns 1 when an
// input cannot be read or the WER is above -max-wer.
func runEval(args []string, w io.Writer) int {
	fset := flag.NewFlagSet("scrivener eval", flag.ContinueOnError)
	refPath := fset.String("ref", "", "hand-corrected reference transcript")
	hypPath := fset.String("hyp", "-", "transcript to score, - for stdin")
	maxWER := fset.Float64("max-wer", 0, "fail when the word error rate in percent is above this (0: never)")
	if err := fset.Parse(args); err != nil {
		return 1
	}
	if *refPath == "" {
		fmt.Fprintln(os.Stderr, "scrivener eval: -ref is required")
		return 1
	}

	ref, err := readInput(*refPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrivener eval: read reference: %v\n", err)
		return 1
	}
	hyp, err := readInput(*hypPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrivener eval: read hypothesis: %v\n", err)
		return 1
	}

	score := evaluate.Compare(ref, hyp)
	data, err := json.MarshalIndent(score, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrivener eval: encode score: %v\n", err)
		return 1
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return 1
	}
	if *maxWER > 0 && score.WER.Percent > *maxWER {
		fmt.Fprintf(os.Stderr, "scrivener eval: WER %.2f%% is above %.2f%%\n", score.WER.Percent, *maxWER)
		return 1
	}
	return 0
}

// ── Setup helpers ─────────────────────────────────────────────────────────────

// loadConfig loads envFile into the environment and then the config at path.
// A missing env file is ignored. A missing config file is an error only when
// required; otherwise the defaults plus environment overrides are used.
func loadConfig(path, envFile string, required bool) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %q: %w", envFile, err)
		}
	}

	cfg, err := config.Load(path)
	if err == nil || required || !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}

	cfg = config.Default()
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initTelemetry installs the OpenTelemetry providers when metrics are
// enabled and returns a function that flushes them.
func initTelemetry(ctx context.Context, cfg *config.Config) func() {
	if !cfg.Observe.Metrics {
		return func() {}
	}
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observe.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Warn("telemetry disabled", "err", err)
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}
}

func flagSet(fset *flag.FlagSet, name string) bool {
	set := false
	fset.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func levelVar(level config.LogLevel) *slog.LevelVar {
	v := new(slog.LevelVar)
	v.Set(level.SlogLevel())
	return v
}

func newLogger(format config.LogFormat, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// ── I/O ───────────────────────────────────────────────────────────────────────

func readInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
