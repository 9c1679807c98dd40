package transcript_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/scrivener/internal/dedup"
	"github.com/MrWong99/scrivener/internal/errstore"
	"github.com/MrWong99/scrivener/internal/knowledge"
	"github.com/MrWong99/scrivener/internal/observe"
	"github.com/MrWong99/scrivener/internal/resolve"
	"github.com/MrWong99/scrivener/internal/segment"
	"github.com/MrWong99/scrivener/internal/transcript"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

const testKB = `
SET Index:
  category: market
  aliases: [เซตเด็กซ์]
AMATA:
  category: ticker
  aliases: [อมตะ]
contexts:
  ticker: [หุ้น]
`

// repeated is a chunked transcript whose second line repeats the first.
const repeated = "ดัชนี เซตเด็ก ปิดบวก\nดัชนี เซตเด็ก ปิดบวก\nหุ้น อมตะ ขึ้น\n"

func mustHolder(t *testing.T) *knowledge.Holder {
	t.Helper()
	kb, err := knowledge.Parse([]byte(testKB), knowledge.FormatYAML)
	if err != nil {
		t.Fatalf("knowledge.Parse: %v", err)
	}
	return knowledge.NewHolder(kb)
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func newEngine(t *testing.T, errs errstore.Store, opts ...transcript.Option) *transcript.Engine {
	t.Helper()
	m, _ := newTestMetrics(t)
	base := []transcript.Option{
		transcript.WithSegmenter(segment.New(segment.WithStrategy(segment.StrategyRegex))),
		transcript.WithMetrics(m),
	}
	return transcript.New(mustHolder(t), errs, append(base, opts...)...)
}

func sumValue(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				if key == "" {
					total += dp.Value
					continue
				}
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
			return total
		}
	}
	return 0
}

// ─── Process ─────────────────────────────────────────────────────────────────

func TestProcess_DedupThenResolve(t *testing.T) {
	t.Parallel()
	store := errstore.NewMemStore()
	e := newEngine(t, store)

	report, err := e.Process(context.Background(), repeated, "ep-1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if want := "ดัชนี SET Index ปิดบวก\nหุ้น AMATA ขึ้น\n"; report.Text != want {
		t.Errorf("Text = %q, want %q", report.Text, want)
	}
	if report.SentenceCount != 3 {
		t.Errorf("SentenceCount = %d, want 3", report.SentenceCount)
	}
	if len(report.Removed) != 1 || report.Removed[0].OriginalIndex != 1 || report.Removed[0].MatchedIndex != 0 {
		t.Errorf("Removed = %+v, want line 1 as a duplicate of line 0", report.Removed)
	}
	if len(report.Corrections) != 2 {
		t.Fatalf("Corrections = %+v, want 2", report.Corrections)
	}
	if got := report.Corrections[1].Position.Sentence; got != 1 {
		t.Errorf("second correction in sentence %d, want 1", got)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", report.Warnings)
	}

	// The repeated sentence is resolved once.
	rec, ok := store.Lookup("เซตเด็ก")
	if !ok || rec.Frequency != 1 {
		t.Errorf("record = %+v (found %v), want frequency 1", rec, ok)
	}
}

func TestProcess_SecondRunUsesLearnedCorrections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "corrections.json")

	first := errstore.NewFileStore(path)
	if err := first.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := newEngine(t, first).Process(ctx, repeated, "ep-1"); err != nil {
		t.Fatalf("run 1: %v", err)
	}

	second := errstore.NewFileStore(path)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	report, err := newEngine(t, second).Process(ctx, repeated, "ep-2")
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	for _, c := range report.Corrections {
		if c.Method != resolve.MethodErrorStore {
			t.Errorf("correction %q used %s, want %s", c.RawForm, c.Method, resolve.MethodErrorStore)
		}
	}
	rec, _ := second.Lookup("อมตะ")
	if rec.Frequency != 2 || !slices.Equal(rec.SourceIDs, []string{"ep-1", "ep-2"}) {
		t.Errorf("record = %+v, want frequency 2 from both runs", rec)
	}
}

func TestProcess_MalformedInput(t *testing.T) {
	t.Parallel()
	store := errstore.NewMemStore()
	report, err := newEngine(t, store).Process(context.Background(), "ดัชนี \xff\xfe", "ep-1")
	if !errors.Is(err, transcript.ErrMalformedInput) {
		t.Fatalf("error = %v, want ErrMalformedInput", err)
	}
	if report != nil {
		t.Error("got a partial report for malformed input")
	}
	if store.Len() != 0 {
		t.Errorf("store has %d records, want 0", store.Len())
	}
}

func TestProcess_EmptyInput(t *testing.T) {
	t.Parallel()
	report, err := newEngine(t, errstore.NewMemStore()).Process(context.Background(), "  \n ", "ep-1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if report.Text != "" || len(report.Sentences) != 0 || len(report.Removed) != 0 || len(report.Corrections) != 0 {
		t.Errorf("report = %+v, want empty", report)
	}
}

func TestProcess_FlushFailureIsWarning(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := errstore.NewFileStore(filepath.Join(blocker, "corrections.json"))

	m, reader := newTestMetrics(t)
	e := newEngine(t, store, transcript.WithMetrics(m))

	report, err := e.Process(context.Background(), repeated, "ep-1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if want := "ดัชนี SET Index ปิดบวก\nหุ้น AMATA ขึ้น\n"; report.Text != want {
		t.Errorf("Text = %q, want %q", report.Text, want)
	}
	var pe *errstore.PersistError
	if len(report.Warnings) != 1 || !errors.As(report.Warnings[0], &pe) {
		t.Fatalf("Warnings = %v, want one PersistError", report.Warnings)
	}
	if got := sumValue(t, reader, "scrivener.errstore.flush_failures", "backend", "file"); got != 1 {
		t.Errorf("flush failures = %d, want 1", got)
	}
}

func TestProcess_KnowledgeLoadWarning(t *testing.T) {
	t.Parallel()
	kb, loadErr := knowledge.LoadOrEmpty(filepath.Join(t.TempDir(), "missing.yaml"))
	if loadErr == nil {
		t.Fatal("LoadOrEmpty: expected an error for a missing file")
	}
	m, _ := newTestMetrics(t)
	e := transcript.New(knowledge.NewHolder(kb), errstore.NewMemStore(),
		transcript.WithSegmenter(segment.New(segment.WithStrategy(segment.StrategyRegex))),
		transcript.WithMetrics(m),
		transcript.WithWarnings(loadErr, nil),
	)

	report, err := e.Process(context.Background(), repeated, "ep-1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	var le *knowledge.LoadError
	if len(report.Warnings) != 1 || !errors.As(report.Warnings[0], &le) {
		t.Fatalf("Warnings = %v, want one knowledge.LoadError", report.Warnings)
	}
	if want := "ดัชนี เซตเด็ก ปิดบวก\nหุ้น อมตะ ขึ้น\n"; report.Text != want {
		t.Errorf("Text = %q, want deduplicated but uncorrected %q", report.Text, want)
	}
}

func TestProcess_RemovalGuard(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	e := newEngine(t, nil,
		transcript.WithMetrics(m),
		transcript.WithDedupOptions(dedup.WithMaxRemovalRatio(0.2)),
	)

	report, err := e.Process(context.Background(), repeated, "ep-1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !report.Guarded || len(report.Removed) != 0 || len(report.Sentences) != 3 {
		t.Errorf("report = %+v, want guarded with all 3 sentences", report)
	}
	if got := sumValue(t, reader, "scrivener.dedup.guard_trips", "", ""); got != 1 {
		t.Errorf("guard trips = %d, want 1", got)
	}
}

func TestProcess_Metrics(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	e := newEngine(t, errstore.NewMemStore(), transcript.WithMetrics(m))

	if _, err := e.Process(context.Background(), repeated, "ep-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	checks := []struct {
		name, key, value string
		want             int64
	}{
		{"scrivener.sentences.segmented", "", "", 3},
		{"scrivener.duplicates.removed", "", "", 1},
		{"scrivener.corrections.applied", "method", "fuzzy", 1},
		{"scrivener.corrections.applied", "method", "exact", 1},
		{"scrivener.active_runs", "", "", 0},
	}
	for _, c := range checks {
		if got := sumValue(t, reader, c.name, c.key, c.value); got != c.want {
			t.Errorf("%s{%s=%s} = %d, want %d", c.name, c.key, c.value, got, c.want)
		}
	}
}

func TestProcess_ConcurrentRuns(t *testing.T) {
	t.Parallel()
	store := errstore.NewMemStore()
	e := newEngine(t, store)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			if _, err := e.Process(context.Background(), repeated, "ep"); err != nil {
				t.Errorf("Process: %v", err)
			}
		})
	}
	wg.Wait()

	rec, _ := store.Lookup("อมตะ")
	if rec.Frequency != 8 {
		t.Errorf("Frequency = %d, want 8", rec.Frequency)
	}
}

func TestProcess_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEngine(t, errstore.NewMemStore()).Process(ctx, repeated, "ep-1")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

// ─── stages ──────────────────────────────────────────────────────────────────

func TestDeduplicate(t *testing.T) {
	t.Parallel()
	e := newEngine(t, nil)

	in := []string{
		"ตลาดวันนี้ปิดบวกแรง",
		"ตลาดวันนี้ปิดบวกแรง",
		"นักลงทุนต่างชาติซื้อสุทธิ",
	}
	clean, removed := e.Deduplicate(in)
	if !slices.Equal(clean, []string{in[0], in[2]}) {
		t.Errorf("clean = %q", clean)
	}
	if len(removed) != 1 || removed[0].OriginalIndex != 1 {
		t.Errorf("removed = %+v", removed)
	}

	again, removedAgain := e.Deduplicate(clean)
	if !slices.Equal(again, clean) || len(removedAgain) != 0 {
		t.Error("second pass changed an already deduplicated list")
	}

	empty, none := e.Deduplicate(nil)
	if len(empty) != 0 || len(none) != 0 {
		t.Errorf("Deduplicate(nil) = %q, %+v", empty, none)
	}
}

func TestResolveEntities(t *testing.T) {
	t.Parallel()
	store := errstore.NewMemStore()
	e := newEngine(t, store)

	resolved, corrections, err := e.ResolveEntities(context.Background(), []string{"หุ้น อมตะ ขึ้น", "ไม่มีชื่อ"}, "ep-1")
	if err != nil {
		t.Fatalf("ResolveEntities: %v", err)
	}
	if !slices.Equal(resolved, []string{"หุ้น AMATA ขึ้น", "ไม่มีชื่อ"}) {
		t.Errorf("resolved = %q", resolved)
	}
	if len(corrections) != 1 || corrections[0].CorrectedForm != "AMATA" {
		t.Errorf("corrections = %+v", corrections)
	}

	resolved, corrections, err = e.ResolveEntities(context.Background(), nil, "ep-1")
	if err != nil || len(resolved) != 0 || len(corrections) != 0 {
		t.Errorf("empty input: %q, %+v, %v", resolved, corrections, err)
	}
}

// ─── Learn ───────────────────────────────────────────────────────────────────

func TestLearn_FeedsNextRun(t *testing.T) {
	t.Parallel()
	store := errstore.NewMemStore()
	e := transcript.New(nil, store,
		transcript.WithSegmenter(segment.New(segment.WithStrategy(segment.StrategyRegex))),
	)

	recs, err := e.Learn(context.Background(), "ราคา เซตเด็ก วันนี้", "ราคา เซตเด็กซ์ วันนี้", "llm-pass")
	if err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if len(recs) != 1 || recs[0].CorrectedForm != "เซตเด็กซ์" {
		t.Fatalf("records = %+v", recs)
	}

	report, err := e.Process(context.Background(), "ดู เซตเด็ก ก่อน", "ep-9")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if report.Text != "ดู เซตเด็กซ์ ก่อน" {
		t.Errorf("Text = %q", report.Text)
	}
	if len(report.Corrections) != 1 || report.Corrections[0].Method != resolve.MethodErrorStore {
		t.Errorf("corrections = %+v", report.Corrections)
	}
}

func TestLearn_Errors(t *testing.T) {
	t.Parallel()
	if _, err := transcript.New(nil, nil).Learn(context.Background(), "a", "b", "x"); !errors.Is(err, transcript.ErrNoErrorStore) {
		t.Errorf("no store: error = %v, want ErrNoErrorStore", err)
	}
	e := transcript.New(nil, errstore.NewMemStore())
	if _, err := e.Learn(context.Background(), "\xff", "b", "x"); !errors.Is(err, transcript.ErrMalformedInput) {
		t.Errorf("bad utf-8: error = %v, want ErrMalformedInput", err)
	}
}
