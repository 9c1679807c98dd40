package transcript

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/scrivener/internal/dedup"
	"github.com/MrWong99/scrivener/internal/errstore"
	"github.com/MrWong99/scrivener/internal/knowledge"
	"github.com/MrWong99/scrivener/internal/observe"
	"github.com/MrWong99/scrivener/internal/resolve"
	"github.com/MrWong99/scrivener/internal/segment"
)

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithSegmenter replaces the default linguistic segmenter.
func WithSegmenter(s *segment.Segmenter) Option {
	return func(e *Engine) {
		e.segmenter = s
	}
}

// WithDedupOptions configures the duplicate detector. The quality scorer
// counts entity mentions from the current knowledge base unless an option
// replaces it.
func WithDedupOptions(opts ...dedup.Option) Option {
	return func(e *Engine) {
		e.dedupOpts = append(e.dedupOpts, opts...)
	}
}

// WithResolverOptions configures the entity resolver.
func WithResolverOptions(opts ...resolve.Option) Option {
	return func(e *Engine) {
		e.resolveOpts = append(e.resolveOpts, opts...)
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithWarnings attaches start-up problems, such as a knowledge base that
// failed to load, to every [Report].
func WithWarnings(errs ...error) Option {
	return func(e *Engine) {
		for _, err := range errs {
			if err != nil {
				e.warnings = append(e.warnings, err)
			}
		}
	}
}

// Engine wires the segmenter, duplicate detector, entity resolver and error
// store into one pipeline. Each run reads the knowledge base from its
// [knowledge.Holder] once, so a reload never changes a store mid-run.
type Engine struct {
	kb          *knowledge.Holder
	errs        errstore.Store
	segmenter   *segment.Segmenter
	dedupOpts   []dedup.Option
	resolveOpts []resolve.Option
	metrics     *observe.Metrics
	warnings    []error
}

// New returns an engine over kb and errs. A nil kb behaves as an empty
// knowledge base; a nil errs disables learning.
func New(kb *knowledge.Holder, errs errstore.Store, opts ...Option) *Engine {
	if kb == nil {
		kb = knowledge.NewHolder(nil)
	}
	e := &Engine{
		kb:   kb,
		errs: errs,
	}
	for _, o := range opts {
		o(e)
	}
	if e.segmenter == nil {
		e.segmenter = segment.New()
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// ErrorStore returns the engine's error store, or nil.
func (e *Engine) ErrorStore() errstore.Store { return e.errs }

// Knowledge returns the knowledge base the next run will use.
func (e *Engine) Knowledge() *knowledge.Store { return e.kb.Load() }

func (e *Engine) detector(kb *knowledge.Store) *dedup.Detector {
	opts := make([]dedup.Option, 0, len(e.dedupOpts)+1)
	opts = append(opts, dedup.WithQuality(dedup.Heuristic{Entities: kb}))
	return dedup.NewDetector(append(opts, e.dedupOpts...)...)
}

func (e *Engine) resolver(kb *knowledge.Store) *resolve.Resolver {
	return resolve.New(kb, e.errs, e.resolveOpts...)
}

// Deduplicate removes near-duplicate sentences. clean keeps the survivors
// in input order; removed indices refer to positions in sentences.
func (e *Engine) Deduplicate(sentences []string) (clean []string, removed []dedup.Removal) {
	res := e.detector(e.kb.Load()).Deduplicate(segment.FromTexts(sentences))
	return segment.Texts(res.Kept), res.Removed
}

// ResolveEntities corrects entity names in every sentence and records each
// accepted correction under runID. Sentence order is preserved. The error
// store is not flushed; call [Engine.Flush] when the run is complete.
func (e *Engine) ResolveEntities(ctx context.Context, sentences []string, runID string) (resolved []string, corrections []resolve.Correction, err error) {
	res, err := e.resolver(e.kb.Load()).ResolveEntities(ctx, sentences, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("transcript: %w", err)
	}
	e.recordResolve(ctx, res)
	return res.Resolved, res.Corrections, nil
}

// Flush persists the error store. It is a no-op without one.
func (e *Engine) Flush(ctx context.Context) error {
	if e.errs == nil {
		return nil
	}
	ctx, end := observe.StartStage(ctx, e.metrics, observe.StageFlush)
	defer end()

	err := e.errs.Flush(ctx)
	if err == nil {
		return nil
	}
	var pe *errstore.PersistError
	if !errors.As(err, &pe) {
		pe = &errstore.PersistError{Backend: "unknown", Err: err}
	}
	backend, _, _ := strings.Cut(pe.Backend, " ")
	e.metrics.RecordFlushFailure(ctx, backend)
	return pe
}

// Process runs the full pipeline over text: segment, deduplicate, resolve
// and flush. Invalid UTF-8 fails with [ErrMalformedInput] and a cancelled
// context with its error; nothing else is fatal. A failed flush is reported
// in [Report.Warnings] with the cleaned text intact.
func (e *Engine) Process(ctx context.Context, text, runID string) (*Report, error) {
	ctx, span := observe.StartSpan(ctx, "transcript.Process",
		trace.WithAttributes(observe.RunIDKey.String(runID)),
	)
	defer span.End()

	e.metrics.ActiveRuns.Add(ctx, 1)
	defer e.metrics.ActiveRuns.Add(ctx, -1)

	kb := e.kb.Load()

	_, end := observe.StartStage(ctx, e.metrics, observe.StageSegment)
	seg, err := e.segmenter.Segment(text)
	end()
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	e.metrics.SentencesSegmented.Add(ctx, int64(seg.Len()))

	_, end = observe.StartStage(ctx, e.metrics, observe.StageDedup)
	dres := e.detector(kb).Deduplicate(seg.Slice())
	end()
	e.metrics.DuplicatesRemoved.Add(ctx, int64(len(dres.Removed)))
	if dres.Guarded {
		e.metrics.DedupGuardTrips.Add(ctx, 1)
		observe.Logger(ctx).Warn("dedup guard tripped, keeping every sentence", "run_id", runID, "sentences", seg.Len())
	}

	rctx, end := observe.StartStage(ctx, e.metrics, observe.StageResolve)
	rres, err := e.resolver(kb).ResolveEntities(rctx, segment.Texts(dres.Kept), runID)
	end()
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	e.recordResolve(ctx, rres)

	report := &Report{
		RunID:         runID,
		Text:          rejoin(seg, dres.Kept, rres.Resolved),
		Sentences:     rres.Resolved,
		SentenceCount: seg.Len(),
		Removed:       dres.Removed,
		Guarded:       dres.Guarded,
		Corrections:   rres.Corrections,
		Rejections:    rres.Rejections,
		Warnings:      slices.Clone(e.warnings),
	}
	if report.Removed == nil {
		report.Removed = []dedup.Removal{}
	}

	if err := e.Flush(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("transcript: %w", ctxErr)
		}
		observe.Logger(ctx).Warn("failed to persist error store", "run_id", runID, "err", err)
		report.Warnings = append(report.Warnings, err)
	}

	observe.Logger(ctx).Info("transcript processed",
		"run_id", runID,
		"sentences", report.SentenceCount,
		"removed", len(report.Removed),
		"corrections", len(report.Corrections),
		"rejections", len(report.Rejections),
	)
	return report, nil
}

// Learn extracts the replacements an external correction pass made to
// rawText, records the plausible ones under sourceID and flushes the store.
// Pairs that fail validation are skipped silently; the returned error only
// reports store failures.
func (e *Engine) Learn(ctx context.Context, rawText, correctedText, sourceID string) ([]errstore.CorrectionRecord, error) {
	if e.errs == nil {
		return nil, ErrNoErrorStore
	}
	if !utf8.ValidString(rawText) || !utf8.ValidString(correctedText) {
		return nil, fmt.Errorf("transcript: %w", ErrMalformedInput)
	}

	lctx, end := observe.StartStage(ctx, e.metrics, observe.StageLearn)
	recs, err := errstore.Learn(e.errs, rawText, correctedText, sourceID)
	end()
	e.metrics.CorrectionsLearned.Add(lctx, int64(len(recs)))

	if ferr := e.Flush(ctx); ferr != nil {
		err = errors.Join(err, ferr)
	}
	return recs, err
}

func (e *Engine) recordResolve(ctx context.Context, res resolve.Result) {
	for _, c := range res.Corrections {
		e.metrics.RecordCorrection(ctx, string(c.Method))
		if c.Method == resolve.MethodErrorStore {
			e.metrics.ErrorStoreHits.Add(ctx, 1)
		}
	}
	for _, r := range res.Rejections {
		e.metrics.RecordRejection(ctx, r.Rule)
	}
}

// rejoin rebuilds the transcript from the surviving units. Each unit keeps
// the separator that preceded it in the source; the first one takes the
// leading separator of the source.
func rejoin(seg *segment.Segmentation, kept []segment.SentenceUnit, resolved []string) string {
	if len(kept) == 0 {
		return ""
	}
	seps := seg.Separators()
	var b strings.Builder
	b.Grow(len(seg.Source()))
	for i, u := range kept {
		if i == 0 {
			b.WriteString(seps[0])
		} else {
			b.WriteString(seps[u.Index])
		}
		b.WriteString(resolved[i])
	}
	b.WriteString(seps[len(seps)-1])
	return b.String()
}
