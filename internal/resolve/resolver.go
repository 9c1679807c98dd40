// Package resolve reconciles mis-heard entity names in transcript sentences
// with the entity knowledge base.
//
// Every candidate span goes through the same ordered pipeline:
//
//  1. Normalise the span with textnorm.Fold.
//  2. Consult the error store. A learned correction is applied as is, with no
//     scoring and no safety rules, and its frequency is incremented.
//  3. Look the span up in the knowledge base: an exact alias scores 1.0,
//     otherwise the best alias by [Scorer] among the length-filtered
//     candidates is taken if it reaches the match threshold.
//  4. Run the safety [Rule] set in order. The first refusal rejects.
//  5. Accepted: replace the span with the canonical name and record the pair
//     in the error store, tagged with the run ID.
//  6. Rejected: leave the original bytes untouched.
//
// Spans are tried longest first, from [knowledge.Store.MaxAliasWords] words
// down to one, so multi-word aliases win over their parts. A non-Latin token
// that matches nothing as a whole is searched inside: exact aliases first,
// then grapheme windows scored against single-word aliases at
// [MinInsideScore] or better.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scrivener/internal/errstore"
	"github.com/MrWong99/scrivener/internal/knowledge"
	"github.com/MrWong99/scrivener/internal/resolve/phonetic"
	"github.com/MrWong99/scrivener/internal/textnorm"
)

// Defaults for the resolver options.
const (
	DefaultMatchThreshold = 0.80
	DefaultLatinMinScore  = 0.90
	DefaultContextRadius  = 200
)

// Method names the pipeline stage a correction came from.
type Method string

const (
	MethodErrorStore Method = "error_store"
	MethodExact      Method = "exact"
	MethodFuzzy      Method = "fuzzy"
)

// Position locates a span in the input.
type Position struct {
	// Sentence is the index into the input sentences.
	Sentence int `json:"sentence"`

	// Offset is the byte offset of the span in the original sentence.
	Offset int `json:"offset"`
}

// Correction is one applied replacement.
type Correction struct {
	RawForm       string   `json:"raw_form"`
	CorrectedForm string   `json:"corrected_form"`
	Position      Position `json:"position"`
	Method        Method   `json:"method"`
	Score         float64  `json:"score"`
}

// Rejection is a match that scored high enough but was refused by a rule.
type Rejection struct {
	RawForm   string   `json:"raw_form"`
	Candidate string   `json:"candidate"`
	Position  Position `json:"position"`
	Score     float64  `json:"score"`
	Rule      string   `json:"rule"`
}

// Result is the output of [Resolver.ResolveEntities].
type Result struct {
	// Resolved has one entry per input sentence, in input order.
	Resolved []string

	// Corrections are ordered by sentence, then offset.
	Corrections []Correction

	// Rejections are ordered by sentence, then offset.
	Rejections []Rejection
}

// Scorer picks the best alias for a folded span.
type Scorer interface {
	Best(token string, candidates []knowledge.Alias) (knowledge.Alias, float64, bool)
}

// Compile-time check that the phonetic matcher is a Scorer.
var _ Scorer = (*phonetic.Matcher)(nil)

// Option is a functional option for configuring a [Resolver].
type Option func(*Resolver)

// WithThreshold sets the minimum fuzzy score for a match. Default: 0.80.
func WithThreshold(threshold float64) Option {
	return func(r *Resolver) {
		r.threshold = threshold
	}
}

// WithLatinMinScore sets the minimum fuzzy score for Latin-script spans used
// by the default [LatinConfidenceRule]. Default: 0.90.
func WithLatinMinScore(score float64) Option {
	return func(r *Resolver) {
		r.latinMin = score
	}
}

// WithContextRadius sets how many runes on each side of a span the safety
// rules see. Default: 200.
func WithContextRadius(runes int) Option {
	return func(r *Resolver) {
		r.contextRadius = runes
	}
}

// WithRules replaces the default rule set. Calling it with no rules
// disables the safety checks.
func WithRules(rules ...Rule) Option {
	return func(r *Resolver) {
		r.rules = append([]Rule{}, rules...)
	}
}

// WithScorer replaces the phonetic matcher.
func WithScorer(s Scorer) Option {
	return func(r *Resolver) {
		r.scorer = s
	}
}

// WithConcurrency sets how many sentences are resolved in parallel.
// Values below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		r.concurrency = n
	}
}

// WithExtraStopwords adds words that never start or end a candidate span on
// their own, such as Thai function words.
func WithExtraStopwords(words ...string) Option {
	return func(r *Resolver) {
		r.extraStopwords = append(r.extraStopwords, words...)
	}
}

// Resolver applies knowledge base corrections to sentences. It holds no
// per-run state and is safe for concurrent use; the error store serialises
// its own updates.
type Resolver struct {
	kb             *knowledge.Store
	errs           errstore.Store
	scorer         Scorer
	rules          []Rule
	filter         candidateFilter
	threshold      float64
	latinMin       float64
	contextRadius  int
	concurrency    int
	extraStopwords []string
}

// New returns a resolver over kb. A nil kb behaves as an empty knowledge
// base. A nil errs disables the short-circuit and learning.
func New(kb *knowledge.Store, errs errstore.Store, opts ...Option) *Resolver {
	if kb == nil {
		kb = knowledge.Empty()
	}
	r := &Resolver{
		kb:            kb,
		errs:          errs,
		threshold:     DefaultMatchThreshold,
		latinMin:      DefaultLatinMinScore,
		contextRadius: DefaultContextRadius,
		concurrency:   1,
	}
	for _, o := range opts {
		o(r)
	}
	if r.scorer == nil {
		r.scorer = phonetic.New()
	}
	if r.rules == nil {
		r.rules = DefaultRules(kb.Context(), r.latinMin)
	}
	r.concurrency = max(r.concurrency, 1)
	r.filter = newCandidateFilter(r.extraStopwords)
	return r
}

// ResolveEntities resolves every sentence. Sentence order is preserved. The
// only error is a cancelled context.
func (r *Resolver) ResolveEntities(ctx context.Context, sentences []string, runID string) (Result, error) {
	res := Result{
		Resolved:    make([]string, 0, len(sentences)),
		Corrections: []Correction{},
		Rejections:  []Rejection{},
	}
	if len(sentences) == 0 {
		return res, nil
	}

	per := make([]sentenceResult, len(sentences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, s := range sentences {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			per[i] = r.resolveSentence(i, s, runID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("resolve: %w", err)
	}

	for _, p := range per {
		res.Resolved = append(res.Resolved, p.text)
		res.Corrections = append(res.Corrections, p.corrections...)
		res.Rejections = append(res.Rejections, p.rejections...)
	}
	return res, nil
}

type sentenceResult struct {
	text        string
	corrections []Correction
	rejections  []Rejection
}

type outcome int

const (
	outcomeNone   outcome = iota // no match, try a shorter window
	outcomeKeep                  // already canonical
	outcomeAccept                // replace
	outcomeReject                // refused by a rule
)

type decision struct {
	outcome   outcome
	corrected string
	method    Method
	score     float64
	rule      string
}

// sentenceBuilder rewrites one sentence span by span, in increasing offset
// order.
type sentenceBuilder struct {
	index int
	src   string
	out   strings.Builder
	last  int
	res   sentenceResult
}

func (b *sentenceBuilder) apply(start, end int, raw string, d decision) {
	pos := Position{Sentence: b.index, Offset: start}
	switch d.outcome {
	case outcomeAccept:
		b.out.WriteString(b.src[b.last:start])
		b.out.WriteString(d.corrected)
		b.last = end
		b.res.corrections = append(b.res.corrections, Correction{
			RawForm:       raw,
			CorrectedForm: d.corrected,
			Position:      pos,
			Method:        d.method,
			Score:         d.score,
		})
	case outcomeReject:
		b.res.rejections = append(b.res.rejections, Rejection{
			RawForm:   raw,
			Candidate: d.corrected,
			Position:  pos,
			Score:     d.score,
			Rule:      d.rule,
		})
	}
}

func (b *sentenceBuilder) finish() sentenceResult {
	b.out.WriteString(b.src[b.last:])
	b.res.text = b.out.String()
	return b.res
}

func (r *Resolver) resolveSentence(index int, text, runID string) sentenceResult {
	b := &sentenceBuilder{index: index, src: text}
	b.out.Grow(len(text))

	toks := textnorm.Tokens(text)
	maxN := max(1, r.kb.MaxAliasWords())

	for i := 0; i < len(toks); {
		consumed := 0
		for n := min(maxN, len(toks)-i); n >= 1; n-- {
			first, last := toks[i], toks[i+n-1]
			if first.CoreStart >= first.CoreEnd || last.CoreStart >= last.CoreEnd {
				continue
			}
			if !r.filter.windowLike(toks, i, n) {
				continue
			}
			start, end := first.CoreStart, last.CoreEnd
			d := r.decide(text, start, end, n)
			if d.outcome == outcomeNone {
				continue
			}
			r.commit(b, text, start, end, d, runID)
			consumed = n
			break
		}
		if consumed == 0 {
			r.resolveInside(b, text, toks[i], runID)
			consumed = 1
		}
		i += consumed
	}
	return b.finish()
}

// commit applies d to the builder and, for accepted corrections, records the
// pair in the error store.
func (r *Resolver) commit(b *sentenceBuilder, text string, start, end int, d decision, runID string) {
	raw := text[start:end]
	b.apply(start, end, raw, d)

	switch d.outcome {
	case outcomeAccept:
		if r.errs == nil {
			return
		}
		_, err := r.errs.RecordCorrection(errstore.Observation{
			RawForm:       raw,
			CorrectedForm: d.corrected,
			Context:       snippet(text, start, end, errstore.ContextRadius),
			SourceID:      runID,
		})
		if err != nil {
			slog.Warn("resolve: failed to record correction", "raw", raw, "corrected", d.corrected, "err", err)
		}
	case outcomeReject:
		slog.Debug("resolve: match rejected", "raw", raw, "candidate", d.corrected, "rule", d.rule, "score", d.score)
	}
}

// decide runs the pipeline for text[start:end], a window of words tokens.
// Fuzzy scoring only considers aliases with the same number of words that
// pass [worthScoring].
func (r *Resolver) decide(text string, start, end, words int) decision {
	raw := text[start:end]
	folded := textnorm.Fold(raw)
	if folded == "" {
		return decision{}
	}

	if r.errs != nil {
		if rec, ok := r.errs.Lookup(folded); ok {
			if rec.CorrectedForm == raw {
				return decision{outcome: outcomeKeep}
			}
			return decision{
				outcome:   outcomeAccept,
				corrected: rec.CorrectedForm,
				method:    MethodErrorStore,
				score:     1,
			}
		}
	}

	window := r.contextFor(text, start, end)

	if recs := r.kb.Lookup(folded); len(recs) > 0 {
		rec := r.pickRecord(recs, window)
		if raw == rec.CanonicalName {
			return decision{outcome: outcomeKeep}
		}
		return r.check(Candidate{
			Raw:     raw,
			Folded:  folded,
			Record:  rec,
			Alias:   folded,
			Score:   1,
			Exact:   true,
			Context: window,
		}, MethodExact)
	}

	if !hasLetter(folded) {
		return decision{}
	}
	runes := textnorm.RuneLen(folded)
	candidates := slices.DeleteFunc(r.kb.CandidatesFor(folded), func(a knowledge.Alias) bool {
		return a.Words != words || !worthScoring(folded, runes, a)
	})
	alias, score, ok := r.scorer.Best(folded, candidates)
	if !ok || score < r.threshold || alias.Record == nil {
		return decision{}
	}
	if raw == alias.Record.CanonicalName {
		return decision{outcome: outcomeKeep}
	}
	return r.check(Candidate{
		Raw:     raw,
		Folded:  folded,
		Record:  alias.Record,
		Alias:   alias.Form,
		Score:   score,
		Context: window,
	}, MethodFuzzy)
}

// check runs the rule set over c.
func (r *Resolver) check(c Candidate, method Method) decision {
	d := decision{
		outcome:   outcomeAccept,
		corrected: c.Record.CanonicalName,
		method:    method,
		score:     c.Score,
	}
	for _, rule := range r.rules {
		if !rule.Allow(c) {
			d.outcome = outcomeReject
			d.rule = rule.Name()
			return d
		}
	}
	return d
}

// pickRecord chooses among entities sharing one alias: the one whose own
// category vocabulary appears most in context, then the first loaded.
func (r *Resolver) pickRecord(recs []*knowledge.EntityRecord, window string) *knowledge.EntityRecord {
	if len(recs) == 0 {
		return nil
	}
	best, bestHits := recs[0], -1
	vocab := r.kb.Context()
	for _, rec := range recs {
		if hits := contextHits(window, vocab[string(rec.Category)]); hits > bestHits {
			best, bestHits = rec, hits
		}
	}
	return best
}

// contextFor returns the folded text within the context radius around
// text[start:end], with the span itself left out.
func (r *Resolver) contextFor(text string, start, end int) string {
	from, to := widen(text, start, end, r.contextRadius)
	return textnorm.Fold(text[from:start]) + " " + textnorm.Fold(text[end:to])
}

// snippet returns text[start:end] with up to radius runes on either side.
func snippet(text string, start, end, radius int) string {
	from, to := widen(text, start, end, radius)
	return strings.TrimSpace(text[from:to])
}

func widen(text string, start, end, radius int) (int, int) {
	from := start
	for n := 0; n < radius && from > 0; n++ {
		_, w := utf8.DecodeLastRuneInString(text[:from])
		from -= w
	}
	to := end
	for n := 0; n < radius && to < len(text); n++ {
		_, w := utf8.DecodeRuneInString(text[to:])
		to += w
	}
	return from, to
}
