// Package segment splits raw transcript text into ordered sentence units.
//
// Two strategies exist. [StrategyLinguistic] uses Unicode sentence boundaries
// (UAX #29) and, for text detected as Thai, also breaks at the single spaces
// Thai writing uses between clauses. [StrategyRegex] is a punctuation and
// newline splitter. The linguistic tokenizer falls back to the regex one when
// it fails or returns spans that would lose characters.
//
// Segmentation is lossless: every rune of the input is either inside a unit
// or inside the separator between two units, and [Segmentation.Rejoin]
// reproduces the input byte for byte.
package segment

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrMalformedInput is returned when the input is not valid UTF-8 text.
var ErrMalformedInput = errors.New("segment: input is not valid UTF-8 text")

const defaultMaxUnitRunes = 150

// Strategy selects the segmentation mode.
type Strategy string

const (
	// StrategyLinguistic uses the language-aware tokenizer.
	StrategyLinguistic Strategy = "linguistic"

	// StrategyRegex uses the punctuation/newline splitter only.
	StrategyRegex Strategy = "regex"
)

// IsValid reports whether s is a recognised strategy.
func (s Strategy) IsValid() bool {
	return s == StrategyLinguistic || s == StrategyRegex
}

// SentenceUnit is one sentence of the input. Start and End are byte offsets
// into the source text; both are -1 for units built from pre-split text.
type SentenceUnit struct {
	Text  string
	Index int
	Start int
	End   int
}

// HasSpan reports whether the unit carries source offsets.
func (u SentenceUnit) HasSpan() bool {
	return u.Start >= 0 && u.End >= u.Start
}

// FromTexts wraps already-split sentences into units without source spans.
func FromTexts(texts []string) []SentenceUnit {
	units := make([]SentenceUnit, len(texts))
	for i, t := range texts {
		units[i] = SentenceUnit{Text: t, Index: i, Start: -1, End: -1}
	}
	return units
}

// Texts returns the text of each unit in order.
func Texts(units []SentenceUnit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Text
	}
	return out
}

// Span is a half-open byte range [Start, End).
type Span struct {
	Start int
	End   int
}

// Tokenizer proposes sentence spans for a text. Spans must be ordered,
// non-overlapping and within bounds; anything else is treated as a failure.
type Tokenizer interface {
	Spans(text string) ([]Span, error)
}

// Segmentation is the result of [Segmenter.Segment].
type Segmentation struct {
	source string
	units  []SentenceUnit
}

// Units returns a restartable iterator over the sentence units.
func (s *Segmentation) Units() iter.Seq[SentenceUnit] {
	return func(yield func(SentenceUnit) bool) {
		for _, u := range s.units {
			if !yield(u) {
				return
			}
		}
	}
}

// Slice returns a copy of the units.
func (s *Segmentation) Slice() []SentenceUnit {
	out := make([]SentenceUnit, len(s.units))
	copy(out, s.units)
	return out
}

// Len returns the number of units.
func (s *Segmentation) Len() int { return len(s.units) }

// Source returns the text that was segmented.
func (s *Segmentation) Source() string { return s.source }

// Separators returns the text between units: element 0 precedes the first
// unit, element i sits between unit i-1 and unit i, and the last element
// trails the final unit. There is always one more separator than units.
func (s *Segmentation) Separators() []string {
	seps := make([]string, 0, len(s.units)+1)
	prev := 0
	for _, u := range s.units {
		seps = append(seps, s.source[prev:u.Start])
		prev = u.End
	}
	return append(seps, s.source[prev:])
}

// Rejoin interleaves separators and unit texts. It always equals Source().
func (s *Segmentation) Rejoin() string {
	var b strings.Builder
	b.Grow(len(s.source))
	seps := s.Separators()
	for i, u := range s.units {
		b.WriteString(seps[i])
		b.WriteString(u.Text)
	}
	b.WriteString(seps[len(seps)-1])
	return b.String()
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithStrategy selects the segmentation strategy. Default: linguistic.
func WithStrategy(st Strategy) Option {
	return func(s *Segmenter) {
		if st.IsValid() {
			s.strategy = st
		}
	}
}

// WithTokenizer replaces the linguistic tokenizer.
func WithTokenizer(t Tokenizer) Option {
	return func(s *Segmenter) {
		s.linguistic = t
	}
}

// WithMaxUnitRunes sets the length above which a unit is re-split at
// whitespace runs. Zero or negative disables the refinement. Default: 150.
func WithMaxUnitRunes(n int) Option {
	return func(s *Segmenter) {
		s.maxUnitRunes = n
	}
}

// Segmenter splits text into sentence units. It is safe for concurrent use.
type Segmenter struct {
	strategy     Strategy
	linguistic   Tokenizer
	regex        Tokenizer
	maxUnitRunes int
}

// New returns a Segmenter configured with opts.
func New(opts ...Option) *Segmenter {
	s := &Segmenter{
		strategy:     StrategyLinguistic,
		linguistic:   NewLinguisticTokenizer(),
		regex:        RegexTokenizer{},
		maxUnitRunes: defaultMaxUnitRunes,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Segment splits text into units. Empty or whitespace-only text yields an
// empty segmentation. Invalid UTF-8 yields [ErrMalformedInput].
func (s *Segmenter) Segment(text string) (*Segmentation, error) {
	if !utf8.ValidString(text) {
		return nil, ErrMalformedInput
	}

	var spans []Span
	if s.strategy == StrategyLinguistic && s.linguistic != nil {
		var err error
		spans, err = safeSpans(s.linguistic, text)
		if err == nil {
			err = checkSpans(text, spans)
		}
		if err != nil {
			slog.Warn("linguistic segmentation failed, falling back to regex splitter", "err", err)
			spans = nil
		}
	}
	if spans == nil {
		var err error
		spans, err = s.regex.Spans(text)
		if err != nil {
			return nil, fmt.Errorf("segment: regex splitter: %w", err)
		}
	}

	if s.maxUnitRunes > 0 {
		spans = refineLong(text, spans, s.maxUnitRunes)
	}

	units := make([]SentenceUnit, 0, len(spans))
	for _, sp := range spans {
		sp = trimSpan(text, sp)
		if sp.Start >= sp.End {
			continue
		}
		units = append(units, SentenceUnit{
			Text:  text[sp.Start:sp.End],
			Index: len(units),
			Start: sp.Start,
			End:   sp.End,
		})
	}
	return &Segmentation{source: text, units: units}, nil
}

// safeSpans converts a tokenizer panic into an error.
func safeSpans(t Tokenizer, text string) (spans []Span, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tokenizer panic: %v", r)
		}
	}()
	return t.Spans(text)
}

// checkSpans verifies spans are ordered, non-overlapping and in bounds.
func checkSpans(text string, spans []Span) error {
	prev := 0
	for i, sp := range spans {
		if sp.Start < prev || sp.End < sp.Start || sp.End > len(text) {
			return fmt.Errorf("span %d [%d,%d) is out of order or out of bounds", i, sp.Start, sp.End)
		}
		if sp.Start < len(text) && !utf8.RuneStart(text[sp.Start]) {
			return fmt.Errorf("span %d starts inside a rune", i)
		}
		if strings.TrimSpace(text[prev:sp.Start]) != "" {
			return fmt.Errorf("span %d leaves text %q outside every unit", i, text[prev:sp.Start])
		}
		prev = sp.End
	}
	if strings.TrimSpace(text[prev:]) != "" {
		return fmt.Errorf("trailing text %q is outside every unit", text[prev:])
	}
	return nil
}

// trimSpan shrinks sp so it neither starts nor ends with whitespace.
func trimSpan(text string, sp Span) Span {
	for sp.Start < sp.End {
		r, w := utf8.DecodeRuneInString(text[sp.Start:sp.End])
		if !unicode.IsSpace(r) {
			break
		}
		sp.Start += w
	}
	for sp.End > sp.Start {
		r, w := utf8.DecodeLastRuneInString(text[sp.Start:sp.End])
		if !unicode.IsSpace(r) {
			break
		}
		sp.End -= w
	}
	return sp
}
