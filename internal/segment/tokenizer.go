package segment

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	lingua "github.com/pemistahl/lingua-go"
	"github.com/rivo/uniseg"
)

// boundaryRe matches the end of a sentence for the regex splitter: terminal
// punctuation (optionally closed by a quote or bracket) followed by
// whitespace, or a line break. "16.90" has no whitespace after the dot and is
// not a boundary.
var boundaryRe = regexp.MustCompile(`[.!?…。]+["'”’)\]]*\s+|\n+\s*`)

// RegexTokenizer splits at terminal punctuation and newlines.
type RegexTokenizer struct{}

// Spans implements [Tokenizer].
func (RegexTokenizer) Spans(text string) ([]Span, error) {
	var spans []Span
	prev := 0
	for _, m := range boundaryRe.FindAllStringIndex(text, -1) {
		spans = appendChunk(spans, text, prev, m[1])
		prev = m[1]
	}
	return appendChunk(spans, text, prev, len(text)), nil
}

// LanguageDetector decides whether a chunk of text is Thai.
type LanguageDetector interface {
	IsThai(text string) bool
}

// linguaDetector wraps a lazily built lingua detector restricted to the two
// languages the transcripts mix.
type linguaDetector struct {
	once     sync.Once
	detector lingua.LanguageDetector
}

func (d *linguaDetector) IsThai(text string) bool {
	letters, thai := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.Is(unicode.Thai, r) {
				thai++
			}
		}
	}
	// Too short for a statistical guess; also skip the model when there is
	// no Thai script at all.
	if letters < 6 || thai == 0 {
		return false
	}
	d.once.Do(func() {
		d.detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(lingua.English, lingua.Thai).
			Build()
	})
	lang, ok := d.detector.DetectLanguageOf(text)
	return ok && lang == lingua.Thai
}

// LinguisticOption configures a [LinguisticTokenizer].
type LinguisticOption func(*LinguisticTokenizer)

// WithLanguageDetector overrides the lingua-backed Thai detector.
func WithLanguageDetector(d LanguageDetector) LinguisticOption {
	return func(t *LinguisticTokenizer) {
		t.detector = d
	}
}

// LinguisticTokenizer splits on UAX #29 sentence boundaries. Chunks detected
// as Thai are further split at whitespace between two Thai runes, because
// Thai marks clause ends with a space instead of punctuation.
type LinguisticTokenizer struct {
	detector LanguageDetector
}

// NewLinguisticTokenizer returns a tokenizer using the lingua detector.
func NewLinguisticTokenizer(opts ...LinguisticOption) *LinguisticTokenizer {
	t := &LinguisticTokenizer{detector: &linguaDetector{}}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Spans implements [Tokenizer].
func (t *LinguisticTokenizer) Spans(text string) ([]Span, error) {
	var spans []Span
	offset := 0
	rest := text
	state := -1
	for len(rest) > 0 {
		var sentence string
		sentence, rest, state = uniseg.FirstSentenceInString(rest, state)
		start, end := offset, offset+len(sentence)
		offset = end

		if t.detector != nil && t.detector.IsThai(sentence) {
			spans = append(spans, splitThai(text, start, end)...)
			continue
		}
		spans = appendChunk(spans, text, start, end)
	}
	return spans, nil
}

// splitThai cuts text[start:end] at every whitespace run flanked by Thai
// runes on both sides. Spaces next to Latin words or numbers stay inside the
// chunk so "AMATA ดูแนวต้าน 16.90" remains whole.
func splitThai(text string, start, end int) []Span {
	var spans []Span
	chunkStart := start
	i := start
	for i < end {
		r, w := utf8.DecodeRuneInString(text[i:end])
		if !unicode.IsSpace(r) {
			i += w
			continue
		}
		wsStart := i
		for i < end {
			r2, w2 := utf8.DecodeRuneInString(text[i:end])
			if !unicode.IsSpace(r2) {
				break
			}
			i += w2
		}
		if wsStart == chunkStart || i == end {
			continue
		}
		before, _ := utf8.DecodeLastRuneInString(text[chunkStart:wsStart])
		after, _ := utf8.DecodeRuneInString(text[i:end])
		if isThaiRune(before) && isThaiRune(after) {
			spans = appendChunk(spans, text, chunkStart, wsStart)
			chunkStart = i
		}
	}
	return appendChunk(spans, text, chunkStart, end)
}

func isThaiRune(r rune) bool {
	return unicode.Is(unicode.Thai, r)
}

// appendChunk appends text[start:end] trimmed of whitespace, if non-empty.
func appendChunk(spans []Span, text string, start, end int) []Span {
	sp := trimSpan(text, Span{Start: start, End: end})
	if sp.Start >= sp.End {
		return spans
	}
	return append(spans, sp)
}

// refineLong re-splits spans longer than maxRunes. It first tries runs of two
// or more whitespace characters, then packs words greedily so that no piece
// exceeds maxRunes unless a single word does.
func refineLong(text string, spans []Span, maxRunes int) []Span {
	out := make([]Span, 0, len(spans))
	for _, sp := range spans {
		if utf8.RuneCountInString(text[sp.Start:sp.End]) <= maxRunes {
			out = append(out, sp)
			continue
		}
		for _, piece := range splitWideGaps(text, sp) {
			if utf8.RuneCountInString(text[piece.Start:piece.End]) <= maxRunes {
				out = append(out, piece)
				continue
			}
			out = append(out, packWords(text, piece, maxRunes)...)
		}
	}
	return out
}

// splitWideGaps splits sp at whitespace runs of at least two runes.
func splitWideGaps(text string, sp Span) []Span {
	var pieces []Span
	chunkStart := sp.Start
	i := sp.Start
	for i < sp.End {
		r, w := utf8.DecodeRuneInString(text[i:sp.End])
		if !unicode.IsSpace(r) {
			i += w
			continue
		}
		wsStart, n := i, 0
		for i < sp.End {
			r2, w2 := utf8.DecodeRuneInString(text[i:sp.End])
			if !unicode.IsSpace(r2) {
				break
			}
			i += w2
			n++
		}
		if n >= 2 || strings.ContainsRune(text[wsStart:i], '\n') {
			pieces = appendChunk(pieces, text, chunkStart, wsStart)
			chunkStart = i
		}
	}
	return appendChunk(pieces, text, chunkStart, sp.End)
}

// packWords greedily groups whitespace-separated words of sp into pieces of
// at most maxRunes runes.
func packWords(text string, sp Span, maxRunes int) []Span {
	var pieces []Span
	pieceStart, pieceEnd, pieceRunes := -1, -1, 0
	i := sp.Start
	for i < sp.End {
		// skip whitespace
		wsRunes := 0
		for i < sp.End {
			r, w := utf8.DecodeRuneInString(text[i:sp.End])
			if !unicode.IsSpace(r) {
				break
			}
			i += w
			wsRunes++
		}
		wordStart := i
		for i < sp.End {
			r, w := utf8.DecodeRuneInString(text[i:sp.End])
			if unicode.IsSpace(r) {
				break
			}
			i += w
		}
		if wordStart == i {
			break
		}
		wordRunes := utf8.RuneCountInString(text[wordStart:i])
		if pieceStart < 0 {
			pieceStart, pieceEnd, pieceRunes = wordStart, i, wordRunes
			continue
		}
		if pieceRunes+wsRunes+wordRunes > maxRunes {
			pieces = append(pieces, Span{Start: pieceStart, End: pieceEnd})
			pieceStart, pieceEnd, pieceRunes = wordStart, i, wordRunes
			continue
		}
		pieceEnd = i
		pieceRunes += wsRunes + wordRunes
	}
	if pieceStart >= 0 {
		pieces = append(pieces, Span{Start: pieceStart, End: pieceEnd})
	}
	return pieces
}
