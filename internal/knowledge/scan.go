package knowledge

import (
	"cmp"
	"slices"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/scrivener/internal/textnorm"
)

// hayToken maps one folded token in the scan haystack back to the source.
type hayToken struct {
	hayStart, hayEnd   int
	origStart, origEnd int
	// identical means the folded bytes equal the source bytes, so offsets
	// inside the token map one to one.
	identical bool
}

// Scan finds every known alias in text. Overlapping hits are resolved
// leftmost-longest. Aliases that begin or end with a Latin letter or digit
// only match on a word boundary there, so "ci" is not found inside "Citi".
// Thai aliases may match inside a token.
func (s *Store) Scan(text string) []Mention {
	if s.ac == nil || text == "" {
		return nil
	}

	var hay strings.Builder
	var toks []hayToken
	for _, tok := range textnorm.Tokens(text) {
		core := text[tok.CoreStart:tok.CoreEnd]
		folded := textnorm.Fold(core)
		if folded == "" {
			continue
		}
		if hay.Len() > 0 {
			hay.WriteByte(' ')
		}
		start := hay.Len()
		hay.WriteString(folded)
		toks = append(toks, hayToken{
			hayStart:  start,
			hayEnd:    hay.Len(),
			origStart: tok.CoreStart,
			origEnd:   tok.CoreEnd,
			identical: folded == core,
		})
	}
	haystack := hay.String()
	if haystack == "" {
		return nil
	}

	var found []Mention
	for _, m := range s.ac.FindAllOverlapping([]byte(haystack)) {
		if m.Start >= m.End || m.PatternID < 0 || m.PatternID >= len(s.patterns) {
			continue
		}
		if !onBoundary(haystack, m.Start, m.End) {
			continue
		}
		first := tokenAt(toks, m.Start)
		last := tokenAt(toks, m.End-1)
		if first < 0 || last < 0 {
			continue
		}
		form := s.patterns[m.PatternID]
		found = append(found, Mention{
			Start:   mapStart(toks[first], m.Start),
			End:     mapEnd(toks[last], m.End),
			Form:    form,
			Records: s.byForm[form],
		})
	}
	return dropOverlaps(found)
}

// onBoundary rejects hits that cut a Latin word or a number in half.
func onBoundary(hay string, start, end int) bool {
	first, _ := utf8.DecodeRuneInString(hay[start:end])
	if isLatinWordRune(first) && start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(hay[:start])
		if isLatinWordRune(prev) {
			return false
		}
	}
	last, _ := utf8.DecodeLastRuneInString(hay[start:end])
	if isLatinWordRune(last) && end < len(hay) {
		next, _ := utf8.DecodeRuneInString(hay[end:])
		if isLatinWordRune(next) {
			return false
		}
	}
	return true
}

func isLatinWordRune(r rune) bool {
	return unicode.IsDigit(r) || (unicode.IsLetter(r) && unicode.Is(unicode.Latin, r))
}

// tokenAt returns the index of the token containing haystack byte pos, or -1
// when pos falls on a separator.
func tokenAt(toks []hayToken, pos int) int {
	i := sort.Search(len(toks), func(i int) bool { return toks[i].hayEnd > pos })
	if i == len(toks) || toks[i].hayStart > pos {
		return -1
	}
	return i
}

func mapStart(t hayToken, pos int) int {
	if t.identical {
		return t.origStart + (pos - t.hayStart)
	}
	return t.origStart
}

func mapEnd(t hayToken, pos int) int {
	if t.identical {
		return t.origStart + (pos - t.hayStart)
	}
	return t.origEnd
}

// dropOverlaps keeps the leftmost, then longest, of any overlapping mentions.
func dropOverlaps(ms []Mention) []Mention {
	slices.SortFunc(ms, func(a, b Mention) int {
		return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(b.End, a.End))
	})
	out := ms[:0]
	end := -1
	for _, m := range ms {
		if m.Start < end {
			continue
		}
		out = append(out, m)
		end = m.End
	}
	return out
}
