package resolve

import (
	"strings"
	"unicode/utf8"

	"github.com/orsinium-labs/stopwords"

	"github.com/MrWong99/scrivener/internal/knowledge"
	"github.com/MrWong99/scrivener/internal/textnorm"
)

// minScriptRatio is the shortest rune length ratio between a non-Latin span
// and an alias that is still scored.
const minScriptRatio = 0.75

// candidateFilter decides which token windows are worth a lookup.
type candidateFilter struct {
	english *stopwords.Stopwords
	extra   map[string]struct{}
}

func newCandidateFilter(extra []string) candidateFilter {
	f := candidateFilter{
		english: stopwords.MustGet("en"),
		extra:   make(map[string]struct{}, len(extra)),
	}
	for _, w := range extra {
		if folded := textnorm.Fold(w); folded != "" {
			f.extra[folded] = struct{}{}
		}
	}
	return f
}

func (f candidateFilter) isStopword(folded string) bool {
	if _, ok := f.extra[folded]; ok {
		return true
	}
	return f.english != nil && f.english.Contains(folded)
}

// entityLike reports whether toks[i] looks like it could name an entity:
// capitalised, carrying or next to a digit, or not a stopword.
func (f candidateFilter) entityLike(toks []textnorm.Token, i int) bool {
	core := toks[i].Core()
	if core == "" {
		return false
	}
	if textnorm.HasUpper(core) || textnorm.HasDigit(core) {
		return true
	}
	if i > 0 && textnorm.HasDigit(toks[i-1].Core()) {
		return true
	}
	if i+1 < len(toks) && textnorm.HasDigit(toks[i+1].Core()) {
		return true
	}
	return !f.isStopword(textnorm.Fold(core))
}

// windowLike reports whether toks[i:i+n] is a candidate span. Multi-word
// windows must start and end on entity-like tokens.
func (f candidateFilter) windowLike(toks []textnorm.Token, i, n int) bool {
	if n == 1 {
		return f.entityLike(toks, i)
	}
	return f.entityLike(toks, i) && f.entityLike(toks, i+n-1)
}

// hasLetter reports whether s contains anything worth fuzzy matching.
func hasLetter(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return textnorm.IsWordRune(r) && (r < '0' || r > '9')
	}) >= 0
}

// worthScoring reports whether alias a is worth scoring against the folded
// span. Both must start with the same rune. Outside Latin script, where words
// run together without spaces, their rune lengths must also be within
// minScriptRatio of each other.
func worthScoring(folded string, runes int, a knowledge.Alias) bool {
	r1, _ := utf8.DecodeRuneInString(folded)
	r2, _ := utf8.DecodeRuneInString(a.Form)
	if r1 != r2 {
		return false
	}
	if a.Latin && textnorm.IsLatin(folded) {
		return true
	}
	short, long := min(runes, a.Runes), max(runes, a.Runes)
	return long > 0 && float64(short)/float64(long) >= minScriptRatio
}
