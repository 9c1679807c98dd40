// Package similarity scores how alike two sentences are on their surface
// text. Scores are in [0, 1], symmetric, and 1.0 for identical input.
package similarity

import (
	"github.com/antzucaro/matchr"

	"github.com/MrWong99/scrivener/internal/segment"
	"github.com/MrWong99/scrivener/internal/textnorm"
)

// Scorer compares two sentence units. Implementations must be pure.
type Scorer interface {
	Similarity(a, b segment.SentenceUnit) float64
}

// ScorerFunc adapts a plain function to [Scorer].
type ScorerFunc func(a, b segment.SentenceUnit) float64

// Similarity implements [Scorer].
func (f ScorerFunc) Similarity(a, b segment.SentenceUnit) float64 { return f(a, b) }

// Default is the Levenshtein ratio over compacted text.
var Default Scorer = ScorerFunc(func(a, b segment.SentenceUnit) float64 {
	return Ratio(a.Text, b.Text)
})

// Ratio returns 1 - d/max(|a|, |b|) where d is the rune-level Levenshtein
// distance between the compacted forms of a and b. Two strings that are empty
// after compaction are considered identical.
func Ratio(a, b string) float64 {
	ca, cb := textnorm.Compact(a), textnorm.Compact(b)
	if ca == cb {
		return 1.0
	}
	la, lb := textnorm.RuneLen(ca), textnorm.RuneLen(cb)
	longest := max(la, lb)
	if longest == 0 {
		return 1.0
	}
	d := matchr.Levenshtein(ca, cb)
	score := 1 - float64(d)/float64(longest)
	return min(max(score, 0), 1)
}
