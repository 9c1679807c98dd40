// Package evaluate scores a transcript against a hand-corrected reference
// with word and character error rates.
//
// Words are the whitespace-separated tokens of each text. Characters are
// the runes left after removing spaces and line breaks, so Thai text, which
// is written without word spacing, is still measured fairly by the CER.
// Both rates are edit distances divided by the reference length and are
// reported as percentages rounded to two decimals. An empty reference
// scores 0.
package evaluate

import (
	"math"
	"strings"
)

// Quality labels, ordered from best to worst.
const (
	QualityExcellent        = "Excellent"
	QualityGood             = "Good"
	QualityFair             = "Fair"
	QualityNeedsImprovement = "Needs Improvement"
)

// Edits counts the operations of one minimal alignment.
type Edits struct {
	Substitutions int `json:"substitutions"`
	Deletions     int `json:"deletions"`
	Insertions    int `json:"insertions"`
}

// Total is the edit distance.
func (e Edits) Total() int { return e.Substitutions + e.Deletions + e.Insertions }

// Rate is the error rate of one unit (words or characters).
type Rate struct {
	// Percent is Edits.Total over Reference, times 100, rounded to two
	// decimals.
	Percent    float64 `json:"percent"`
	Reference  int     `json:"reference"`
	Hypothesis int     `json:"hypothesis"`
	Edits      Edits   `json:"edits"`
}

// Score is the result of [Compare].
type Score struct {
	WER     Rate   `json:"wer"`
	CER     Rate   `json:"cer"`
	Quality string `json:"quality"`
}

// Compare scores hypothesis against reference.
func Compare(reference, hypothesis string) Score {
	refWords, hypWords := Words(reference), Words(hypothesis)
	refChars, hypChars := Chars(reference), Chars(hypothesis)

	s := Score{
		WER: rate(align(refWords, hypWords), len(refWords), len(hypWords)),
		CER: rate(align(refChars, hypChars), len(refChars), len(hypChars)),
	}
	s.Quality = Quality(s.WER.Percent)
	return s
}

// Words splits text on runs of whitespace.
func Words(text string) []string { return strings.Fields(text) }

// Chars returns the runes of text with spaces, carriage returns and line
// feeds removed.
func Chars(text string) []rune {
	out := make([]rune, 0, len(text))
	for _, r := range text {
		switch r {
		case ' ', '\r', '\n':
			continue
		}
		out = append(out, r)
	}
	return out
}

// Quality labels a word error rate: under 5 is Excellent, under 10 Good,
// under 20 Fair.
func Quality(wer float64) string {
	switch {
	case wer < 5:
		return QualityExcellent
	case wer < 10:
		return QualityGood
	case wer < 20:
		return QualityFair
	default:
		return QualityNeedsImprovement
	}
}

func rate(e Edits, ref, hyp int) Rate {
	r := Rate{Reference: ref, Hypothesis: hyp, Edits: e}
	if ref > 0 {
		r.Percent = math.Round(float64(e.Total())*10000/float64(ref)) / 100
	}
	return r
}

// align returns the edits of a minimal alignment of hyp to ref. It keeps
// two rows of the distance table, each cell carrying the operation mix of
// the path that reached it, so memory grows with len(hyp) only. On equal
// cost a match or substitution wins over a deletion, and a deletion over an
// insertion.
func align[T comparable](ref, hyp []T) Edits {
	// Common affixes never cost anything.
	for len(ref) > 0 && len(hyp) > 0 && ref[0] == hyp[0] {
		ref, hyp = ref[1:], hyp[1:]
	}
	for len(ref) > 0 && len(hyp) > 0 && ref[len(ref)-1] == hyp[len(hyp)-1] {
		ref, hyp = ref[:len(ref)-1], hyp[:len(hyp)-1]
	}
	switch {
	case len(ref) == 0:
		return Edits{Insertions: len(hyp)}
	case len(hyp) == 0:
		return Edits{Deletions: len(ref)}
	}

	prev := make([]Edits, len(hyp)+1)
	cur := make([]Edits, len(hyp)+1)
	for j := range prev {
		prev[j] = Edits{Insertions: j}
	}
	for i := 1; i <= len(ref); i++ {
		cur[0] = Edits{Deletions: i}
		for j := 1; j <= len(hyp); j++ {
			diag := prev[j-1]
			if ref[i-1] != hyp[j-1] {
				diag.Substitutions++
			}
			best := diag
			if del := prev[j]; del.Total()+1 < best.Total() {
				del.Deletions++
				best = del
			}
			if ins := cur[j-1]; ins.Total()+1 < best.Total() {
				ins.Insertions++
				best = ins
			}
			cur[j] = best
		}
		prev, cur = cur, prev
	}
	return prev[len(hyp)]
}
