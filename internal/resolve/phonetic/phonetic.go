// Package phonetic scores a candidate token against knowledge base aliases
// using Jaro-Winkler string similarity, with a Double Metaphone agreement
// bonus for Latin-script input.
//
// Scoring proceeds in two stages:
//
//  1. Jaro-Winkler: the folded token is compared with the folded alias as a
//     whole, with spaces removed, and word by word when both have the same
//     number of words. The highest of these is the base score.
//
//  2. Phonetic agreement: when token and alias are both Latin script and any
//     of their Double Metaphone codes overlap, a small bonus is added. Thai
//     aliases have no Metaphone codes and are scored on spelling alone.
//
// Inputs are expected to be folded with textnorm.Fold already.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/scrivener/internal/knowledge"
	"github.com/MrWong99/scrivener/internal/textnorm"
)

const defaultPhoneticBonus = 0.05

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticBonus sets the amount added to the Jaro-Winkler score when a
// Latin token and alias share a Double Metaphone code. Default: 0.05.
func WithPhoneticBonus(bonus float64) Option {
	return func(m *Matcher) {
		m.bonus = bonus
	}
}

// Matcher is a phonetic alias scorer. It is read-only after construction and
// safe for concurrent use.
type Matcher struct {
	bonus float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{bonus: defaultPhoneticBonus}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Score returns the similarity of token to alias in [0, 1].
func (m *Matcher) Score(token string, alias knowledge.Alias) float64 {
	if token == "" || alias.Form == "" {
		return 0
	}
	if token == alias.Form {
		return 1
	}

	tokenWords := strings.Fields(token)
	aliasWords := strings.Fields(alias.Form)
	score := bestJWScore(tokenWords, aliasWords, token, alias.Form)

	if m.bonus > 0 && alias.Latin && textnorm.IsLatin(token) {
		if codesOverlap(codesForTokens(tokenWords), codesForTokens(aliasWords)) {
			score += m.bonus
		}
	}
	return min(score, 1)
}

// Best returns the highest scoring alias among candidates. Ties keep the
// earlier candidate. ok is false when candidates is empty or every score is
// zero.
func (m *Matcher) Best(token string, candidates []knowledge.Alias) (best knowledge.Alias, score float64, ok bool) {
	for _, a := range candidates {
		if s := m.Score(token, a); s > score {
			best, score, ok = a, s, true
		}
	}
	return best, score, ok
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between input and
// alias using three strategies:
//
//  1. Full-string comparison ("amata korp" vs "amata corp").
//  2. Space-stripped comparison ("set index" vs "setindex").
//  3. Position-wise mean over words, only when both sides have the same word
//     count. A single shared word never scores a multi-word alias on its own.
func bestJWScore(inputTokens, aliasTokens []string, inputFull, aliasFull string) float64 {
	score := matchr.JaroWinkler(inputFull, aliasFull, false)

	if len(inputTokens) > 1 || len(aliasTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(aliasTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	if len(inputTokens) > 1 && len(inputTokens) == len(aliasTokens) {
		var sum float64
		for i := range inputTokens {
			sum += matchr.JaroWinkler(inputTokens[i], aliasTokens[i], false)
		}
		if s := sum / float64(len(inputTokens)); s > score {
			score = s
		}
	}

	return score
}
