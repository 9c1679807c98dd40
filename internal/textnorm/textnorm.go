// Package textnorm holds the normalisation primitives shared by the sentence
// similarity scorer, the entity knowledge store and the fuzzy resolver.
//
// Every component that compares two pieces of text must fold them through the
// same functions here, otherwise an alias compiled at load time would never
// match the token it was meant to catch.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// isLatinDiacritic reports whether r is a combining mark from the Combining
// Diacritical Marks block. Thai vowel and tone marks are also category Mn but
// carry meaning, so they are left alone.
func isLatinDiacritic(r rune) bool {
	return r >= 0x0300 && r <= 0x036F
}

// stripDiacritics removes Latin accents: "Café" -> "Cafe".
func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.Predicate(isLatinDiacritic)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// IsWordRune reports whether r belongs inside a word. Combining marks count as
// word runes so that Thai syllables survive normalisation intact.
func IsWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.In(r, unicode.Mn, unicode.Mc)
}

// isJoiner returns true for punctuation that commonly appears inside names and
// numbers ("S&P", "16.90", "SET-50").
func isJoiner(r rune) bool {
	switch r {
	case '&', '.', '-', '\'', '/':
		return true
	}
	return false
}

// Fold is the canonical comparison key for a token or alias: NFKC, Latin
// diacritics removed, case folded, leading/trailing punctuation trimmed and
// inner whitespace collapsed to single spaces.
func Fold(s string) string {
	s = norm.NFKC.String(s)
	s = stripDiacritics(s)
	s = cases.Fold().String(s)
	s = strings.TrimFunc(s, func(r rune) bool { return !IsWordRune(r) })
	return strings.Join(strings.Fields(s), " ")
}

// Compact folds s and replaces every non-word rune except inner joiners with a
// space. It is the form sentences are compared in by the similarity scorer.
func Compact(s string) string {
	folded := cases.Fold().String(stripDiacritics(norm.NFKC.String(s)))

	var out strings.Builder
	out.Grow(len(folded))
	lastWasSpace := true
	rs := []rune(folded)
	for i, r := range rs {
		keep := IsWordRune(r)
		if !keep && isJoiner(r) && i > 0 && i < len(rs)-1 {
			keep = IsWordRune(rs[i-1]) && IsWordRune(rs[i+1])
		}
		if keep {
			out.WriteRune(r)
			lastWasSpace = false
			continue
		}
		if !lastWasSpace {
			out.WriteByte(' ')
			lastWasSpace = true
		}
	}
	return strings.TrimRight(out.String(), " ")
}

// Token is a whitespace-delimited token with byte offsets into the text it was
// cut from. Core marks the token without surrounding punctuation.
type Token struct {
	Text      string
	Start     int
	End       int
	CoreStart int
	CoreEnd   int
}

// Core returns the token text without leading/trailing punctuation.
func (t Token) Core() string {
	return t.Text[t.CoreStart-t.Start : t.CoreEnd-t.Start]
}

// Tokens splits s on Unicode whitespace and records byte offsets.
func Tokens(s string) []Token {
	var out []Token
	i := 0
	for i < len(s) {
		for i < len(s) {
			r, w := utf8.DecodeRuneInString(s[i:])
			if !unicode.IsSpace(r) {
				break
			}
			i += w
		}
		start := i
		for i < len(s) {
			r, w := utf8.DecodeRuneInString(s[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += w
		}
		if start == i {
			continue
		}
		tok := Token{Text: s[start:i], Start: start, End: i}
		tok.CoreStart, tok.CoreEnd = coreBounds(s, start, i)
		out = append(out, tok)
	}
	return out
}

// coreBounds trims non-word runes from both ends of s[start:end].
func coreBounds(s string, start, end int) (int, int) {
	cs, ce := start, end
	for cs < ce {
		r, w := utf8.DecodeRuneInString(s[cs:ce])
		if IsWordRune(r) {
			break
		}
		cs += w
	}
	for ce > cs {
		r, w := utf8.DecodeLastRuneInString(s[cs:ce])
		if IsWordRune(r) {
			break
		}
		ce -= w
	}
	return cs, ce
}

// IsLatin reports whether every letter in s is from the Latin script and s
// contains at least one letter.
func IsLatin(s string) bool {
	letters := 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.Is(unicode.Latin, r) {
			return false
		}
		letters++
	}
	return letters > 0
}

// HasUpper reports whether s contains an upper-case letter.
func HasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

// HasDigit reports whether s contains a decimal digit.
func HasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// RuneLen is utf8.RuneCountInString, exported for readability at call sites.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
