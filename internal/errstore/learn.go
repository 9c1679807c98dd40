package errstore

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/MrWong99/scrivener/internal/similarity"
	"github.com/MrWong99/scrivener/internal/textnorm"
)

// Thresholds applied to extracted corrections before they are recorded.
const (
	// MinLearnSimilarity is the lowest similarity ratio between a raw and a
	// corrected form written in the same script.
	MinLearnSimilarity = 0.4

	// MaxLearnRunes bounds the corrected form unless the raw form is of
	// comparable length.
	MaxLearnRunes = 30

	// MaxLearnTokens bounds both sides of a replacement.
	MaxLearnTokens = 6

	// ContextRadius is the number of runes kept on each side of the raw form.
	ContextRadius = 50

	// maxCrossScriptWords bounds corrections that change script, such as a
	// Thai transliteration replaced with a Latin ticker.
	maxCrossScriptWords = 3
)

// Rejection reasons reported by [ValidateCorrection].
var (
	ErrTooShort        = errors.New("errstore: correction too short")
	ErrTooLong         = errors.New("errstore: correction looks like a sentence")
	ErrTooDissimilar   = errors.New("errstore: correction too dissimilar")
	ErrNotInSource     = errors.New("errstore: phrase not in source text")
	ErrCrossScriptLong = errors.New("errstore: cross-script correction too long")
)

// thaiNumerals are spelled-out Thai number words. A replacement of one of them
// with digits is accepted regardless of similarity.
var thaiNumerals = []string{
	"หนึ่ง", "สอง", "สาม", "สี่", "ห้า", "หก", "เจ็ด", "แปด", "เก้า",
	"สิบ", "ร้อย", "พัน", "หมื่น", "แสน", "ล้าน",
}

// ExtractCorrections diffs rawText against correctedText token by token and
// returns one observation per replaced run of tokens that passes
// [ValidateCorrection]. Tokens are compared on their folded form, so changes
// to case or surrounding punctuation are not corrections.
func ExtractCorrections(rawText, correctedText, sourceID string) []Observation {
	raw := textnorm.Tokens(rawText)
	fixed := textnorm.Tokens(correctedText)
	if len(raw) == 0 || len(fixed) == 0 {
		return nil
	}

	var out []Observation
	for _, h := range diffTokens(raw, fixed) {
		if h.rawLen() == 0 || h.fixedLen() == 0 {
			continue
		}
		if h.rawLen() > MaxLearnTokens || h.fixedLen() > MaxLearnTokens {
			continue
		}
		first, last := raw[h.rawFrom], raw[h.rawTo-1]
		rawForm := rawText[first.CoreStart:last.CoreEnd]
		corrected := correctedText[fixed[h.fixedFrom].CoreStart:fixed[h.fixedTo-1].CoreEnd]
		if rawForm == "" || corrected == "" {
			continue
		}
		if err := ValidateCorrection(rawForm, corrected, rawText); err != nil {
			continue
		}
		out = append(out, Observation{
			RawForm:       rawForm,
			CorrectedForm: corrected,
			Context:       contextAround(rawText, first.CoreStart, last.CoreEnd, ContextRadius),
			SourceID:      sourceID,
		})
	}
	return out
}

// Learn extracts corrections from a corrected transcript and records each of
// them in store. It returns the records as they stand after the update.
func Learn(store Store, rawText, correctedText, sourceID string) ([]CorrectionRecord, error) {
	obs := ExtractCorrections(rawText, correctedText, sourceID)
	out := make([]CorrectionRecord, 0, len(obs))
	var errs []error
	for _, o := range obs {
		rec, err := store.RecordCorrection(o)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %q → %q: %w", o.RawForm, o.CorrectedForm, err))
			continue
		}
		out = append(out, rec)
	}
	return out, errors.Join(errs...)
}

// ValidateCorrection decides whether raw → corrected is worth remembering.
// sourceText is the full raw text the pair was cut from.
func ValidateCorrection(raw, corrected, sourceText string) error {
	rawRunes := textnorm.RuneLen(raw)
	fixedRunes := textnorm.RuneLen(corrected)
	if rawRunes < 2 || fixedRunes < 1 {
		return ErrTooShort
	}
	if fixedRunes > MaxLearnRunes && float64(rawRunes) < 0.8*float64(fixedRunes) {
		return ErrTooLong
	}

	if isNumber(corrected) && containsAny(raw, thaiNumerals) {
		return nil
	}

	if textnorm.IsLatin(raw) != textnorm.IsLatin(corrected) {
		if len(strings.Fields(corrected)) > maxCrossScriptWords {
			return ErrCrossScriptLong
		}
		return nil
	}

	if similarity.Ratio(raw, corrected) < MinLearnSimilarity {
		return ErrTooDissimilar
	}

	words := strings.Fields(corrected)
	if len(words) > 3 {
		source := textnorm.Fold(sourceText)
		matches := 0
		for _, w := range words {
			if textnorm.RuneLen(w) > 2 && strings.Contains(source, textnorm.Fold(w)) {
				matches++
			}
		}
		if float64(matches)/float64(len(words)) < 0.5 {
			return ErrNotInSource
		}
	}
	return nil
}

// hunk is one replaced region: raw[rawFrom:rawTo] became fixed[fixedFrom:fixedTo].
type hunk struct {
	rawFrom, rawTo     int
	fixedFrom, fixedTo int
}

func (h hunk) rawLen() int   { return h.rawTo - h.rawFrom }
func (h hunk) fixedLen() int { return h.fixedTo - h.fixedFrom }

// diffTokens runs a Myers diff over the folded token streams and returns the
// regions between matched tokens. Each distinct token is mapped to one rune,
// so the diff works in memory linear in the input.
func diffTokens(raw, fixed []textnorm.Token) []hunk {
	ids := make(map[string]rune)
	a := tokenRunes(raw, ids)
	b := tokenRunes(fixed, ids)
	if a == nil || b == nil {
		return nil
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = diffTimeout

	var out []hunk
	i, j := 0, 0
	cur := hunk{}
	open := false
	for _, d := range dmp.DiffMainRunes(a, b, false) {
		n := utf8.RuneCountInString(d.Text)
		if d.Type == diffmatchpatch.DiffEqual {
			if open {
				cur.rawTo, cur.fixedTo = i, j
				out = append(out, cur)
				open = false
			}
			i += n
			j += n
			continue
		}
		if !open {
			cur = hunk{rawFrom: i, fixedFrom: j}
			open = true
		}
		if d.Type == diffmatchpatch.DiffDelete {
			i += n
		} else {
			j += n
		}
	}
	if open {
		cur.rawTo, cur.fixedTo = i, j
		out = append(out, cur)
	}
	return out
}

// diffTimeout bounds the diff on pathological inputs. Past it the diff is
// still correct but no longer minimal.
const diffTimeout = 2 * time.Second

// tokenRunes maps each folded token to a rune, assigning new runes from ids.
// Surrogates are skipped so every rune survives a string round trip. It
// returns nil when the transcript has more distinct tokens than runes.
func tokenRunes(toks []textnorm.Token, ids map[string]rune) []rune {
	out := make([]rune, len(toks))
	for k, t := range toks {
		form := textnorm.Fold(t.Text)
		r, ok := ids[form]
		if !ok {
			r = rune(len(ids) + 1)
			if r >= 0xD800 {
				r += 0x800
			}
			if r > utf8.MaxRune {
				return nil
			}
			ids[form] = r
		}
		out[k] = r
	}
	return out
}

// contextAround returns text[start:end] widened by radius runes on each side.
func contextAround(text string, start, end, radius int) string {
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
	return strings.TrimSpace(text[from:to])
}

func isNumber(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '.' || r == ',':
		default:
			return false
		}
	}
	return digits > 0
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
