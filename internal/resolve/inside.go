package resolve

import (
	"cmp"
	"slices"
	"unicode/utf8"

	"github.com/rivo/uniseg"

	"github.com/MrWong99/scrivener/internal/knowledge"
	"github.com/MrWong99/scrivener/internal/textnorm"
)

// Limits for fuzzy matching inside a token.
const (
	// MinInsideScore is the lowest fuzzy score accepted for a span cut out
	// of a longer token. Every grapheme window is a chance for a false
	// positive, so it is stricter than the default match threshold.
	MinInsideScore = 0.90

	// minInsideAliasRunes is the shortest alias searched for fuzzily.
	minInsideAliasRunes = 4

	// maxInsideRunes bounds the tokens searched window by window.
	maxInsideRunes = 400
)

// insideHit is a span of a token core that matched an alias.
type insideHit struct {
	start, end int // byte offsets into the core
	folded     string
	score      float64

	// exact hits carry every record sharing the alias; fuzzy hits one alias.
	exact   bool
	records []*knowledge.EntityRecord
	alias   knowledge.Alias
}

func (h insideHit) overlaps(o insideHit) bool {
	return h.start < o.end && o.start < h.end
}

// resolveInside handles aliases inside a token of a script written without
// spaces between words, such as "ดัชนีเซตเด็กปิดบวก". Exact hits come from
// the knowledge base scan; the remaining text is then searched for misheard
// aliases over grapheme windows. Latin tokens are left to the window pass.
func (r *Resolver) resolveInside(b *sentenceBuilder, text string, tok textnorm.Token, runID string) {
	core := text[tok.CoreStart:tok.CoreEnd]
	if core == "" || textnorm.IsLatin(core) {
		return
	}

	var hits []insideHit
	for _, m := range r.kb.Scan(core) {
		if m.Start == 0 && m.End == len(core) {
			continue
		}
		hits = append(hits, insideHit{
			start: m.Start, end: m.End, folded: m.Form, score: 1, exact: true, records: m.Records,
		})
	}
	hits = append(hits, r.fuzzyInside(core, hits)...)
	slices.SortFunc(hits, func(a, b insideHit) int { return cmp.Compare(a.start, b.start) })

	for _, h := range hits {
		start, end := tok.CoreStart+h.start, tok.CoreStart+h.end
		raw := text[start:end]
		window := r.contextFor(text, start, end)

		c := Candidate{Raw: raw, Folded: h.folded, Score: h.score, Exact: h.exact, Context: window}
		method := MethodFuzzy
		if h.exact {
			c.Record = r.pickRecord(h.records, window)
			c.Alias = h.folded
			method = MethodExact
		} else {
			c.Record = h.alias.Record
			c.Alias = h.alias.Form
		}
		if c.Record == nil || raw == c.Record.CanonicalName {
			continue
		}
		r.commit(b, text, start, end, r.check(c, method), runID)
	}
}

// fuzzyInside scores every grapheme-aligned window of core against the
// single-word non-Latin aliases and returns the best windows that overlap
// neither each other nor taken. The whole core is never a window; the token
// pass has already scored it.
func (r *Resolver) fuzzyInside(core string, taken []insideHit) []insideHit {
	if utf8.RuneCountInString(core) > maxInsideRunes {
		return nil
	}
	var aliases []knowledge.Alias
	longest := 0
	for a := range r.kb.Aliases() {
		if a.Latin || a.Words != 1 || a.Runes < minInsideAliasRunes {
			continue
		}
		aliases = append(aliases, a)
		longest = max(longest, a.Runes)
	}
	if len(aliases) == 0 {
		return nil
	}
	maxRunes := int(float64(longest)/minScriptRatio) + 1
	threshold := max(r.threshold, MinInsideScore)

	bounds := graphemeBounds(core)
	var found []insideHit
	for i := 0; i < len(bounds)-1; i++ {
		for j := i + 1; j < len(bounds); j++ {
			start, end := bounds[i], bounds[j]
			if start == 0 && end == len(core) {
				continue
			}
			folded := textnorm.Fold(core[start:end])
			runes := textnorm.RuneLen(folded)
			if runes > maxRunes {
				break
			}
			if runes < minInsideAliasRunes-1 || !hasLetter(folded) {
				continue
			}
			candidates := slices.DeleteFunc(slices.Clone(aliases), func(a knowledge.Alias) bool {
				return !worthScoring(folded, runes, a)
			})
			alias, score, ok := r.scorer.Best(folded, candidates)
			if !ok || score < threshold || alias.Record == nil {
				continue
			}
			found = append(found, insideHit{start: start, end: end, folded: folded, score: score, alias: alias})
		}
	}

	// Best score first, then the longer span, then the earlier one.
	slices.SortStableFunc(found, func(a, b insideHit) int {
		return cmp.Or(
			cmp.Compare(b.score, a.score),
			cmp.Compare(b.end-b.start, a.end-a.start),
			cmp.Compare(a.start, b.start),
		)
	})
	var out []insideHit
	for _, h := range found {
		clash := func(o insideHit) bool { return h.overlaps(o) }
		if slices.ContainsFunc(taken, clash) || slices.ContainsFunc(out, clash) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// graphemeBounds returns the byte offsets of every grapheme cluster boundary
// in s, including 0 and len(s), so windows never split a base character from
// its combining marks.
func graphemeBounds(s string) []int {
	bounds := []int{0}
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		_, to := g.Positions()
		bounds = append(bounds, to)
	}
	return bounds
}
