package dedup

import (
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/scrivener/internal/knowledge"
	"github.com/MrWong99/scrivener/internal/segment"
	"github.com/MrWong99/scrivener/internal/textnorm"
)

// Quality weights. Length counts runes of the compacted text.
const (
	lengthWeight        = 0.1
	terminalBonus       = 20.0
	uniqueWordsBonus    = 10.0
	uniqueWordsMinRatio = 0.8
	noTruncationBonus   = 5.0
	digitBonus          = 3.0
	entityBonus         = 4.0
	maxEntityMentions   = 3
)

var truncationMarkers = []string{"...", "…", "???"}

// QualityScorer rates how informative a sentence is. Higher is better. The
// duplicate detector only uses it to decide which of two duplicates to keep.
type QualityScorer interface {
	Quality(u segment.SentenceUnit) float64
}

// EntityScanner finds known entity mentions in a sentence.
// [*knowledge.Store] satisfies it.
type EntityScanner interface {
	Scan(text string) []knowledge.Mention
}

// Heuristic is the default [QualityScorer]. The zero value scores without
// entity mentions.
type Heuristic struct {
	Entities EntityScanner
}

var _ QualityScorer = Heuristic{}

// Quality implements [QualityScorer].
func (h Heuristic) Quality(u segment.SentenceUnit) float64 {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return 0
	}
	compact := textnorm.Compact(text)

	score := float64(utf8.RuneCountInString(compact)) * lengthWeight

	if hasTerminalPunctuation(text) {
		score += terminalBonus
	}

	if words := strings.Fields(compact); len(words) > 0 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[w] = struct{}{}
		}
		if float64(len(unique))/float64(len(words)) > uniqueWordsMinRatio {
			score += uniqueWordsBonus
		}
	}

	truncated := false
	for _, m := range truncationMarkers {
		if strings.Contains(text, m) {
			truncated = true
			break
		}
	}
	if !truncated {
		score += noTruncationBonus
	}

	if textnorm.HasDigit(text) {
		score += digitBonus
	}

	if h.Entities != nil {
		n := min(len(h.Entities.Scan(text)), maxEntityMentions)
		score += float64(n) * entityBonus
	}
	return score
}

func hasTerminalPunctuation(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
