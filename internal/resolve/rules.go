package resolve

import (
	"strings"

	"github.com/MrWong99/scrivener/internal/knowledge"
	"github.com/MrWong99/scrivener/internal/textnorm"
)

// Candidate is a proposed replacement on its way through the safety rules.
type Candidate struct {
	// Raw is the source text of the span, byte for byte.
	Raw string

	// Folded is Raw after textnorm.Fold.
	Folded string

	// Record is the entity the span would be replaced with.
	Record *knowledge.EntityRecord

	// Alias is the folded alias that scored best.
	Alias string

	// Score is 1 for exact alias hits.
	Score float64

	// Exact is true when Folded equals an alias of Record.
	Exact bool

	// Context is the folded text surrounding the span, without the span
	// itself.
	Context string
}

// Rule is one contextual safety check. Rules run in order after scoring; the
// first rule that refuses a candidate rejects it.
type Rule interface {
	// Name identifies the rule in rejections and metrics.
	Name() string

	// Allow reports whether c may be applied.
	Allow(c Candidate) bool
}

// DefaultRules returns the standard rule order for a store's context
// vocabulary.
func DefaultRules(contexts map[string][]string, latinMinScore float64) []Rule {
	return []Rule{
		CategoryConflictRule{Contexts: contexts},
		ShortFormRule{},
		LatinConfidenceRule{MinScore: latinMinScore},
	}
}

// CategoryConflictRule refuses a candidate when the surrounding text carries
// more vocabulary of a competing class than of the candidate's own category.
// Classes are the keys of Contexts; a category's own class has the same name
// as the category.
type CategoryConflictRule struct {
	Contexts map[string][]string
}

// Name implements [Rule].
func (CategoryConflictRule) Name() string { return "category_conflict" }

// Allow implements [Rule].
func (r CategoryConflictRule) Allow(c Candidate) bool {
	if len(r.Contexts) == 0 || c.Record == nil {
		return true
	}
	own := string(c.Record.Category)
	support := contextHits(c.Context, r.Contexts[own])
	conflict := 0
	for class, words := range r.Contexts {
		if class == own {
			continue
		}
		conflict = max(conflict, contextHits(c.Context, words))
	}
	return conflict <= support
}

// contextHits counts occurrences of vocabulary words in the folded context.
func contextHits(context string, words []string) int {
	n := 0
	for _, w := range words {
		if w != "" {
			n += strings.Count(context, w)
		}
	}
	return n
}

// ShortFormRule refuses fuzzy matches to canonical names of three runes or
// fewer. Those need an exact alias hit.
type ShortFormRule struct{}

// Name implements [Rule].
func (ShortFormRule) Name() string { return "short_form" }

// Allow implements [Rule].
func (ShortFormRule) Allow(c Candidate) bool {
	if c.Exact || c.Record == nil {
		return true
	}
	return textnorm.RuneLen(textnorm.Fold(c.Record.CanonicalName)) > 3
}

// LatinConfidenceRule raises the acceptance bar for fuzzy matches of
// Latin-script spans to MinScore.
type LatinConfidenceRule struct {
	MinScore float64
}

// Name implements [Rule].
func (LatinConfidenceRule) Name() string { return "latin_confidence" }

// Allow implements [Rule].
func (r LatinConfidenceRule) Allow(c Candidate) bool {
	if c.Exact || !textnorm.IsLatin(c.Folded) {
		return true
	}
	return c.Score >= r.MinScore
}
