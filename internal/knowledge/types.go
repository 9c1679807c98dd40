// Package knowledge holds the curated entity knowledge base the resolver and
// the quality scorer consult: canonical market names, tickers and domain terms
// together with the mis-heard aliases speech recognition tends to produce.
//
// A [Store] is built once per run from a YAML or JSON file ([Load]) and is
// read-only afterwards, so it is safe for concurrent use without locking.
// Long-running processes swap in a freshly loaded store through a [Holder],
// optionally driven by a polling [Watcher].
//
// Example file:
//
//	AMATA:
//	  category: ticker
//	  aliases: [อมตะ, amata corp]
//	SET:
//	  category: market
//	  aliases: [เซต, set index]
//	contexts:
//	  ticker: [หุ้น, แนวรับ, แนวต้าน]
//	  institution: [ธนาคาร, bank]
package knowledge

// Category classifies an entity.
type Category string

const (
	// CategoryTicker is a listed security symbol ("AMATA", "PTT").
	CategoryTicker Category = "ticker"

	// CategoryMarket is an index or exchange ("SET", "Nasdaq").
	CategoryMarket Category = "market"

	// CategoryTerm is a domain term ("แนวรับ", "dividend yield").
	CategoryTerm Category = "term"
)

// IsValid reports whether c is a recognised category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryTicker, CategoryMarket, CategoryTerm:
		return true
	}
	return false
}

// EntityRecord is a canonical entity with the surface forms that should be
// corrected to it.
type EntityRecord struct {
	// CanonicalName is the form written into corrected transcripts.
	CanonicalName string `yaml:"name" json:"name"`

	// Category classifies the entity.
	Category Category `yaml:"category" json:"category"`

	// Aliases are alternative or mis-heard spellings. Matching is done on
	// their folded form; the canonical name is always an implicit alias.
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// Alias is one compiled surface form of a record.
type Alias struct {
	// Form is the folded alias text.
	Form string

	// Words is the number of space-separated words in Form.
	Words int

	// Runes is the rune length of Form.
	Runes int

	// Latin is true when every letter of Form is Latin script.
	Latin bool

	// Canonical is true when Form is the folded canonical name itself.
	Canonical bool

	Record *EntityRecord
}

// Mention is a known alias found in a piece of text by [Store.Scan].
type Mention struct {
	// Start and End are byte offsets into the scanned text.
	Start int
	End   int

	// Form is the folded alias that matched.
	Form string

	// Records are all entities sharing the matched form.
	Records []*EntityRecord
}
