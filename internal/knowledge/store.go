package knowledge

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/coregx/ahocorasick"

	"github.com/MrWong99/scrivener/internal/textnorm"
)

// Store is an immutable, compiled entity knowledge base.
// All methods are safe for concurrent use.
type Store struct {
	records  []*EntityRecord
	byForm   map[string][]*EntityRecord
	aliases  []Alias
	maxWords int
	contexts map[string][]string

	// Aho-Corasick automaton over every folded form, for Scan.
	ac       *ahocorasick.Automaton
	patterns []string
}

// Empty returns a store with no entities. Every lookup misses.
func Empty() *Store {
	return &Store{
		byForm:   make(map[string][]*EntityRecord),
		contexts: make(map[string][]string),
	}
}

// New validates records and compiles them into a [Store]. contexts maps a
// context class (a [Category] or any competing label such as "institution")
// to vocabulary that signals it; it may be nil.
func New(records []EntityRecord, contexts map[string][]string) (*Store, error) {
	if err := ValidateAll(records); err != nil {
		return nil, fmt.Errorf("knowledge: invalid entities: %w", err)
	}

	s := Empty()
	type key struct {
		form string
		rec  *EntityRecord
	}
	seen := make(map[key]struct{})

	for i := range records {
		rec := &EntityRecord{
			CanonicalName: strings.TrimSpace(records[i].CanonicalName),
			Category:      records[i].Category,
			Aliases:       slices.Clone(records[i].Aliases),
		}
		s.records = append(s.records, rec)

		canonical := textnorm.Fold(rec.CanonicalName)
		forms := append([]string{rec.CanonicalName}, rec.Aliases...)
		for _, raw := range forms {
			form := textnorm.Fold(raw)
			k := key{form, rec}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}

			words := len(strings.Fields(form))
			s.aliases = append(s.aliases, Alias{
				Form:      form,
				Words:     words,
				Runes:     textnorm.RuneLen(form),
				Latin:     textnorm.IsLatin(form),
				Canonical: form == canonical,
				Record:    rec,
			})
			if _, ok := s.byForm[form]; !ok {
				s.patterns = append(s.patterns, form)
			}
			s.byForm[form] = append(s.byForm[form], rec)
			s.maxWords = max(s.maxWords, words)
		}
	}

	slices.SortStableFunc(s.aliases, func(a, b Alias) int {
		return cmp.Or(
			cmp.Compare(a.Form, b.Form),
			cmp.Compare(a.Record.CanonicalName, b.Record.CanonicalName),
			cmp.Compare(a.Record.Category, b.Record.Category),
		)
	})

	for class, words := range contexts {
		class = strings.TrimSpace(class)
		if class == "" {
			continue
		}
		for _, w := range words {
			if f := textnorm.Fold(w); f != "" {
				s.contexts[class] = append(s.contexts[class], f)
			}
		}
	}

	if len(s.patterns) > 0 {
		ac, err := ahocorasick.NewBuilder().
			AddStrings(s.patterns).
			SetMatchKind(ahocorasick.LeftmostLongest).
			SetPrefilter(true).
			Build()
		if err != nil {
			return nil, fmt.Errorf("knowledge: build alias automaton: %w", err)
		}
		s.ac = ac
	}
	return s, nil
}

// Len returns the number of entity records.
func (s *Store) Len() int { return len(s.records) }

// Records returns every record in load order.
func (s *Store) Records() iter.Seq[*EntityRecord] {
	return slices.Values(s.records)
}

// Lookup returns the records whose canonical name or alias folds to the same
// key as alias. The result is nil when nothing matches.
func (s *Store) Lookup(alias string) []*EntityRecord {
	return s.byForm[textnorm.Fold(alias)]
}

// Aliases iterates every compiled alias, sorted by form.
func (s *Store) Aliases() iter.Seq[Alias] {
	return slices.Values(s.aliases)
}

// CandidatesFor returns the aliases worth scoring against token: those whose
// rune length is within max(2, n/2) of the folded token's length n. Exact
// matches are always included.
func (s *Store) CandidatesFor(token string) []Alias {
	form := textnorm.Fold(token)
	n := textnorm.RuneLen(form)
	if n == 0 {
		return nil
	}
	band := max(2, n/2)
	var out []Alias
	for _, a := range s.aliases {
		d := a.Runes - n
		if d < 0 {
			d = -d
		}
		if d <= band || a.Form == form {
			out = append(out, a)
		}
	}
	return out
}

// MaxAliasWords is the longest alias measured in words. The resolver uses it
// as the widest n-gram it needs to try.
func (s *Store) MaxAliasWords() int { return s.maxWords }

// Context returns the folded vocabulary for each context class. The map must
// not be modified.
func (s *Store) Context() map[string][]string { return s.contexts }
