package knowledge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/scrivener/internal/textnorm"
)

// Validate checks a single [EntityRecord].
//
// Rules:
//   - CanonicalName must be non-empty.
//   - Category must be a recognised [Category].
//   - Every alias must keep at least one word rune after folding.
func Validate(rec EntityRecord) error {
	var errs []error

	if strings.TrimSpace(rec.CanonicalName) == "" {
		errs = append(errs, errors.New("name must not be empty"))
	} else if textnorm.Fold(rec.CanonicalName) == "" {
		errs = append(errs, fmt.Errorf("name %q has no letters or digits", rec.CanonicalName))
	}

	if !rec.Category.IsValid() {
		errs = append(errs, fmt.Errorf("category %q is not a recognised category", rec.Category))
	}

	for i, a := range rec.Aliases {
		if textnorm.Fold(a) == "" {
			errs = append(errs, fmt.Errorf("alias[%d] %q has no letters or digits", i, a))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// ValidateAll validates every record and additionally requires canonical
// names to be unique within their category. Names are compared folded.
func ValidateAll(records []EntityRecord) error {
	var errs []error
	seen := make(map[Category]map[string]int)
	for i, rec := range records {
		if err := Validate(rec); err != nil {
			errs = append(errs, fmt.Errorf("entities[%d] (%q): %w", i, rec.CanonicalName, err))
			continue
		}
		key := textnorm.Fold(rec.CanonicalName)
		byName, ok := seen[rec.Category]
		if !ok {
			byName = make(map[string]int)
			seen[rec.Category] = byName
		}
		if first, dup := byName[key]; dup {
			errs = append(errs, fmt.Errorf("entities[%d]: name %q duplicates entities[%d] in category %q",
				i, rec.CanonicalName, first, rec.Category))
			continue
		}
		byName[key] = i
	}
	return errors.Join(errs...)
}
