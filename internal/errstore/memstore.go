package errstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/scrivener/internal/textnorm"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

type recordKey struct {
	raw       string // folded
	corrected string
}

// MemStore keeps records in memory only. Load and Flush are no-ops. The
// persistent stores embed it for their in-run state.
// The zero value is ready to use.
type MemStore struct {
	mu      sync.RWMutex
	records map[recordKey]*CorrectionRecord
	best    map[string]*CorrectionRecord // folded raw form → preferred record
	now     func() time.Time
}

// MemOption configures a [MemStore].
type MemOption func(*MemStore)

// WithClock overrides time.Now for FirstSeen/LastSeen stamps.
func WithClock(now func() time.Time) MemOption {
	return func(s *MemStore) {
		s.now = now
	}
}

// NewMemStore returns an empty [MemStore].
func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{
		records: make(map[recordKey]*CorrectionRecord),
		best:    make(map[string]*CorrectionRecord),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load implements [Store.Load]. It does nothing.
func (s *MemStore) Load(context.Context) error { return nil }

// Flush implements [Store.Flush]. It does nothing.
func (s *MemStore) Flush(context.Context) error { return nil }

// Lookup implements [Store.Lookup].
func (s *MemStore) Lookup(raw string) (CorrectionRecord, bool) {
	folded := textnorm.Fold(raw)
	if folded == "" {
		return CorrectionRecord{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	best, ok := s.best[folded]
	if !ok {
		return CorrectionRecord{}, false
	}
	return cloneRecord(best), true
}

// preferred reports whether a should be chosen over b for the same raw form.
func preferred(a, b *CorrectionRecord) bool {
	if a.Frequency != b.Frequency {
		return a.Frequency > b.Frequency
	}
	if !a.FirstSeen.Equal(b.FirstSeen) {
		return a.FirstSeen.Before(b.FirstSeen)
	}
	return a.CorrectedForm < b.CorrectedForm
}

// RecordCorrection implements [Store.RecordCorrection].
func (s *MemStore) RecordCorrection(obs Observation) (CorrectionRecord, error) {
	raw := strings.TrimSpace(obs.RawForm)
	corrected := strings.TrimSpace(obs.CorrectedForm)
	key := recordKey{raw: textnorm.Fold(raw), corrected: corrected}
	if key.raw == "" || corrected == "" {
		return CorrectionRecord{}, ErrInvalidObservation
	}

	at := obs.At
	if at.IsZero() {
		at = s.clock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records == nil {
		s.records = make(map[recordKey]*CorrectionRecord)
		s.best = make(map[string]*CorrectionRecord)
	}

	r, ok := s.records[key]
	if !ok {
		r = &CorrectionRecord{
			RawForm:        raw,
			CorrectedForm:  corrected,
			ContextSnippet: obs.Context,
			FirstSeen:      at,
			LastSeen:       at,
		}
		s.records[key] = r
	}
	r.Frequency++
	if at.After(r.LastSeen) {
		r.LastSeen = at
	}
	if obs.SourceID != "" && !slices.Contains(r.SourceIDs, obs.SourceID) {
		r.SourceIDs = append(r.SourceIDs, obs.SourceID)
	}
	// Only r changed and its frequency only grew, so it is the sole
	// challenger for the preferred slot.
	if cur, ok := s.best[key.raw]; !ok || cur == r || preferred(r, cur) {
		s.best[key.raw] = r
	}
	return cloneRecord(r), nil
}

// Records implements [Store.Records].
func (s *MemStore) Records() []CorrectionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CorrectionRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, cloneRecord(r))
	}
	sortRecords(out)
	return out
}

// Len returns the number of records.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// replace swaps in a validated record set. Records sharing a key are merged.
func (s *MemStore) replace(records []CorrectionRecord) error {
	if err := ValidateRecords(records); err != nil {
		return err
	}
	next := make(map[recordKey]*CorrectionRecord, len(records))
	for i := range records {
		rec := cloneRecord(&records[i])
		rec.CorrectedForm = strings.TrimSpace(rec.CorrectedForm)
		key := recordKey{raw: textnorm.Fold(rec.RawForm), corrected: rec.CorrectedForm}
		if prev, ok := next[key]; ok {
			mergeInto(prev, rec)
			continue
		}
		next[key] = &rec
	}
	best := make(map[string]*CorrectionRecord, len(next))
	for k, r := range next {
		if cur, ok := best[k.raw]; !ok || preferred(r, cur) {
			best[k.raw] = r
		}
	}

	s.mu.Lock()
	s.records = next
	s.best = best
	s.mu.Unlock()
	return nil
}

func (s *MemStore) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

// ValidateRecords checks a persisted record set.
func ValidateRecords(records []CorrectionRecord) error {
	var errs []error
	for i, r := range records {
		if textnorm.Fold(r.RawForm) == "" {
			errs = append(errs, fmt.Errorf("records[%d]: raw_form must not be empty", i))
		}
		if strings.TrimSpace(r.CorrectedForm) == "" {
			errs = append(errs, fmt.Errorf("records[%d]: corrected_form must not be empty", i))
		}
		if r.Frequency < 1 {
			errs = append(errs, fmt.Errorf("records[%d]: frequency %d must be >= 1", i, r.Frequency))
		}
	}
	return errors.Join(errs...)
}

// mergeInto folds b into a, keeping a's context snippet.
func mergeInto(a *CorrectionRecord, b CorrectionRecord) {
	a.Frequency += b.Frequency
	for _, id := range b.SourceIDs {
		if !slices.Contains(a.SourceIDs, id) {
			a.SourceIDs = append(a.SourceIDs, id)
		}
	}
	if b.FirstSeen.Before(a.FirstSeen) {
		a.FirstSeen = b.FirstSeen
	}
	if b.LastSeen.After(a.LastSeen) {
		a.LastSeen = b.LastSeen
	}
}

func cloneRecord(r *CorrectionRecord) CorrectionRecord {
	c := *r
	c.SourceIDs = slices.Clone(r.SourceIDs)
	return c
}

func sortRecords(rs []CorrectionRecord) {
	slices.SortFunc(rs, func(a, b CorrectionRecord) int {
		return cmp.Or(
			a.FirstSeen.Compare(b.FirstSeen),
			cmp.Compare(a.RawForm, b.RawForm),
			cmp.Compare(a.CorrectedForm, b.CorrectedForm),
		)
	})
}
