// Package errstore is the auto-learning error store: a persistent memory of
// raw → corrected pairs observed across transcript runs.
//
// The resolver consults [Store.Lookup] before any fuzzy matching, so a
// correction learned in one run is applied directly in the next. Records are
// keyed by (folded raw form, corrected form), are only ever created or
// incremented, and are never deleted.
//
// Implementations differ only in where the record set lives between runs:
//
//   - [MemStore]: nowhere; useful as a test fake and as the shared core
//   - [FileStore]: a schema-validated JSON file
//   - [SQLiteStore]: a SQLite database (modernc.org/sqlite, no cgo)
//   - [PostgresStore]: a PostgreSQL table (pgx)
//
// Persistent stores read everything in [Store.Load]. The file and SQLite
// stores rewrite the full record set in [Store.Flush]; the Postgres store
// upserts only what grew since its last Load or Flush.
package errstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidObservation is returned by RecordCorrection for observations with
// an empty raw or corrected form.
var ErrInvalidObservation = errors.New("errstore: observation needs a raw and a corrected form")

// CorrectionRecord is one learned raw → corrected pair.
type CorrectionRecord struct {
	// RawForm is the mis-recognised text as first observed.
	RawForm string `json:"raw_form"`

	// CorrectedForm is the text it should be replaced with.
	CorrectedForm string `json:"corrected_form"`

	// ContextSnippet is the surrounding text of the first observation. It is
	// never overwritten.
	ContextSnippet string `json:"context_snippet"`

	// Frequency counts observations; always >= 1.
	Frequency int `json:"frequency"`

	// SourceIDs are the distinct runs the pair was observed in, in order of
	// first appearance.
	SourceIDs []string `json:"source_ids"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Observation is a single correction seen during a run.
type Observation struct {
	RawForm       string
	CorrectedForm string
	Context       string
	SourceID      string

	// At defaults to the store clock when zero.
	At time.Time
}

// Store is the contract every error store implements. All methods are safe
// for concurrent use; RecordCorrection is atomic per key.
type Store interface {
	// Load replaces the in-memory record set with the persisted one.
	Load(ctx context.Context) error

	// Lookup returns the preferred correction for raw. Matching is done on
	// the folded form. When several corrected forms exist, the one with the
	// highest frequency wins, then the earliest FirstSeen.
	Lookup(raw string) (CorrectionRecord, bool)

	// RecordCorrection creates the record for the observation's key or
	// increments an existing one, and returns the updated record.
	RecordCorrection(obs Observation) (CorrectionRecord, error)

	// Flush persists the full record set.
	Flush(ctx context.Context) error

	// Records returns a snapshot of every record, ordered by FirstSeen.
	Records() []CorrectionRecord
}

// PersistError reports a failed Flush. The in-memory records are intact; only
// the cross-run memory is lost.
type PersistError struct {
	Backend string
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("errstore: persist to %s: %v", e.Backend, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// LoadError reports a persisted record set that could not be read or failed
// validation. Callers may continue with an empty store.
type LoadError struct {
	Backend string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("errstore: load from %s: %v", e.Backend, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
