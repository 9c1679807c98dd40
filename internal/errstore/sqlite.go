package errstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS corrections (
    raw_form        TEXT    NOT NULL,
    corrected_form  TEXT    NOT NULL,
    context_snippet TEXT    NOT NULL DEFAULT '',
    frequency       INTEGER NOT NULL CHECK (frequency >= 1),
    source_ids      TEXT    NOT NULL DEFAULT '[]',
    first_seen      TEXT    NOT NULL,
    last_seen       TEXT    NOT NULL,
    PRIMARY KEY (raw_form, corrected_form)
);
`

// SQLiteStore persists records in a SQLite database using the pure-Go
// modernc.org/sqlite driver. Flush replaces the table contents in a single
// transaction.
type SQLiteStore struct {
	*MemStore
	db      *sql.DB
	path    string
	flushMu sync.Mutex
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string, opts ...MemOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("errstore: open sqlite %q: %w", path, err)
	}
	// ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("errstore: ping sqlite %q: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("errstore: migrate sqlite %q: %w", path, err)
	}
	return &SQLiteStore{MemStore: NewMemStore(opts...), db: db, path: path}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is still reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Load implements [Store.Load].
func (s *SQLiteStore) Load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT raw_form, corrected_form, context_snippet, frequency, source_ids, first_seen, last_seen
		FROM corrections
		ORDER BY first_seen ASC, raw_form ASC
	`)
	if err != nil {
		return &LoadError{Backend: s.backend(), Err: fmt.Errorf("query corrections: %w", err)}
	}
	defer rows.Close()

	var records []CorrectionRecord
	for rows.Next() {
		var (
			r                   CorrectionRecord
			sourceIDs           string
			firstSeen, lastSeen string
		)
		if err := rows.Scan(&r.RawForm, &r.CorrectedForm, &r.ContextSnippet, &r.Frequency,
			&sourceIDs, &firstSeen, &lastSeen); err != nil {
			return &LoadError{Backend: s.backend(), Err: fmt.Errorf("scan correction: %w", err)}
		}
		if err := json.Unmarshal([]byte(sourceIDs), &r.SourceIDs); err != nil {
			return &LoadError{Backend: s.backend(), Err: fmt.Errorf("decode source_ids: %w", err)}
		}
		if r.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
			return &LoadError{Backend: s.backend(), Err: fmt.Errorf("parse first_seen: %w", err)}
		}
		if r.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
			return &LoadError{Backend: s.backend(), Err: fmt.Errorf("parse last_seen: %w", err)}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return &LoadError{Backend: s.backend(), Err: err}
	}
	if err := s.replace(records); err != nil {
		return &LoadError{Backend: s.backend(), Err: err}
	}
	return nil
}

// Flush implements [Store.Flush].
func (s *SQLiteStore) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if err := s.flush(ctx); err != nil {
		return &PersistError{Backend: s.backend(), Err: err}
	}
	return nil
}

func (s *SQLiteStore) flush(ctx context.Context) error {
	records := s.Records()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM corrections`); err != nil {
		return fmt.Errorf("clear corrections: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO corrections
			(raw_form, corrected_form, context_snippet, frequency, source_ids, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		ids := r.SourceIDs
		if ids == nil {
			ids = []string{}
		}
		encoded, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("encode source_ids: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.RawForm, r.CorrectedForm, r.ContextSnippet, r.Frequency,
			string(encoded), r.FirstSeen.UTC().Format(time.RFC3339Nano), r.LastSeen.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert %q → %q: %w", r.RawForm, r.CorrectedForm, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) backend() string {
	return "sqlite " + s.path
}
