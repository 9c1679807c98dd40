package errstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/scrivener/internal/textnorm"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

const ddlCorrections = `
CREATE TABLE IF NOT EXISTS scrivener_corrections (
    raw_form        TEXT         NOT NULL,
    corrected_form  TEXT         NOT NULL,
    context_snippet TEXT         NOT NULL DEFAULT '',
    frequency       INTEGER      NOT NULL CHECK (frequency >= 1),
    source_ids      TEXT[]       NOT NULL DEFAULT '{}',
    first_seen      TIMESTAMPTZ  NOT NULL,
    last_seen       TIMESTAMPTZ  NOT NULL,
    PRIMARY KEY (raw_form, corrected_form)
);
`

// upsertCorrection adds one record's growth since the last Load or Flush to
// the stored row, or inserts the record when the row does not exist yet. $8
// is the frequency delta; source ids are merged in order of first appearance.
const upsertCorrection = `
INSERT INTO scrivener_corrections AS c
    (raw_form, corrected_form, context_snippet, frequency, source_ids, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (raw_form, corrected_form) DO UPDATE SET
    frequency  = c.frequency + $8,
    source_ids = ARRAY(
        SELECT u.id
        FROM unnest(c.source_ids || EXCLUDED.source_ids) WITH ORDINALITY AS u(id, ord)
        GROUP BY u.id
        ORDER BY min(u.ord)
    ),
    first_seen = LEAST(c.first_seen, EXCLUDED.first_seen),
    last_seen  = GREATEST(c.last_seen, EXCLUDED.last_seen)
`

// PostgresStore persists records in the scrivener_corrections table, which
// several processes may share. Flush upserts only what changed since this
// store last loaded or flushed, so counts learned elsewhere are kept.
type PostgresStore struct {
	*MemStore
	pool    *pgxpool.Pool
	flushMu sync.Mutex
	synced  map[recordKey]CorrectionRecord // as of the last Load or Flush
}

// NewPostgresStore connects to dsn, verifies the connection and runs
// [MigratePostgres].
func NewPostgresStore(ctx context.Context, dsn string, opts ...MemOption) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("errstore: postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("errstore: postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("errstore: postgres: ping: %w", err)
	}

	if err := MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("errstore: postgres: %w", err)
	}

	return &PostgresStore{MemStore: NewMemStore(opts...), pool: pool}, nil
}

// MigratePostgres creates the corrections table if it does not exist.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlCorrections); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases all pooled connections.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping verifies a pooled connection can reach the server.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Load implements [Store.Load].
func (s *PostgresStore) Load(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	rows, err := s.pool.Query(ctx, `
		SELECT raw_form, corrected_form, context_snippet, frequency, source_ids, first_seen, last_seen
		FROM scrivener_corrections
		ORDER BY first_seen ASC, raw_form ASC
	`)
	if err != nil {
		return &LoadError{Backend: "postgres", Err: fmt.Errorf("query corrections: %w", err)}
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CorrectionRecord, error) {
		var r CorrectionRecord
		err := row.Scan(&r.RawForm, &r.CorrectedForm, &r.ContextSnippet, &r.Frequency,
			&r.SourceIDs, &r.FirstSeen, &r.LastSeen)
		return r, err
	})
	if err != nil {
		return &LoadError{Backend: "postgres", Err: fmt.Errorf("scan corrections: %w", err)}
	}
	if err := s.replace(records); err != nil {
		return &LoadError{Backend: "postgres", Err: err}
	}
	s.synced = snapshot(s.Records())
	return nil
}

// Flush implements [Store.Flush].
func (s *PostgresStore) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if err := s.flush(ctx); err != nil {
		return &PersistError{Backend: "postgres", Err: err}
	}
	return nil
}

func (s *PostgresStore) flush(ctx context.Context) error {
	records := s.Records()

	batch := &pgx.Batch{}
	for _, r := range records {
		prev, seen := s.synced[keyOf(r)]
		delta := r.Frequency - prev.Frequency
		if seen && delta == 0 && len(r.SourceIDs) == len(prev.SourceIDs) && r.LastSeen.Equal(prev.LastSeen) {
			continue
		}
		ids := r.SourceIDs
		if ids == nil {
			ids = []string{}
		}
		batch.Queue(upsertCorrection,
			r.RawForm, r.CorrectedForm, r.ContextSnippet, r.Frequency, ids, r.FirstSeen, r.LastSeen, delta)
	}
	if batch.Len() > 0 {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert corrections: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	s.synced = snapshot(records)
	return nil
}

func keyOf(r CorrectionRecord) recordKey {
	return recordKey{raw: textnorm.Fold(r.RawForm), corrected: r.CorrectedForm}
}

func snapshot(records []CorrectionRecord) map[recordKey]CorrectionRecord {
	out := make(map[recordKey]CorrectionRecord, len(records))
	for _, r := range records {
		out[keyOf(r)] = r
	}
	return out
}
