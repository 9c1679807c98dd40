package errstore_test

import (
	"context"
	"os"
	"slices"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/scrivener/internal/errstore"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if SCRIVENER_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("SCRIVENER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCRIVENER_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newPostgresStore opens a store on a freshly dropped table.
func newPostgresStore(t *testing.T, opts ...errstore.MemOption) *errstore.PostgresStore {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS scrivener_corrections"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	pool.Close()

	s, err := errstore.NewPostgresStore(ctx, dsn, opts...)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// The Postgres tests share one table, so they run sequentially.

func TestPostgresStore_RoundTrip(t *testing.T) {
	clock := stepClock()
	var opened int
	testRoundTrip(t, func(t *testing.T) errstore.Store {
		opened++
		if opened == 1 {
			return newPostgresStore(t, errstore.WithClock(clock))
		}
		s, err := errstore.NewPostgresStore(context.Background(), testDSN(t), errstore.WithClock(clock))
		if err != nil {
			t.Fatalf("NewPostgresStore: %v", err)
		}
		t.Cleanup(s.Close)
		return s
	})
}

func TestPostgresStore_MigrateIdempotent(t *testing.T) {
	newPostgresStore(t)
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	for range 2 {
		if err := errstore.MigratePostgres(ctx, pool); err != nil {
			t.Fatalf("MigratePostgres: %v", err)
		}
	}
}

func TestPostgresStore_SharedTableKeepsOtherWriters(t *testing.T) {
	ctx := context.Background()
	a := newPostgresStore(t, errstore.WithClock(stepClock()))
	mustRecord(t, a, errstore.Observation{RawForm: "อมตะ", CorrectedForm: "AMATA", SourceID: "ep-1"})
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("a.Flush: %v", err)
	}

	b, err := errstore.NewPostgresStore(ctx, testDSN(t), errstore.WithClock(stepClock()))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(b.Close)
	if err := b.Load(ctx); err != nil {
		t.Fatalf("b.Load: %v", err)
	}

	// Both learn after b loaded; neither has seen the other's work.
	mustRecord(t, a, errstore.Observation{RawForm: "ซีไอ", CorrectedForm: "CI", SourceID: "ep-2"})
	mustRecord(t, a, errstore.Observation{RawForm: "อมตะ", CorrectedForm: "AMATA", SourceID: "ep-2"})
	mustRecord(t, b, errstore.Observation{RawForm: "เซตเด็ก", CorrectedForm: "SET Index", SourceID: "ep-3"})
	mustRecord(t, b, errstore.Observation{RawForm: "อมตะ", CorrectedForm: "AMATA", SourceID: "ep-3"})
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("a.Flush: %v", err)
	}
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("b.Flush: %v", err)
	}
	// A second flush with nothing new must not count anything twice.
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("a.Flush again: %v", err)
	}

	if err := a.Load(ctx); err != nil {
		t.Fatalf("a.Load: %v", err)
	}
	if a.Len() != 3 {
		t.Errorf("Len() = %d after reload, want 3", a.Len())
	}
	for raw, want := range map[string]string{"ซีไอ": "CI", "เซตเด็ก": "SET Index"} {
		if got, ok := a.Lookup(raw); !ok || got.CorrectedForm != want {
			t.Errorf("Lookup(%s) = %q, %v; want %q", raw, got.CorrectedForm, ok, want)
		}
	}
	got, _ := a.Lookup("อมตะ")
	if got.Frequency != 3 {
		t.Errorf("AMATA frequency = %d, want 3", got.Frequency)
	}
	if want := []string{"ep-1", "ep-2", "ep-3"}; !slices.Equal(got.SourceIDs, want) {
		t.Errorf("AMATA source ids = %v, want %v", got.SourceIDs, want)
	}
}

func TestPostgresStore_BadDSN(t *testing.T) {
	t.Parallel()
	if _, err := errstore.NewPostgresStore(context.Background(), "postgres://%zz"); err == nil {
		t.Error("expected error for malformed DSN")
	}
}
