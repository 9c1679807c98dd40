package errstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MrWong99/scrivener/internal/errstore"
)

func openSQLite(t *testing.T, path string, opts ...errstore.MemOption) *errstore.SQLiteStore {
	t.Helper()
	s, err := errstore.OpenSQLite(context.Background(), path, opts...)
	if err != nil {
		t.Fatalf("OpenSQLite(%q): %v", path, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	t.Parallel()
	testStoreContract(t, func(t *testing.T) errstore.Store {
		return openSQLite(t, ":memory:", errstore.WithClock(stepClock()))
	})
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "corrections.db")
	clock := stepClock()
	testRoundTrip(t, func(t *testing.T) errstore.Store {
		return openSQLite(t, path, errstore.WithClock(clock))
	})
}

func TestSQLiteStore_FlushReplacesTable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openSQLite(t, ":memory:")

	mustRecord(t, s, errstore.Observation{RawForm: "อมตะ", CorrectedForm: "AMATA"})
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("first Flush: %v", err)
	}
	mustRecord(t, s, errstore.Observation{RawForm: "อมตะ", CorrectedForm: "AMATA"})
	mustRecord(t, s, errstore.Observation{RawForm: "ซีไอ", CorrectedForm: "CI"})
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("second Flush: %v", err)
	}

	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	rec, _ := s.Lookup("อมตะ")
	if rec.Frequency != 2 {
		t.Errorf("Frequency = %d, want 2", rec.Frequency)
	}
}

func TestSQLiteStore_LoadEmptyDatabase(t *testing.T) {
	t.Parallel()
	s := openSQLite(t, ":memory:")
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}
