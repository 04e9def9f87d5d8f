package sqlstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/oKV/lib/sqldb"
	"github.com/ValentinKolb/oKV/lib/store"
	storetesting "github.com/ValentinKolb/oKV/lib/store/testing"
)

func newMemoryStore(t testing.TB) store.ILocalStore {
	s, err := Open(sqldb.MemoryPath)
	if err != nil {
		t.Fatalf("Failed to open sqlite store: %v", err)
	}
	return s
}

func Test(t *testing.T) {
	storetesting.RunLocalStoreTests(t, "SQLiteStore", func() store.ILocalStore {
		return newMemoryStore(t)
	})
}

func Benchmark(b *testing.B) {
	storetesting.RunLocalStoreBenchmarks(b, "SQLiteStore", func() store.ILocalStore {
		return newMemoryStore(b)
	})
}

func TestRecordsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if _, err := s.PutAll("todos", "id", []store.Record{
		{"id": 1, "title": "a"},
		{"id": 9007199254740993, "title": "big"},
	}); err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer s.Close()

	all, err := s.GetAll("todos")
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 records after reopen, got %d", len(all))
	}
	if id, _ := all[1].ID("id"); id != "9007199254740993" {
		t.Errorf("Expected large id to keep its exact value, got %s", id)
	}

	valid, err := s.IsCacheValid("todos", "1", time.Hour)
	if err != nil || !valid {
		t.Errorf("Expected freshness to survive reopen (valid=%t, err=%v)", valid, err)
	}
}

func TestSharedDatabaseIsNotClosed(t *testing.T) {
	db, err := sqldb.Open(sqldb.MemoryPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	s, err := NewLocalStore(db, nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if _, err := s.Put("todos", "id", store.Record{"title": "a"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Errorf("Expected shared database to stay open after Close: %v", err)
	}
}
