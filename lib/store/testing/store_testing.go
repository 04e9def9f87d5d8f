package testing

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/oKV/lib/store"
)

// StoreFactory is a function that creates a new, empty ILocalStore
type StoreFactory func() store.ILocalStore

// RunLocalStoreTests runs the conformance test suite for an ILocalStore implementation.
func RunLocalStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("AutoID", func(t *testing.T) {
			testAutoID(t, factory())
		})

		t.Run("PutAll", func(t *testing.T) {
			testPutAll(t, factory())
		})

		t.Run("GetAllOrder", func(t *testing.T) {
			testGetAllOrder(t, factory())
		})

		t.Run("GetByQuery", func(t *testing.T) {
			testGetByQuery(t, factory())
		})

		t.Run("Patch", func(t *testing.T) {
			testPatch(t, factory())
		})

		t.Run("ReplaceAll", func(t *testing.T) {
			testReplaceAll(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("DeleteAll", func(t *testing.T) {
			testDeleteAll(t, factory())
		})

		t.Run("IsCacheValid", func(t *testing.T) {
			testIsCacheValid(t, factory())
		})

		t.Run("CollectionIsolation", func(t *testing.T) {
			testCollectionIsolation(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("ConcurrentWrites", func(t *testing.T) {
			testConcurrentWrites(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// idOf returns the id of r or fails the test
func idOf(t testing.TB, r store.Record) string {
	t.Helper()
	id, ok := r.ID("id")
	if !ok {
		t.Fatalf("Expected record %v to have an id", r)
	}
	return id
}

// idsOf returns the ids of all records in order
func idsOf(t testing.TB, records []store.Record) []string {
	t.Helper()
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = idOf(t, r)
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, s store.ILocalStore) {
	defer s.Close()

	stored, err := s.Put("todos", "id", store.Record{"id": 7, "title": "buy milk"})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if idOf(t, stored) != "7" {
		t.Errorf("Expected stored id 7, got %v", stored["id"])
	}

	got, loaded, err := s.Get("todos", "7")
	if err != nil || !loaded {
		t.Fatalf("Expected record 7 to exist (loaded=%t, err=%v)", loaded, err)
	}
	if got["title"] != "buy milk" {
		t.Errorf("Expected title %q, got %v", "buy milk", got["title"])
	}

	// returned records must be copies
	got["title"] = "changed"
	again, _, _ := s.Get("todos", "7")
	if again["title"] != "buy milk" {
		t.Errorf("Get should return a copy, not a reference to the stored record")
	}

	// overwrite replaces the whole record
	if _, err := s.Put("todos", "id", store.Record{"id": "7", "done": true}); err != nil {
		t.Fatalf("Put (overwrite) failed: %v", err)
	}
	again, _, _ = s.Get("todos", "7")
	if _, ok := again["title"]; ok {
		t.Errorf("Expected Put to replace the record, old field still present: %v", again)
	}
	if again["done"] != true {
		t.Errorf("Expected done=true after overwrite, got %v", again["done"])
	}

	_, loaded, err = s.Get("todos", "nonexistent")
	if err != nil || loaded {
		t.Errorf("Expected missing record to return loaded=false without error (err=%v)", err)
	}
}

func testAutoID(t *testing.T, s store.ILocalStore) {
	defer s.Close()

	first, err := s.Put("todos", "id", store.Record{"title": "a"})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if idOf(t, first) != "1" {
		t.Errorf("Expected first auto id 1 in an empty collection, got %v", first["id"])
	}

	if _, err := s.Put("todos", "id", store.Record{"id": 41, "title": "b"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	for _, zero := range []any{nil, 0, "", "0"} {
		next, err := s.Put("todos", "id", store.Record{"id": zero, "title": "zero"})
		if err != nil {
			t.Fatalf("Put with id %#v failed: %v", zero, err)
		}
		id := idOf(t, next)
		if id == "0" || id == "" {
			t.Errorf("Expected zero id %#v to be replaced, got %q", zero, id)
		}
	}

	all, _ := s.GetAll("todos")
	if !equalIDs(idsOf(t, all), []string{"1", "41", "42", "43", "44", "45"}) {
		t.Errorf("Expected ids 1,41..45, got %v", idsOf(t, all))
	}

	// custom id column
	note, err := s.Put("notes", "uid", store.Record{"text": "x"})
	if err != nil {
		t.Fatalf("Put with custom id column failed: %v", err)
	}
	if id, ok := note.ID("uid"); !ok || id != "1" {
		t.Errorf("Expected uid 1, got %v", note["uid"])
	}
}

func testPutAll(t *testing.T, s store.ILocalStore) {
	defer s.Close()

	stored, err := s.PutAll("todos", "id", []store.Record{
		{"title": "a"},
		{"id": 10, "title": "b"},
		{"title": "c"},
	})
	if err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}
	if !equalIDs(idsOf(t, stored), []string{"11", "10", "12"}) {
		t.Errorf("Expected ids in input order [11 10 12], got %v", idsOf(t, stored))
	}

	// a nil record aborts the whole batch
	_, err = s.PutAll("todos", "id", []store.Record{{"id": 20, "title": "x"}, nil})
	if err == nil {
		t.Fatalf("Expected PutAll with a nil record to fail")
	}
	if _, loaded, _ := s.Get("todos", "20"); loaded {
		t.Errorf("Expected failed PutAll to leave no partial write")
	}

	stored, err = s.PutAll("todos", "id", nil)
	if err != nil || len(stored) != 0 {
		t.Errorf("Expected empty PutAll to succeed with no records (got %d, err=%v)", len(stored), err)
	}
}

func testGetAllOrder(t *testing.T, s store.ILocalStore) {
	defer s.Close()

	for _, id := range []any{100, 3, "20", 1} {
		if _, err := s.Put("todos", "id", store.Record{"id": id}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	all, err := s.GetAll("todos")
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if !equalIDs(idsOf(t, all), []string{"1", "3", "20", "100"}) {
		t.Errorf("Expected numeric id order, got %v", idsOf(t, all))
	}

	empty, err := s.GetAll("unknown")
	if err != nil {
		t.Fatalf("GetAll of unknown collection failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("Expected an empty non-nil slice for an unknown collection, got %v", empty)
	}
}

func testGetByQuery(t *testing.T, s store.ILocalStore) {
	defer s.Close()

	_, err := s.PutAll("todos", "id", []store.Record{
		{"id": 1, "title": "buy milk", "prio": 3, "done": false},
		{"id": 2, "title": "walk dog", "prio": 1, "done": true},
		{"id": 3, "title": "buy bread", "prio": 2, "done": false},
		{"id": 4, "title": "call mom", "prio": 5},
	})
	if err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}

	tests := []struct {
		name  string
		query store.Query
		want  []string
	}{
		{"empty", store.Query{}, []string{"1", "2", "3", "4"}},
		{"eq", store.Query{}.Where("done", store.OpEq, false), []string{"1", "3"}},
		{"gt", store.Query{}.Where("prio", store.OpGt, 2), []string{"1", "4"}},
		{"prefix", store.Query{}.Where("title", store.OpPrefix, "buy"), []string{"1", "3"}},
		{"contains and lte", store.Query{}.Where("title", store.OpContains, "o").Where("prio", store.OpLte, 1), []string{"2"}},
		{"sorted desc limited", store.Query{SortBy: "prio", Desc: true, Limit: 2}, []string{"4", "1"}},
		{"no match", store.Query{}.Where("title", store.OpEq, "nothing"), []string{}},
	}

	for _, tt := range tests {
		got, err := s.GetByQuery("todos", tt.query)
		if err != nil {
			t.Errorf("%s: GetByQuery failed: %v", tt.name, err)
			continue
		}
		if !equalIDs(idsOf(t, got), tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, idsOf(t, got))
		}
	}
}

func testPatch(t *testing.T, s store.ILocalStore) {
	defer s.Close()

	if _, err := s.Put("todos", "id", store.Record{"id": 1, "title": "buy milk", "done": false}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	patched, err := s.Patch("todos", "id", store.Record{"id": 1, "done": true})
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if patched["title"] != "buy milk" || patched["done"] != true {
		t.Errorf("Expected merged record, got %v", patched)
	}

	got, _, _ := s.Get("todos", "1")
	if got["title"] != "buy milk" || got["done"] != true {
		t.Errorf("Expected stored record to be merged, got %v", got)
	}

	// patching a missing record inserts it
	if _, err := s.Patch("todos", "id", store.Record{"id": 9, "title": "new"}); err != nil {
		t.Fatalf("Patch of missing record failed: %v", err)
	}
	if _, loaded, _ := s.Get("todos", "9"); !loaded {
		t.Errorf("Expected Patch to insert a missing record")
	}

	if _, err := s.Patch("todos", "id", store.Record{"title": "no id"}); store.CodeOf(err) != store.RetCInvalidOperation {
		t.Errorf("Expected Patch without id to fail with InvalidOperation, got %v", err)
	}
}

func testReplaceAll(t *testing.T, s store.ILocalStore) {
	defer s.Close()

	if _, err := s.PutAll("todos", "id", []store.Record{{"id": 1}, {"id": 2}, {"id": 3}}); err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}

	if err := s.ReplaceAll("todos", "id", []store.Record{{"id": 2, "v": "new"}, {"id": 5}}); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	all, _ := s.GetAll("todos")
	if !equalIDs(idsOf(t, all), []string{"2", "5"}) {
		t.Errorf("Expected collection to hold exactly [2 5], got %v", idsOf(t, all))
	}
	if all[0]["v"] != "new" {
		t.Errorf("Expected record 2 to be replaced, got %v", all[0])
	}

	// a failing replacement keeps the old content
	if err := s.ReplaceAll("todos", "id", []store.Record{{"id": 8}, nil}); err == nil {
		t.Fatalf("Expected ReplaceAll with a nil record to fail")
	}
	all, _ = s.GetAll("todos")
	if !equalIDs(idsOf(t, all), []string{"2", "5"}) {
		t.Errorf("Expected failed ReplaceAll to keep [2 5], got %v", idsOf(t, all))
	}

	if err := s.ReplaceAll("todos", "id", nil); err != nil {
		t.Fatalf("ReplaceAll with no records failed: %v", err)
	}
	all, _ = s.GetAll("todos")
	if len(all) != 0 {
		t.Errorf("Expected empty collection after ReplaceAll(nil), got %d records", len(all))
	}
}

func testDelete(t *testing.T, s store.ILocalStore) {
	defer s.Close()

	if _, err := s.PutAll("todos", "id", []store.Record{{"id": 1}, {"id": 2}, {"id": 3}}); err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}

	deleted, err := s.DeleteByID("todos", "1")
	if err != nil || !deleted {
		t.Errorf("Expected record 1 to be deleted (deleted=%t, err=%v)", deleted, err)
	}
	deleted, err = s.DeleteByID("todos", "1")
	if err != nil || deleted {
		t.Errorf("Expected second delete of record 1 to report false (deleted=%t, err=%v)", deleted, err)
	}

	deleted, err = s.DeleteByIDs("todos", []string{"2", "99"})
	if err != nil || !deleted {
		t.Errorf("Expected DeleteByIDs to report true when one id existed (deleted=%t, err=%v)", deleted, err)
	}
	deleted, _ = s.DeleteByIDs("todos", []string{"98", "99"})
	if deleted {
		t.Errorf("Expected DeleteByIDs of missing ids to report false")
	}

	all, _ := s.GetAll("todos")
	if !equalIDs(idsOf(t, all), []string{"3"}) {
		t.Errorf("Expected only record 3 to remain, got %v", idsOf(t, all))
	}

	deleted, err = s.DeleteByID("unknown", "1")
	if err != nil || deleted {
		t.Errorf("Expected delete in unknown collection to report false (deleted=%t, err=%v)", deleted, err)
	}
}

func testDeleteAll(t *testing.T, s store.ILocalStore) {
	defer s.Close()

	if _, err := s.PutAll("todos", "id", []store.Record{{"id": 1}, {"id": 2}}); err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}
	if _, err := s.Put("notes", "id", store.Record{"id": 1}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	deleted, err := s.DeleteAll("todos")
	if err != nil || !deleted {
		t.Errorf("Expected DeleteAll to report true (deleted=%t, err=%v)", deleted, err)
	}
	all, _ := s.GetAll("todos")
	if len(all) != 0 {
		t.Errorf("Expected empty collection after DeleteAll, got %d records", len(all))
	}
	if _, loaded, _ := s.Get("notes", "1"); !loaded {
		t.Errorf("Expected DeleteAll to leave other collections untouched")
	}

	deleted, _ = s.DeleteAll("todos")
	if deleted {
		t.Errorf("Expected DeleteAll of an empty collection to report false")
	}

	// the collection stays usable and ids restart
	r, err := s.Put("todos", "id", store.Record{"title": "again"})
	if err != nil {
		t.Fatalf("Put after DeleteAll failed: %v", err)
	}
	if idOf(t, r) != "1" {
		t.Errorf("Expected auto id 1 after DeleteAll, got %v", r["id"])
	}
}

func testIsCacheValid(t *testing.T, s store.ILocalStore) {
	defer s.Close()

	valid, err := s.IsCacheValid("todos", "1", time.Hour)
	if err != nil || valid {
		t.Errorf("Expected missing record to be invalid (valid=%t, err=%v)", valid, err)
	}

	if _, err := s.Put("todos", "id", store.Record{"id": 1}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	valid, err = s.IsCacheValid("todos", "1", time.Hour)
	if err != nil || !valid {
		t.Errorf("Expected freshly written record to be valid (valid=%t, err=%v)", valid, err)
	}
	if valid, _ := s.IsCacheValid("todos", "1", 0); valid {
		t.Errorf("Expected zero ttl to never be valid")
	}

	if _, err := s.DeleteByID("todos", "1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if valid, _ := s.IsCacheValid("todos", "1", time.Hour); valid {
		t.Errorf("Expected deleted record to be invalid")
	}

	t.Run("DeleteEvictsCollection", func(t *testing.T) {
		if _, err := s.PutAll("todos", "id", []store.Record{{"id": 2}, {"id": 3}}); err != nil {
			t.Fatalf("PutAll failed: %v", err)
		}
		if _, err := s.DeleteByIDs("todos", []string{"2"}); err != nil {
			t.Fatalf("DeleteByIDs failed: %v", err)
		}
		if valid, _ := s.IsCacheValid("todos", "3", time.Hour); valid {
			t.Errorf("Expected a deletion to evict the freshness of the whole collection")
		}

		if _, err := s.Put("other", "id", store.Record{"id": 1}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if _, err := s.DeleteByIDs("other", []string{"99"}); err != nil {
			t.Fatalf("DeleteByIDs failed: %v", err)
		}
		if valid, _ := s.IsCacheValid("other", "1", time.Hour); !valid {
			t.Errorf("Expected deleting missing ids to keep the collection fresh")
		}
	})
}

func testCollectionIsolation(t *testing.T, s store.ILocalStore) {
	defer s.Close()

	if _, err := s.Put("a", "id", store.Record{"id": 1, "v": "a"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := s.Put("b", "id", store.Record{"id": 1, "v": "b"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ra, _, _ := s.Get("a", "1")
	rb, _, _ := s.Get("b", "1")
	if ra["v"] != "a" || rb["v"] != "b" {
		t.Errorf("Expected same id in different collections to be independent, got %v and %v", ra, rb)
	}

	if err := s.ReplaceAll("a", "id", nil); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}
	if _, loaded, _ := s.Get("b", "1"); !loaded {
		t.Errorf("Expected ReplaceAll to leave other collections untouched")
	}
}

func testEdgeCases(t *testing.T, s store.ILocalStore) {
	defer s.Close()

	if _, err := s.Put("todos", "", store.Record{"id": 1}); store.CodeOf(err) != store.RetCInvalidOperation {
		t.Errorf("Expected empty id column to fail with InvalidOperation, got %v", err)
	}

	// nested values survive a round trip and are copied
	nested := store.Record{"id": 1, "tags": []any{"a", "b"}, "meta": map[string]any{"owner": "me"}}
	if _, err := s.Put("todos", "id", nested); err != nil {
		t.Fatalf("Put nested failed: %v", err)
	}
	nested["tags"].([]any)[0] = "changed"

	got, _, _ := s.Get("todos", "1")
	tags, ok := got["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "a" {
		t.Errorf("Expected stored tags [a b], got %v", got["tags"])
	}
	meta, ok := got["meta"].(map[string]any)
	if !ok || meta["owner"] != "me" {
		t.Errorf("Expected stored meta {owner:me}, got %v", got["meta"])
	}

	// string ids
	if _, err := s.Put("users", "id", store.Record{"id": "alice"}); err != nil {
		t.Fatalf("Put with string id failed: %v", err)
	}
	if _, loaded, _ := s.Get("users", "alice"); !loaded {
		t.Errorf("Expected record with string id to be found")
	}
}

func testConcurrentWrites(t *testing.T, s store.ILocalStore) {
	defer s.Close()

	numWorkers := 8
	perWorker := 25

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	errs := make(chan error, numWorkers*perWorker)

	for w := 0; w < numWorkers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.Put("todos", "id", store.Record{"title": fmt.Sprintf("w%d-%d", w, i)}); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent Put failed: %v", err)
	}

	all, err := s.GetAll("todos")
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != numWorkers*perWorker {
		t.Errorf("Expected %d records with unique auto ids, got %d", numWorkers*perWorker, len(all))
	}
}
