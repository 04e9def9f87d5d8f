package testing

import (
	"fmt"
	"math/rand"
	"strconv"
	"testing"

	"github.com/ValentinKolb/oKV/lib/store"
)

// RunLocalStoreBenchmarks runs the benchmarks for an ILocalStore implementation
func RunLocalStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			benchmarkPut(b, factory())
		})

		b.Run("PutAutoID", func(b *testing.B) {
			benchmarkPutAutoID(b, factory())
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory())
		})

		b.Run("GetByQuery", func(b *testing.B) {
			benchmarkGetByQuery(b, factory())
		})

		b.Run("ReplaceAll", func(b *testing.B) {
			benchmarkReplaceAll(b, factory())
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, factory())
		})
	})
}

func benchmarkPut(b *testing.B, s store.ILocalStore) {
	defer s.Close()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Put("bench", "id", store.Record{"id": i + 1, "title": "value"})
	}
}

func benchmarkPutAutoID(b *testing.B, s store.ILocalStore) {
	defer s.Close()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Put("bench", "id", store.Record{"title": "value"})
	}
}

func benchmarkGet(b *testing.B, s store.ILocalStore) {
	defer s.Close()
	prefill(b, s, 1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = s.Get("bench", strconv.Itoa(i%1000+1))
	}
}

func benchmarkGetByQuery(b *testing.B, s store.ILocalStore) {
	defer s.Close()
	prefill(b, s, 1000)
	query := store.Query{}.Where("group", store.OpEq, 3)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.GetByQuery("bench", query)
	}
}

func benchmarkReplaceAll(b *testing.B, s store.ILocalStore) {
	defer s.Close()
	records := make([]store.Record, 100)
	for i := range records {
		records[i] = store.Record{"id": i + 1, "title": "value"}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.ReplaceAll("bench", "id", records)
	}
}

func benchmarkMixedUsage(b *testing.B, s store.ILocalStore) {
	defer s.Close()
	prefill(b, s, 1000)
	rng := rand.New(rand.NewSource(42))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := strconv.Itoa(rng.Intn(1000) + 1)
		switch i % 10 {
		case 0, 1, 2, 3, 4, 5:
			_, _, _ = s.Get("bench", id)
		case 6, 7:
			_, _ = s.Put("bench", "id", store.Record{"id": id, "title": "updated"})
		case 8:
			_, _ = s.Patch("bench", "id", store.Record{"id": id, "done": true})
		case 9:
			_, _ = s.DeleteByID("bench", id)
		}
	}
}

// prefill writes n records with ids 1..n into the bench collection
func prefill(b *testing.B, s store.ILocalStore, n int) {
	records := make([]store.Record, n)
	for i := range records {
		records[i] = store.Record{"id": i + 1, "title": fmt.Sprintf("value-%d", i), "group": i % 10}
	}
	if _, err := s.PutAll("bench", "id", records); err != nil {
		b.Fatalf("prefill failed: %v", err)
	}
}
