// Package lstore provides an in-memory implementation of the store.ILocalStore interface.
//
// Each collection is a map guarded by its own read-write mutex, the collections themselves
// live in a concurrent xsync map so unrelated collections never contend. Multi record writes
// (PutAll, ReplaceAll) hold the collection lock for the whole batch and are therefore atomic.
//
// Key Characteristics:
//
//   - Records are deep-copied on the way in and out. A caller mutating a returned record
//     never changes the stored one.
//
//   - Missing or zero ids are replaced by max(id)+1 of the collection.
//
//   - Every write marks the collection and the written records fresh in the injected
//     freshness.ITracker, deletes mark them stale. IsCacheValid combines existence with
//     the tracker.
//
//   - Nothing survives a restart. Use the sqlstore package for a durable cache.
//
// Usage Example:
//
//	tracker := freshness.NewTracker(nil)
//	s := lstore.NewLocalStore(tracker)
//	stored, _ := s.Put("todos", "id", store.Record{"title": "buy milk"})
//	record, found, _ := s.Get("todos", "1")
package lstore
