// Package testing provides a standardised test suite and benchmarks for
// implementations of the store.ILocalStore interface.
//
// Both the in-memory store (lstore) and the sqlite store (sqlstore) run the same suite,
// which keeps their observable behaviour identical: id assignment, ordering, patch
// semantics, atomic replacement and freshness reporting.
//
// Example usage:
//
//	factory := func() store.ILocalStore {
//		return lstore.NewLocalStore(nil)
//	}
//
//	storetesting.RunLocalStoreTests(t, "Memory", factory)
//	storetesting.RunLocalStoreBenchmarks(b, "Memory", factory)
package testing
