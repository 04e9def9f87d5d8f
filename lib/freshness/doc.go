// Package freshness keeps the last-write timestamps that decide whether cached data
// may be trusted without asking the remote store.
//
// Keys are either a collection ("todos") or a single record ("todos/42"). A key is fresh
// when now - last update <= ttl. There is one ttl per deployment, passed in by the caller.
// Records are only ever removed through MarkStale, which evicts a collection together with
// all its record keys.
package freshness
