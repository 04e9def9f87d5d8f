// Package sqlstore implements store.ILocalStore on top of an embedded sqlite database
// (modernc.org/sqlite, no cgo).
//
// All collections share one table keyed by (collection, id). Records are stored as JSON
// text and decoded with json.Number so numeric ids keep their exact value. Multi record
// writes run in one transaction and id assignment reads the existing ids inside that
// transaction, so concurrent writers never hand out the same id.
//
// Open creates a self-contained store whose freshness records live in the same file.
// NewLocalStore attaches to a database shared with other components such as the
// mutation queue.
package sqlstore
