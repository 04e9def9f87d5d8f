package freshness

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/oKV/lib/sqldb"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("freshness")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ITracker records when cached data was last written.
type ITracker interface {
	// MarkFresh records the current time as last update of key.
	MarkFresh(key string)
	// IsFresh reports whether key was updated within ttl. A key without a record is never fresh.
	IsFresh(key string, ttl time.Duration) bool
	// MarkStale forgets key. For a collection key all entity keys of the collection are forgotten too.
	MarkStale(key string)
}

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// CollectionKey is the freshness key of a whole collection.
func CollectionKey(collection string) string {
	return collection
}

// EntityKey is the freshness key of a single record.
func EntityKey(collection, id string) string {
	return collection + "/" + id
}

// --------------------------------------------------------------------------
// Implementation
// --------------------------------------------------------------------------

// Tracker is the default ITracker. Timestamps are held in a concurrent map and
// optionally written through to a sqlite table so they survive a restart.
//
// Thread-safety: all methods are safe for concurrent use.
type Tracker struct {
	now     Clock
	entries *xsync.MapOf[string, int64] // key -> unix nanos of last update
	db      *sql.DB                     // nil for a memory-only tracker
}

// NewTracker creates a memory-only tracker. A nil clock means time.Now.
func NewTracker(now Clock) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:     now,
		entries: xsync.NewMapOf[string, int64](),
	}
}

// NewSQLTracker creates a tracker persisted in db and loads the existing records.
func NewSQLTracker(db *sql.DB, now Clock) (*Tracker, error) {
	if err := sqldb.Migrate(db, "freshness",
		`CREATE TABLE IF NOT EXISTS freshness (
			key        TEXT PRIMARY KEY,
			updated_at INTEGER NOT NULL
		)`,
	); err != nil {
		return nil, err
	}

	t := NewTracker(now)
	t.db = db

	rows, err := db.Query(`SELECT key, updated_at FROM freshness`)
	if err != nil {
		return nil, fmt.Errorf("failed to load freshness records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var at int64
		if err := rows.Scan(&key, &at); err != nil {
			return nil, fmt.Errorf("failed to scan freshness record: %w", err)
		}
		t.entries.Store(key, at)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	Logger.Debugf("loaded %d freshness records", t.entries.Size())
	return t, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see ITracker)
// --------------------------------------------------------------------------

func (t *Tracker) MarkFresh(key string) {
	at := t.now().UnixNano()
	t.entries.Store(key, at)

	if t.db == nil {
		return
	}
	if _, err := t.db.Exec(
		`INSERT INTO freshness (key, updated_at) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at`,
		key, at,
	); err != nil {
		Logger.Warningf("failed to persist freshness of %s: %v", key, err)
	}
}

func (t *Tracker) IsFresh(key string, ttl time.Duration) bool {
	at, ok := t.entries.Load(key)
	if !ok || ttl <= 0 {
		return false
	}
	return t.now().UnixNano()-at <= ttl.Nanoseconds()
}

func (t *Tracker) MarkStale(key string) {
	prefix := key + "/"
	t.entries.Delete(key)
	t.entries.Range(func(k string, _ int64) bool {
		if strings.HasPrefix(k, prefix) {
			t.entries.Delete(k)
		}
		return true
	})

	if t.db == nil {
		return
	}
	if _, err := t.db.Exec(
		`DELETE FROM freshness WHERE key = ? OR substr(key, 1, ?) = ?`,
		key, len(prefix), prefix,
	); err != nil {
		Logger.Warningf("failed to remove freshness of %s: %v", key, err)
	}
}

// LastUpdated returns the time key was last marked fresh.
func (t *Tracker) LastUpdated(key string) (time.Time, bool) {
	at, ok := t.entries.Load(key)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, at), true
}
