package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/oKV/lib/freshness"
	"github.com/ValentinKolb/oKV/lib/sqldb"
	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("sqlstore")

type storeImpl struct {
	db      *sql.DB
	tracker freshness.ITracker
	ownsDB  bool
	now     freshness.Clock
}

// Open opens the sqlite file at path and creates a local store with a persistent
// freshness tracker in the same file. Close closes the database.
func Open(path string) (store.ILocalStore, error) {
	db, err := sqldb.Open(path)
	if err != nil {
		return nil, err
	}
	tracker, err := freshness.NewSQLTracker(db, nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s, err := newStore(db, tracker)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewLocalStore creates a local store in an already opened database.
// The database is shared, Close does not close it.
func NewLocalStore(db *sql.DB, tracker freshness.ITracker) (store.ILocalStore, error) {
	if tracker == nil {
		tracker = freshness.NewTracker(nil)
	}
	return newStore(db, tracker)
}

func newStore(db *sql.DB, tracker freshness.ITracker) (*storeImpl, error) {
	if err := sqldb.Migrate(db, "sqlstore",
		`CREATE TABLE IF NOT EXISTS records (
			collection TEXT    NOT NULL,
			id         TEXT    NOT NULL,
			body       TEXT    NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
	); err != nil {
		return nil, err
	}
	return &storeImpl{db: db, tracker: tracker, now: time.Now}, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// toError wraps a database error as a local persistence failure
func toError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*store.Error); ok {
		return err
	}
	return store.Errorf(store.RetCLocalPersistence, "%s: %v", op, err)
}

// queryer is implemented by *sql.DB and *sql.Tx
type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

// loadIDs returns all ids of a collection
func loadIDs(q queryer, collection string) ([]string, error) {
	rows, err := q.Query(`SELECT id FROM records WHERE collection = ?`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// writeRecords upserts prepared records inside tx
func (s *storeImpl) writeRecords(tx *sql.Tx, collection string, records []store.Record, ids []string) error {
	if len(records) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(
		`INSERT INTO records (collection, id, body, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	at := s.now().UnixNano()
	for i, r := range records {
		body, err := json.Marshal(r)
		if err != nil {
			return store.Errorf(store.RetCInvalidOperation, "record %s is not serialisable: %v", ids[i], err)
		}
		if _, err := stmt.Exec(collection, ids[i], string(body), at); err != nil {
			return err
		}
	}
	return nil
}

// inTx runs fn in a transaction and rolls back if it fails
func (s *storeImpl) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *storeImpl) markWritten(collection string, ids []string) {
	s.tracker.MarkFresh(freshness.CollectionKey(collection))
	for _, id := range ids {
		s.tracker.MarkFresh(freshness.EntityKey(collection, id))
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(collection, id string) (store.Record, bool, error) {
	var body string
	err := s.db.QueryRow(
		`SELECT body FROM records WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, toError("get", err)
	}
	r, err := store.DecodeRecord([]byte(body))
	if err != nil {
		return nil, false, store.Errorf(store.RetCDecode, "corrupt record %s/%s: %v", collection, id, err)
	}
	return r, true, nil
}

func (s *storeImpl) GetAll(collection string) ([]store.Record, error) {
	return s.GetByQuery(collection, store.Query{})
}

// GetByQuery loads the collection and filters in process. Query conditions work on
// arbitrary JSON fields, so there is no index to push them down to.
func (s *storeImpl) GetByQuery(collection string, query store.Query) ([]store.Record, error) {
	rows, err := s.db.Query(`SELECT id, body FROM records WHERE collection = ?`, collection)
	if err != nil {
		return nil, toError("query", err)
	}
	defer rows.Close()

	byID := make(map[string]store.Record)
	ids := make([]string, 0)
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, toError("query", err)
		}
		r, err := store.DecodeRecord([]byte(body))
		if err != nil {
			Logger.Warningf("skipping corrupt record %s/%s: %v", collection, id, err)
			continue
		}
		byID[id] = r
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, toError("query", err)
	}

	store.SortIDs(ids)
	records := make([]store.Record, len(ids))
	for i, id := range ids {
		records[i] = byID[id]
	}
	return query.Apply(records), nil
}

func (s *storeImpl) Put(collection, idColumn string, record store.Record) (store.Record, error) {
	stored, err := s.PutAll(collection, idColumn, []store.Record{record})
	if err != nil {
		return nil, err
	}
	return stored[0], nil
}

func (s *storeImpl) PutAll(collection, idColumn string, records []store.Record) ([]store.Record, error) {
	var prepared []store.Record
	var ids []string
	err := s.inTx(func(tx *sql.Tx) error {
		existing, err := loadIDs(tx, collection)
		if err != nil {
			return err
		}
		prepared, ids, err = store.AssignIDs(records, idColumn, existing)
		if err != nil {
			return err
		}
		return s.writeRecords(tx, collection, prepared, ids)
	})
	if err != nil {
		return nil, toError("put", err)
	}

	s.markWritten(collection, ids)
	return prepared, nil
}

func (s *storeImpl) Patch(collection, idColumn string, record store.Record) (store.Record, error) {
	if idColumn == "" {
		return nil, store.NewError(store.RetCInvalidOperation, "id column must not be empty")
	}
	id, ok := record.ID(idColumn)
	if !ok {
		return nil, store.NewError(store.RetCInvalidOperation, "patch requires a record id")
	}

	var merged store.Record
	err := s.inTx(func(tx *sql.Tx) error {
		var body string
		var current store.Record
		err := tx.QueryRow(
			`SELECT body FROM records WHERE collection = ? AND id = ?`, collection, id,
		).Scan(&body)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return err
		default:
			if current, err = store.DecodeRecord([]byte(body)); err != nil {
				return store.Errorf(store.RetCDecode, "corrupt record %s/%s: %v", collection, id, err)
			}
		}
		merged = current.Merge(record)
		return s.writeRecords(tx, collection, []store.Record{merged}, []string{id})
	})
	if err != nil {
		return nil, toError("patch", err)
	}

	s.markWritten(collection, []string{id})
	return merged.Clone(), nil
}

func (s *storeImpl) ReplaceAll(collection, idColumn string, records []store.Record) error {
	prepared, ids, err := store.AssignIDs(records, idColumn, nil)
	if err != nil {
		return err
	}
	err = s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM records WHERE collection = ?`, collection); err != nil {
			return err
		}
		return s.writeRecords(tx, collection, prepared, ids)
	})
	if err != nil {
		return toError("replace", err)
	}

	s.tracker.MarkStale(freshness.CollectionKey(collection))
	s.markWritten(collection, ids)
	return nil
}

func (s *storeImpl) DeleteByID(collection, id string) (bool, error) {
	return s.DeleteByIDs(collection, []string{id})
}

func (s *storeImpl) DeleteByIDs(collection string, ids []string) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.db.Exec(
		fmt.Sprintf(`DELETE FROM records WHERE collection = ? AND id IN (%s)`, placeholders), args...,
	)
	if err != nil {
		return false, toError("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, toError("delete", err)
	}

	if n > 0 {
		s.tracker.MarkStale(freshness.CollectionKey(collection))
	}
	return n > 0, nil
}

func (s *storeImpl) DeleteAll(collection string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM records WHERE collection = ?`, collection)
	if err != nil {
		return false, toError("delete all", err)
	}
	s.tracker.MarkStale(freshness.CollectionKey(collection))

	n, err := res.RowsAffected()
	if err != nil {
		return false, toError("delete all", err)
	}
	return n > 0, nil
}

func (s *storeImpl) IsCacheValid(collection, id string, ttl time.Duration) (bool, error) {
	var exists int
	err := s.db.QueryRow(
		`SELECT 1 FROM records WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, toError("cache check", err)
	}
	return s.tracker.IsFresh(freshness.EntityKey(collection, id), ttl), nil
}

func (s *storeImpl) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
