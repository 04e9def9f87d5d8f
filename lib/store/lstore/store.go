package lstore

import (
	"sync"
	"time"

	"github.com/ValentinKolb/oKV/lib/freshness"
	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
)

// collection holds the records of one collection.
// The mutex makes multi record writes atomic, single reads take the read lock.
type collection struct {
	mu      sync.RWMutex
	records map[string]store.Record
}

type storeImpl struct {
	collections *xsync.MapOf[string, *collection]
	tracker     freshness.ITracker
}

// NewLocalStore creates a new in-memory local store.
// Every successful write marks the written records and the collection fresh in tracker,
// deletes mark them stale. Nothing survives a restart.
func NewLocalStore(tracker freshness.ITracker) store.ILocalStore {
	if tracker == nil {
		tracker = freshness.NewTracker(nil)
	}
	return &storeImpl{
		collections: xsync.NewMapOf[string, *collection](),
		tracker:     tracker,
	}
}

// getCollection returns the collection, creating it if create is set.
// A nil result means the collection does not exist.
func (s *storeImpl) getCollection(name string, create bool) *collection {
	if !create {
		c, _ := s.collections.Load(name)
		return c
	}
	c, _ := s.collections.LoadOrCompute(name, func() *collection {
		return &collection{records: make(map[string]store.Record)}
	})
	return c
}

// ids returns all ids of the collection. The caller must hold the lock.
func (c *collection) ids() []string {
	ids := make([]string, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	return ids
}

// markWritten updates the freshness of the collection and the given records
func (s *storeImpl) markWritten(name string, ids []string) {
	s.tracker.MarkFresh(freshness.CollectionKey(name))
	for _, id := range ids {
		s.tracker.MarkFresh(freshness.EntityKey(name, id))
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(name, id string) (store.Record, bool, error) {
	c := s.getCollection(name, false)
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

func (s *storeImpl) GetAll(name string) ([]store.Record, error) {
	return s.GetByQuery(name, store.Query{})
}

func (s *storeImpl) GetByQuery(name string, query store.Query) ([]store.Record, error) {
	c := s.getCollection(name, false)
	if c == nil {
		return []store.Record{}, nil
	}
	c.mu.RLock()
	keys := c.ids()
	store.SortIDs(keys)
	all := make([]store.Record, 0, len(keys))
	for _, k := range keys {
		all = append(all, c.records[k])
	}
	c.mu.RUnlock()

	return cloneAll(query.Apply(all)), nil
}

func (s *storeImpl) Put(name, idColumn string, record store.Record) (store.Record, error) {
	stored, err := s.PutAll(name, idColumn, []store.Record{record})
	if err != nil {
		return nil, err
	}
	return stored[0], nil
}

func (s *storeImpl) PutAll(name, idColumn string, records []store.Record) ([]store.Record, error) {
	c := s.getCollection(name, true)
	c.mu.Lock()
	prepared, ids, err := store.AssignIDs(records, idColumn, c.ids())
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	for i, r := range prepared {
		c.records[ids[i]] = r
	}
	c.mu.Unlock()

	s.markWritten(name, ids)
	return cloneAll(prepared), nil
}

func (s *storeImpl) Patch(name, idColumn string, record store.Record) (store.Record, error) {
	if idColumn == "" {
		return nil, store.NewError(store.RetCInvalidOperation, "id column must not be empty")
	}
	id, ok := record.ID(idColumn)
	if !ok {
		return nil, store.NewError(store.RetCInvalidOperation, "patch requires a record id")
	}

	c := s.getCollection(name, true)
	c.mu.Lock()
	merged := c.records[id].Merge(record)
	c.records[id] = merged
	c.mu.Unlock()

	s.markWritten(name, []string{id})
	return merged.Clone(), nil
}

func (s *storeImpl) ReplaceAll(name, idColumn string, records []store.Record) error {
	c := s.getCollection(name, true)
	c.mu.Lock()
	prepared, ids, err := store.AssignIDs(records, idColumn, nil)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.records = make(map[string]store.Record, len(prepared))
	for i, r := range prepared {
		c.records[ids[i]] = r
	}
	c.mu.Unlock()

	s.tracker.MarkStale(freshness.CollectionKey(name))
	s.markWritten(name, ids)
	return nil
}

func (s *storeImpl) DeleteByID(name, id string) (bool, error) {
	return s.DeleteByIDs(name, []string{id})
}

func (s *storeImpl) DeleteByIDs(name string, ids []string) (bool, error) {
	c := s.getCollection(name, false)
	if c == nil {
		return false, nil
	}
	deleted := false
	c.mu.Lock()
	for _, id := range ids {
		if _, ok := c.records[id]; ok {
			delete(c.records, id)
			deleted = true
		}
	}
	c.mu.Unlock()

	if deleted {
		s.tracker.MarkStale(freshness.CollectionKey(name))
	}
	return deleted, nil
}

func (s *storeImpl) DeleteAll(name string) (bool, error) {
	defer s.tracker.MarkStale(freshness.CollectionKey(name))
	c := s.getCollection(name, false)
	if c == nil {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	deleted := len(c.records) > 0
	c.records = make(map[string]store.Record)
	return deleted, nil
}

func (s *storeImpl) IsCacheValid(name, id string, ttl time.Duration) (bool, error) {
	_, ok, err := s.Get(name, id)
	if err != nil || !ok {
		return false, err
	}
	return s.tracker.IsFresh(freshness.EntityKey(name, id), ttl), nil
}

func (s *storeImpl) Close() error {
	s.collections.Clear()
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// cloneAll deep copies records so callers never share memory with the store
func cloneAll(records []store.Record) []store.Record {
	out := make([]store.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
