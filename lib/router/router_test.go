package router

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/oKV/lib/connectivity"
	"github.com/ValentinKolb/oKV/lib/freshness"
	"github.com/ValentinKolb/oKV/lib/queue"
	"github.com/ValentinKolb/oKV/lib/sqldb"
	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/ValentinKolb/oKV/lib/store/lstore"
)

// --------------------------------------------------------------------------
// Fake remote store
// --------------------------------------------------------------------------

// fakeRemote is an in memory IRemoteStore with upsert semantics
type fakeRemote struct {
	mu     sync.Mutex
	data   map[string]map[string]store.Record
	calls  map[string]int
	nextID int

	// failures returns err for the next n calls
	failures int
	err      error

	// gate blocks GetList until it is closed
	gate chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		data:  make(map[string]map[string]store.Record),
		calls: make(map[string]int),
	}
}

func (f *fakeRemote) enter(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return nil
}

func (f *fakeRemote) failNext(n int, err error) {
	f.mu.Lock()
	f.failures, f.err = n, err
	f.mu.Unlock()
}

func (f *fakeRemote) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRemote) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *fakeRemote) seed(collection string, records ...store.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range records {
		f.upsert(collection, "id", rec)
	}
}

func (f *fakeRemote) count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data[collection])
}

// upsert must be called with mu held
func (f *fakeRemote) upsert(collection, idColumn string, rec store.Record) store.Record {
	c := rec.Clone()
	id, ok := c.ID(idColumn)
	if !ok {
		f.nextID++
		id = fmt.Sprintf("srv-%d", f.nextID)
		c[idColumn] = id
	}
	if f.data[collection] == nil {
		f.data[collection] = make(map[string]store.Record)
	}
	f.data[collection][id] = c
	return c.Clone()
}

func (f *fakeRemote) Get(_ context.Context, collection, id string) (store.Record, error) {
	if err := f.enter("Get"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.data[collection][id]
	if !ok {
		return nil, store.Errorf(store.RetCNotFound, "%s/%s not found", collection, id)
	}
	return rec.Clone(), nil
}

func (f *fakeRemote) GetList(_ context.Context, collection string) ([]store.Record, error) {
	if f.gate != nil {
		<-f.gate
	}
	if err := f.enter("GetList"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Record, 0, len(f.data[collection]))
	for _, rec := range f.data[collection] {
		out = append(out, rec.Clone())
	}
	store.SortByID(out, "id")
	return out, nil
}

func (f *fakeRemote) write(name, collection, idColumn string, payload store.Payload) (store.Payload, error) {
	if err := f.enter(name); err != nil {
		return store.Payload{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if payload.Kind() == store.PayloadSingle {
		return store.Single(f.upsert(collection, idColumn, payload.Record())), nil
	}
	out := make([]store.Record, 0, len(payload.Records()))
	for _, rec := range payload.Records() {
		out = append(out, f.upsert(collection, idColumn, rec))
	}
	return store.Collection(out), nil
}

func (f *fakeRemote) Create(_ context.Context, collection, idColumn string, payload store.Payload) (store.Payload, error) {
	return f.write("Create", collection, idColumn, payload)
}

func (f *fakeRemote) Update(_ context.Context, collection, idColumn string, payload store.Payload) (store.Payload, error) {
	return f.write("Update", collection, idColumn, payload)
}

func (f *fakeRemote) Patch(_ context.Context, collection, idColumn string, record store.Record) (store.Record, error) {
	if err := f.enter("Patch"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, _ := record.ID(idColumn)
	existing, ok := f.data[collection][id]
	if !ok {
		return nil, store.Errorf(store.RetCNotFound, "%s/%s not found", collection, id)
	}
	return f.upsert(collection, idColumn, existing.Merge(record)), nil
}

func (f *fakeRemote) Delete(_ context.Context, collection string, ids []string) error {
	if err := f.enter("Delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.data[collection], id)
	}
	return nil
}

func (f *fakeRemote) Upload(_ context.Context, collection string, file store.Upload) (store.Record, error) {
	if err := f.enter("Upload"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsert(collection, "id", store.Record{"file": filepath.Base(file.Path)}), nil
}

func (f *fakeRemote) Download(_ context.Context, _, _ string) error {
	return f.enter("Download")
}

func (f *fakeRemote) Ping(_ context.Context) error {
	return f.enter("Ping")
}

func (f *fakeRemote) Close() error {
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

type fixture struct {
	router *Router
	remote *fakeRemote
	local  store.ILocalStore
	queue  *queue.Queue
	oracle *connectivity.Manual
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T, online bool, clock freshness.Clock) *fixture {
	t.Helper()

	db, err := sqldb.Open(filepath.Join(t.TempDir(), "okv.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	q, err := queue.Open(db, queue.DefaultPolicy())
	if err != nil {
		t.Fatalf("Failed to open queue: %v", err)
	}

	conf := DefaultConfig()
	conf.RetryDelay = time.Millisecond

	f := &fixture{
		remote: newFakeRemote(),
		local:  lstore.NewLocalStore(freshness.NewTracker(clock)),
		queue:  q,
		oracle: connectivity.NewManual(online),
	}
	f.router = New(conf, f.remote, f.local, f.oracle, q)
	return f
}

func (f *fixture) pending(t *testing.T) []queue.Operation {
	t.Helper()
	ops, err := f.queue.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	return ops
}

func cloud(opts Options) Options {
	opts.Routing = RoutingCloud
	return opts
}

func expectCode(t *testing.T, err error, code store.RetCode) {
	t.Helper()
	if got := store.CodeOf(err); got != code {
		t.Errorf("Expected code %s, got %s (%v)", code, got, err)
	}
}

// --------------------------------------------------------------------------
// Offline writes
// --------------------------------------------------------------------------

func TestOfflineQueueableWriteIsQueued(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()

	start := time.Now()
	res, err := f.router.CreateOne(ctx, "todos", store.Record{"title": "milk"}, cloud(Options{Queueable: true}))
	if err != nil {
		t.Fatalf("CreateOne failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected queueing to return immediately, took %s", elapsed)
	}

	if !res.Queued || res.Decision != DecisionQueued || res.OperationID == "" {
		t.Errorf("Expected a queued result, got %+v", res)
	}
	if calls := f.remote.totalCalls(); calls != 0 {
		t.Errorf("Expected no remote calls, got %d", calls)
	}

	ops := f.pending(t)
	if len(ops) != 1 {
		t.Fatalf("Expected exactly one queued operation, got %d", len(ops))
	}
	op := ops[0]
	if op.ID != res.OperationID || op.Kind != "CreateOne" || op.Collection != "todos" || op.IDColumn != "id" {
		t.Errorf("Unexpected queued operation: %+v", op)
	}

	req, err := requestOf(op)
	if err != nil {
		t.Fatalf("requestOf failed: %v", err)
	}
	if _, ok := req.Payload.Record().ID("id"); !ok {
		t.Errorf("Expected the queued record to carry a client id, got %v", req.Payload.Record())
	}
	if req.Payload.Record()["title"] != "milk" {
		t.Errorf("Expected queued payload to keep its fields, got %v", req.Payload.Record())
	}
}

func TestOfflineNonQueueableWriteFails(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()

	writes := map[string]func() error{
		"CreateOne": func() error {
			_, err := f.router.CreateOne(ctx, "todos", store.Record{"title": "milk"}, cloud(Options{}))
			return err
		},
		"UpdateOne": func() error {
			_, err := f.router.UpdateOne(ctx, "todos", "1", store.Record{"title": "milk"}, cloud(Options{}))
			return err
		},
		"DeleteByIds": func() error {
			_, err := f.router.DeleteByIds(ctx, "todos", []string{"1"}, cloud(Options{}))
			return err
		},
		"UploadFile": func() error {
			_, err := f.router.UploadFile(ctx, "files", FileSpec{Path: "/tmp/a.txt"}, Options{})
			return err
		},
	}

	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			expectCode(t, write(), store.RetCNoNetworkNotPersisted)
		})
	}

	if ops := f.pending(t); len(ops) != 0 {
		t.Errorf("Expected no queued operations, got %d", len(ops))
	}
	if calls := f.remote.totalCalls(); calls != 0 {
		t.Errorf("Expected no remote calls, got %d", calls)
	}
}

func TestDeleteByIdsOfflineIsQueued(t *testing.T) {
	f := newFixture(t, false, nil)

	res, err := f.router.DeleteByIds(context.Background(), "todos", []string{"1", "2"}, cloud(Options{Queueable: true}))
	if err != nil {
		t.Fatalf("DeleteByIds failed: %v", err)
	}
	if !res.Queued || !res.Payload.IsEmpty() {
		t.Errorf("Expected an empty queued result, got %+v", res)
	}
	if calls := f.remote.totalCalls(); calls != 0 {
		t.Errorf("Expected no remote calls, got %d", calls)
	}

	ops := f.pending(t)
	if len(ops) != 1 || ops[0].Kind != "DeleteByIds" {
		t.Fatalf("Expected one DeleteByIds operation, got %+v", ops)
	}
	req, err := requestOf(ops[0])
	if err != nil {
		t.Fatalf("requestOf failed: %v", err)
	}
	if len(req.IDs) != 2 || req.IDs[0] != "1" || req.IDs[1] != "2" {
		t.Errorf("Expected ids [1 2], got %v", req.IDs)
	}
}

func TestQueuedWriteIsPersistedLocally(t *testing.T) {
	f := newFixture(t, false, nil)

	res, err := f.router.CreateOne(context.Background(), "todos", store.Record{"title": "milk"},
		cloud(Options{Queueable: true, Persist: true}))
	if err != nil {
		t.Fatalf("CreateOne failed: %v", err)
	}

	id, ok := res.Payload.Record().ID("id")
	if !ok {
		t.Fatalf("Expected queued record to have an id, got %v", res.Payload.Record())
	}
	rec, found, err := f.local.Get("todos", id)
	if err != nil || !found {
		t.Fatalf("Expected record %s in local store, found=%v err=%v", id, found, err)
	}
	if rec["title"] != "milk" {
		t.Errorf("Expected title milk, got %v", rec["title"])
	}
}

func TestConnectivityFailureQueuesWrite(t *testing.T) {
	f := newFixture(t, true, nil)
	f.oracle.SetQuality(connectivity.QualityPoor)
	f.remote.failNext(1, store.NewError(store.RetCConnectivity, "connection refused"))

	res, err := f.router.UpdateOne(context.Background(), "todos", "7", store.Record{"title": "milk"},
		cloud(Options{Queueable: true}))
	if err != nil {
		t.Fatalf("Expected the error to be suppressed, got %v", err)
	}
	if !res.Queued {
		t.Errorf("Expected the write to be queued, got %+v", res)
	}
	if calls := f.remote.callCount("Update"); calls != 1 {
		t.Errorf("Expected one remote attempt, got %d", calls)
	}
	if ops := f.pending(t); len(ops) != 1 {
		t.Errorf("Expected one queued operation, got %d", len(ops))
	}
}

func TestBusinessFailureIsReturned(t *testing.T) {
	f := newFixture(t, true, nil)
	f.remote.failNext(1, store.NewError(store.RetCClient, "validation failed"))

	_, err := f.router.CreateOne(context.Background(), "todos", store.Record{"title": ""},
		cloud(Options{Queueable: true}))
	expectCode(t, err, store.RetCClient)
	if ops := f.pending(t); len(ops) != 0 {
		t.Errorf("Expected no queued operations, got %d", len(ops))
	}
}

func TestTimeoutIsReturned(t *testing.T) {
	f := newFixture(t, true, nil)
	f.remote.failNext(1, store.NewError(store.RetCTimeout, "no response within 1s"))

	res, err := f.router.CreateOne(context.Background(), "todos", store.Record{"title": "milk"},
		cloud(Options{Queueable: true}))
	expectCode(t, err, store.RetCTimeout)
	if res.Queued {
		t.Errorf("Expected a timed out write not to be queued, got %+v", res)
	}
	if calls := f.remote.callCount("Create"); calls != 1 {
		t.Errorf("Expected one remote attempt without retries, got %d", calls)
	}
	if ops := f.pending(t); len(ops) != 0 {
		t.Errorf("Expected no queued operations, got %d", len(ops))
	}
}

// --------------------------------------------------------------------------
// Replay
// --------------------------------------------------------------------------

func TestReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()

	if _, err := f.router.CreateList(ctx, "todos", []store.Record{{"title": "a"}, {"title": "b"}},
		cloud(Options{Queueable: true})); err != nil {
		t.Fatalf("CreateList failed: %v", err)
	}
	ops := f.pending(t)
	if len(ops) != 1 {
		t.Fatalf("Expected one queued operation, got %d", len(ops))
	}

	f.oracle.SetOnline(true)
	// a crash before the dequeue replays the same operation again
	for i := 0; i < 2; i++ {
		if err := f.router.Replay(ctx, ops[0]); err != nil {
			t.Fatalf("Replay %d failed: %v", i, err)
		}
	}

	if n := f.remote.count("todos"); n != 2 {
		t.Errorf("Expected 2 remote records after replaying twice, got %d", n)
	}
}

func TestDrainDeliversQueuedWrites(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c"} {
		if _, err := f.router.CreateOne(ctx, "todos", store.Record{"title": title},
			cloud(Options{Queueable: true, Persist: true})); err != nil {
			t.Fatalf("CreateOne failed: %v", err)
		}
	}

	f.oracle.SetOnline(true)
	stats, err := f.queue.Drain(ctx, f.oracle, f.router)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if stats.Delivered != 3 {
		t.Errorf("Expected 3 delivered operations, got %+v", stats)
	}
	if n := f.remote.count("todos"); n != 3 {
		t.Errorf("Expected 3 remote records, got %d", n)
	}
	if ops := f.pending(t); len(ops) != 0 {
		t.Errorf("Expected an empty queue, got %d operations", len(ops))
	}

	local, err := f.local.GetAll("todos")
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(local) != 3 {
		t.Errorf("Expected 3 local records, got %d", len(local))
	}
}

func TestWifiOnlyUploadOnCellular(t *testing.T) {
	f := newFixture(t, true, nil)
	f.oracle.SetConditions(connectivity.Conditions{Wifi: false})
	ctx := context.Background()

	res, err := f.router.UploadFile(ctx, "files", FileSpec{Path: "/tmp/report.pdf", Key: "file"},
		Options{Conditions: connectivity.Requirement{WifiOnly: true}})
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if !res.Queued {
		t.Fatalf("Expected the upload to be queued, got %+v", res)
	}
	if calls := f.remote.callCount("Upload"); calls != 0 {
		t.Errorf("Expected no upload while on cellular, got %d", calls)
	}

	stats, err := f.queue.Drain(ctx, f.oracle, f.router)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if stats.Blocked != 1 || stats.Delivered != 0 {
		t.Errorf("Expected the upload to stay blocked, got %+v", stats)
	}

	f.oracle.SetConditions(connectivity.Conditions{Wifi: true})
	stats, err = f.queue.Drain(ctx, f.oracle, f.router)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if stats.Delivered != 1 {
		t.Errorf("Expected the upload to be delivered on wifi, got %+v", stats)
	}
	if calls := f.remote.callCount("Upload"); calls != 1 {
		t.Errorf("Expected one upload, got %d", calls)
	}
}

func TestQueuedDownloadReplays(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()

	res, err := f.router.DownloadFile(ctx, "https://files.example/a.bin", filepath.Join(t.TempDir(), "a.bin"),
		Options{Queueable: true})
	if err != nil || !res.Queued {
		t.Fatalf("Expected the download to be queued, res=%+v err=%v", res, err)
	}

	f.oracle.SetOnline(true)
	if _, err := f.queue.Drain(ctx, f.oracle, f.router); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if calls := f.remote.callCount("Download"); calls != 1 {
		t.Errorf("Expected one download, got %d", calls)
	}
}

// --------------------------------------------------------------------------
// Online requests
// --------------------------------------------------------------------------

func TestCreateWithPersist(t *testing.T) {
	f := newFixture(t, true, nil)

	res, err := f.router.CreateOne(context.Background(), "todos", store.Record{"title": "milk"}, cloud(Options{Persist: true}))
	if err != nil {
		t.Fatalf("CreateOne failed: %v", err)
	}
	if res.Decision != DecisionRemoteThenCacheLocally || res.Source != SourceRemote {
		t.Errorf("Expected RemoteThenCacheLocally from remote, got %s from %s", res.Decision, res.Source)
	}

	id, ok := res.Payload.Record().ID("id")
	if !ok {
		t.Fatalf("Expected the created record to have an id, got %v", res.Payload.Record())
	}
	rec, found, err := f.local.Get("todos", id)
	if err != nil || !found {
		t.Fatalf("Expected record %s in local store, found=%v err=%v", id, found, err)
	}
	if rec["title"] != "milk" {
		t.Errorf("Expected title milk, got %v", rec["title"])
	}
	valid, err := f.local.IsCacheValid("todos", id, time.Minute)
	if err != nil || !valid {
		t.Errorf("Expected the freshness record to be updated, valid=%v err=%v", valid, err)
	}
}

func TestFreshCacheAnswersLocally(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	f := newFixture(t, true, clock.Now)
	f.remote.seed("todos", store.Record{"id": "1", "title": "milk"})
	ctx := context.Background()
	opts := cloud(Options{Persist: true})

	res, err := f.router.GetOne(ctx, "todos", "1", opts)
	if err != nil {
		t.Fatalf("GetOne failed: %v", err)
	}
	if res.Decision != DecisionRemoteThenCacheLocally {
		t.Errorf("Expected the first read to go to the remote store, got %s", res.Decision)
	}

	clock.Advance(DefaultConfig().CacheTTL / 2)
	res, err = f.router.GetOne(ctx, "todos", "1", opts)
	if err != nil {
		t.Fatalf("GetOne failed: %v", err)
	}
	if res.Source != SourceLocal || f.remote.callCount("Get") != 1 {
		t.Errorf("Expected a cache hit inside the TTL, got %s with %d remote calls", res.Source, f.remote.callCount("Get"))
	}

	clock.Advance(DefaultConfig().CacheTTL)
	if _, err := f.router.GetOne(ctx, "todos", "1", opts); err != nil {
		t.Fatalf("GetOne failed: %v", err)
	}
	if calls := f.remote.callCount("Get"); calls != 2 {
		t.Errorf("Expected the stale entry to be refetched, got %d remote calls", calls)
	}
}

func TestRetries(t *testing.T) {
	unreachable := store.NewError(store.RetCConnectivity, "connection refused")

	t.Run("GoodLinkRetries", func(t *testing.T) {
		f := newFixture(t, true, nil)
		f.remote.seed("todos", store.Record{"id": "1"})
		f.remote.failNext(2, unreachable)

		if _, err := f.router.GetOne(context.Background(), "todos", "1", cloud(Options{})); err != nil {
			t.Fatalf("Expected the retry to succeed, got %v", err)
		}
		if calls := f.remote.callCount("Get"); calls != 3 {
			t.Errorf("Expected 3 attempts, got %d", calls)
		}
	})

	t.Run("RetriesAreBounded", func(t *testing.T) {
		f := newFixture(t, true, nil)
		f.remote.failNext(100, unreachable)

		_, err := f.router.GetOne(context.Background(), "todos", "1", cloud(Options{}))
		expectCode(t, err, store.RetCConnectivity)
		if calls := f.remote.callCount("Get"); calls != DefaultConfig().MaxRetries+1 {
			t.Errorf("Expected %d attempts, got %d", DefaultConfig().MaxRetries+1, calls)
		}
	})

	t.Run("PoorLinkDoesNotRetry", func(t *testing.T) {
		f := newFixture(t, true, nil)
		f.oracle.SetQuality(connectivity.QualityPoor)
		f.remote.failNext(2, unreachable)

		_, err := f.router.GetOne(context.Background(), "todos", "1", cloud(Options{}))
		expectCode(t, err, store.RetCConnectivity)
		if calls := f.remote.callCount("Get"); calls != 1 {
			t.Errorf("Expected a single attempt, got %d", calls)
		}
	})

	t.Run("BusinessFailuresAreNotRetried", func(t *testing.T) {
		f := newFixture(t, true, nil)

		_, err := f.router.GetOne(context.Background(), "todos", "missing", cloud(Options{}))
		expectCode(t, err, store.RetCNotFound)
		if calls := f.remote.callCount("Get"); calls != 1 {
			t.Errorf("Expected a single attempt, got %d", calls)
		}
	})
}

func TestPreferDiskFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("Offline", func(t *testing.T) {
		f := newFixture(t, false, nil)
		if _, err := f.local.Put("todos", "id", store.Record{"id": "1", "title": "cached"}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		res, err := f.router.GetOne(ctx, "todos", "1", cloud(Options{PreferDisk: true}))
		if err != nil {
			t.Fatalf("GetOne failed: %v", err)
		}
		if res.Source != SourceLocal || res.Payload.Record()["title"] != "cached" {
			t.Errorf("Expected the cached record, got %+v", res)
		}

		_, err = f.router.GetOne(ctx, "todos", "1", cloud(Options{}))
		expectCode(t, err, store.RetCConnectivity)
	})

	t.Run("RemoteUnreachable", func(t *testing.T) {
		f := newFixture(t, true, nil)
		f.oracle.SetQuality(connectivity.QualityPoor)
		if _, err := f.local.PutAll("todos", "id", []store.Record{{"id": "1"}, {"id": "2"}}); err != nil {
			t.Fatalf("PutAll failed: %v", err)
		}
		f.remote.failNext(1, store.NewError(store.RetCConnectivity, "timeout"))

		res, err := f.router.GetList(ctx, "todos", cloud(Options{PreferDisk: true}))
		if err != nil {
			t.Fatalf("GetList failed: %v", err)
		}
		if res.Decision != DecisionLocalOnly || len(res.Payload.Records()) != 2 {
			t.Errorf("Expected the local list, got %+v", res)
		}
	})
}

func TestUnsupportedRemoteKinds(t *testing.T) {
	f := newFixture(t, true, nil)
	ctx := context.Background()

	_, err := f.router.GetByQuery(ctx, "todos", store.Query{}, cloud(Options{}))
	expectCode(t, err, store.RetCUnsupportedOperation)

	_, err = f.router.DeleteAll(ctx, "todos", cloud(Options{}))
	expectCode(t, err, store.RetCUnsupportedOperation)
}

// --------------------------------------------------------------------------
// Disk routing
// --------------------------------------------------------------------------

func TestDiskRouting(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()

	res, err := f.router.CreateOne(ctx, "todos", store.Record{"title": "milk", "done": false}, Options{})
	if err != nil {
		t.Fatalf("CreateOne failed: %v", err)
	}
	if res.Decision != DecisionLocalOnly {
		t.Errorf("Expected LocalOnly, got %s", res.Decision)
	}
	id, ok := res.Payload.Record().ID("id")
	if !ok || id != "1" {
		t.Errorf("Expected the first auto id to be 1, got %q", id)
	}

	if _, err := f.router.PatchOne(ctx, "todos", store.Record{"id": id, "done": true}, Options{}); err != nil {
		t.Fatalf("PatchOne failed: %v", err)
	}
	res, err = f.router.GetOne(ctx, "todos", id, Options{})
	if err != nil {
		t.Fatalf("GetOne failed: %v", err)
	}
	if rec := res.Payload.Record(); rec["done"] != true || rec["title"] != "milk" {
		t.Errorf("Expected the patched record, got %v", rec)
	}

	query := store.Query{}.Where("done", store.OpEq, true)
	res, err = f.router.GetByQuery(ctx, "todos", query, Options{})
	if err != nil || len(res.Payload.Records()) != 1 {
		t.Errorf("Expected one matching record, got %+v (%v)", res.Payload.Records(), err)
	}

	if _, err := f.router.DeleteByIds(ctx, "todos", []string{id}, Options{}); err != nil {
		t.Fatalf("DeleteByIds failed: %v", err)
	}
	_, err = f.router.GetOne(ctx, "todos", id, Options{})
	expectCode(t, err, store.RetCNotFound)

	if calls := f.remote.totalCalls(); calls != 0 {
		t.Errorf("Expected no remote calls, got %d", calls)
	}
}

func TestLocalStoreUnavailable(t *testing.T) {
	r := New(DefaultConfig(), newFakeRemote(), nil, connectivity.NewManual(true), nil)

	_, err := r.GetList(context.Background(), "todos", Options{Routing: RoutingDisk})
	expectCode(t, err, store.RetCLocalStoreUnavailable)
}

func TestInvalidRequests(t *testing.T) {
	f := newFixture(t, true, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"EmptyCollection", Request{Kind: KindGetList}},
		{"GetOneWithoutID", Request{Kind: KindGetOne, Collection: "todos"}},
		{"CreateWithList", Request{Kind: KindCreateOne, Collection: "todos", Payload: store.Collection(nil)}},
		{"DeleteWithoutIDs", Request{Kind: KindDeleteByIds, Collection: "todos"}},
		{"DualReadWrite", Request{Kind: KindCreateOne, Collection: "todos",
			Payload: store.Single(store.Record{"a": 1}), Options: Options{DualRead: true}}},
		{"UnknownKind", Request{Kind: Kind(99), Collection: "todos"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.router.Execute(ctx, tt.req)
			expectCode(t, err, store.RetCInvalidOperation)
		})
	}
}

func TestSubmit(t *testing.T) {
	f := newFixture(t, true, nil)
	f.remote.seed("todos", store.Record{"id": "1"})

	ch := f.router.Submit(context.Background(), Request{Kind: KindGetOne, Collection: "todos", ID: "1",
		Options: cloud(Options{})})

	res, ok := <-ch
	if !ok || res.Err != nil {
		t.Fatalf("Expected one successful result, got %+v", res)
	}
	if _, open := <-ch; open {
		t.Errorf("Expected the channel to be closed after one result")
	}
}

// --------------------------------------------------------------------------
// Dual read
// --------------------------------------------------------------------------

func TestDualRead(t *testing.T) {
	ctx := context.Background()
	listReq := Request{Kind: KindGetList, Collection: "todos", Options: cloud(Options{})}

	t.Run("LocalThenRemote", func(t *testing.T) {
		f := newFixture(t, true, nil)
		if _, err := f.local.PutAll("todos", "id", []store.Record{{"id": "1", "v": "old"}, {"id": "9"}}); err != nil {
			t.Fatalf("PutAll failed: %v", err)
		}
		f.remote.seed("todos", store.Record{"id": "1", "v": "new"}, store.Record{"id": "2", "v": "new"})
		f.remote.gate = make(chan struct{})

		ch := f.router.Observe(ctx, listReq)

		first := <-ch
		if first.Err != nil || first.Source != SourceLocal || len(first.Payload.Records()) != 2 {
			t.Fatalf("Expected the local list first, got %+v", first)
		}
		close(f.remote.gate)

		second := <-ch
		if second.Err != nil || second.Source != SourceRemote || second.Decision != DecisionDualRead {
			t.Fatalf("Expected the remote list second, got %+v", second)
		}
		if _, open := <-ch; open {
			t.Errorf("Expected the channel to be closed")
		}

		local, err := f.local.GetAll("todos")
		if err != nil {
			t.Fatalf("GetAll failed: %v", err)
		}
		if len(local) != 2 {
			t.Fatalf("Expected the local collection to be replaced, got %v", local)
		}
		for _, rec := range local {
			if rec["v"] != "new" {
				t.Errorf("Expected reconciled records, got %v", rec)
			}
		}
	})

	t.Run("EmptyLocalIsSkipped", func(t *testing.T) {
		f := newFixture(t, true, nil)
		f.remote.seed("todos", store.Record{"id": "1"})

		var results []Result
		for res := range f.router.Observe(ctx, listReq) {
			results = append(results, res)
		}
		if len(results) != 1 || results[0].Source != SourceRemote {
			t.Errorf("Expected only the remote result, got %+v", results)
		}
	})

	t.Run("RemoteFailureIsReported", func(t *testing.T) {
		f := newFixture(t, true, nil)
		f.oracle.SetQuality(connectivity.QualityPoor)
		if _, err := f.local.Put("todos", "id", store.Record{"id": "1"}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		f.remote.failNext(1, store.NewError(store.RetCServer, "internal server error"))

		var local, failed int
		for res := range f.router.Observe(ctx, listReq) {
			switch {
			case res.Err == nil && res.Source == SourceLocal:
				local++
			case res.Err != nil && res.Source == SourceRemote:
				failed++
				expectCode(t, res.Err, store.RetCServer)
			}
		}
		if local != 1 || failed != 1 {
			t.Errorf("Expected one local result and one remote failure, got %d and %d", local, failed)
		}

		// Execute keeps the local success
		f.remote.failNext(1, store.NewError(store.RetCServer, "internal server error"))
		req := listReq
		req.DualRead = true
		res, err := f.router.Execute(ctx, req)
		if err != nil || res.Source != SourceLocal {
			t.Errorf("Expected Execute to return the local result, got %+v (%v)", res, err)
		}
	})

	t.Run("Offline", func(t *testing.T) {
		f := newFixture(t, false, nil)
		if _, err := f.local.Put("todos", "id", store.Record{"id": "1"}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		res, err := f.router.Execute(ctx, Request{Kind: KindGetOne, Collection: "todos", ID: "1",
			Options: cloud(Options{DualRead: true})})
		if err != nil || res.Source != SourceLocal {
			t.Errorf("Expected the local record while offline, got %+v (%v)", res, err)
		}
	})

	t.Run("RemoteDeletionEvicts", func(t *testing.T) {
		f := newFixture(t, true, nil)
		if _, err := f.local.Put("todos", "id", store.Record{"id": "5"}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		for range f.router.Observe(ctx, Request{Kind: KindGetOne, Collection: "todos", ID: "5", Options: cloud(Options{})}) {
		}
		if _, found, _ := f.local.Get("todos", "5"); found {
			t.Errorf("Expected the record to be evicted after the remote reported it missing")
		}
	})

	t.Run("ExecuteReportsRemoteDeletion", func(t *testing.T) {
		f := newFixture(t, true, nil)
		if _, err := f.local.Put("todos", "id", store.Record{"id": "5", "title": "stale"}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		res, err := f.router.Execute(ctx, Request{Kind: KindGetOne, Collection: "todos", ID: "5",
			Options: cloud(Options{DualRead: true})})
		expectCode(t, err, store.RetCNotFound)
		if res.Source != SourceRemote {
			t.Errorf("Expected the remote result, got %s", res.Source)
		}
		if rec := res.Payload.Record(); rec != nil {
			t.Errorf("Expected no record for a deleted entity, got %v", rec)
		}
		if _, found, _ := f.local.Get("todos", "5"); found {
			t.Errorf("Expected the record to be evicted")
		}
	})
}

// --------------------------------------------------------------------------
// Queue ordering
// --------------------------------------------------------------------------

func TestLiveWriteKeepsQueueOrder(t *testing.T) {
	ctx := context.Background()
	opts := cloud(Options{Queueable: true})

	t.Run("PendingWritesGoFirst", func(t *testing.T) {
		f := newFixture(t, false, nil)
		if res, err := f.router.UpdateOne(ctx, "todos", "7", store.Record{"title": "v1"}, opts); err != nil || !res.Queued {
			t.Fatalf("Expected the first update to be queued, res=%+v err=%v", res, err)
		}

		f.oracle.SetOnline(true)
		res, err := f.router.UpdateOne(ctx, "todos", "7", store.Record{"title": "v2"}, opts)
		if err != nil {
			t.Fatalf("UpdateOne failed: %v", err)
		}
		if res.Queued {
			t.Errorf("Expected the second update to be sent live, got %+v", res)
		}
		if calls := f.remote.callCount("Update"); calls != 2 {
			t.Errorf("Expected 2 remote updates, got %d", calls)
		}
		if ops := f.pending(t); len(ops) != 0 {
			t.Errorf("Expected an empty queue, got %d operations", len(ops))
		}

		rec, err := f.remote.Get(ctx, "todos", "7")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if rec["title"] != "v2" {
			t.Errorf("Expected the later update to win, got %v", rec["title"])
		}
	})

	t.Run("UndeliverableWritesKeepOrder", func(t *testing.T) {
		f := newFixture(t, false, nil)
		if res, err := f.router.UpdateOne(ctx, "todos", "7", store.Record{"title": "v1"}, opts); err != nil || !res.Queued {
			t.Fatalf("Expected the first update to be queued, res=%+v err=%v", res, err)
		}

		f.oracle.SetOnline(true)
		f.remote.failNext(1, store.NewError(store.RetCConnectivity, "connection reset"))
		res, err := f.router.UpdateOne(ctx, "todos", "7", store.Record{"title": "v2"}, opts)
		if err != nil {
			t.Fatalf("UpdateOne failed: %v", err)
		}
		if !res.Queued {
			t.Errorf("Expected the second update to be queued behind the first, got %+v", res)
		}
		if ops := f.pending(t); len(ops) != 2 {
			t.Fatalf("Expected 2 queued operations, got %d", len(ops))
		}

		if _, err := f.queue.Drain(ctx, f.oracle, f.router); err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
		rec, err := f.remote.Get(ctx, "todos", "7")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if rec["title"] != "v2" {
			t.Errorf("Expected the later update to win, got %v", rec["title"])
		}
	})

	t.Run("OtherCollectionsAreNotDelayed", func(t *testing.T) {
		f := newFixture(t, true, nil)
		f.oracle.SetConditions(connectivity.Conditions{Wifi: false})
		if _, err := f.router.UploadFile(ctx, "files", FileSpec{Path: "/tmp/a.pdf", Key: "file"},
			Options{Conditions: connectivity.Requirement{WifiOnly: true}}); err != nil {
			t.Fatalf("UploadFile failed: %v", err)
		}

		res, err := f.router.UpdateOne(ctx, "todos", "7", store.Record{"title": "v1"}, opts)
		if err != nil || res.Queued {
			t.Errorf("Expected a live update, res=%+v err=%v", res, err)
		}
		if ops := f.pending(t); len(ops) != 1 {
			t.Errorf("Expected the upload to stay queued, got %d operations", len(ops))
		}
	})
}

// --------------------------------------------------------------------------
// Local persistence failures
// --------------------------------------------------------------------------

// failingLocal is a local store whose writes fail
type failingLocal struct {
	store.ILocalStore
}

func (failingLocal) Put(string, string, store.Record) (store.Record, error) {
	return nil, store.NewError(store.RetCLocalPersistence, "disk full")
}

func (failingLocal) PutAll(string, string, []store.Record) ([]store.Record, error) {
	return nil, store.NewError(store.RetCLocalPersistence, "disk full")
}

func TestLocalPersistenceFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)
	f.router = New(f.router.conf, f.remote, failingLocal{f.local}, f.oracle, f.queue)
	f.remote.seed("todos", store.Record{"id": "1", "title": "milk"})

	t.Run("Read", func(t *testing.T) {
		res, err := f.router.GetOne(ctx, "todos", "1", cloud(Options{Persist: true}))
		if err != nil {
			t.Fatalf("Expected the remote result despite the local failure, got %v", err)
		}
		if res.Source != SourceRemote || res.Payload.Record()["title"] != "milk" {
			t.Errorf("Expected the remote record, got %+v", res)
		}
	})

	t.Run("Write", func(t *testing.T) {
		res, err := f.router.CreateOne(ctx, "todos", store.Record{"title": "eggs"}, cloud(Options{Persist: true}))
		if err != nil {
			t.Fatalf("Expected the remote result despite the local failure, got %v", err)
		}
		if res.Source != SourceRemote {
			t.Errorf("Expected the remote result, got %s", res.Source)
		}
		if n := f.remote.count("todos"); n != 2 {
			t.Errorf("Expected 2 remote records, got %d", n)
		}
	})
}
