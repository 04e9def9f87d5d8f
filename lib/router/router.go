package router

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/oKV/lib/connectivity"
	"github.com/ValentinKolb/oKV/lib/queue"
	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("router")

// Router decides for every request whether it is served by the local store, the remote
// store, both, or deferred to the mutation queue.
//
// Thread-safety: a Router is safe for concurrent use. Requests are not serialised,
// concurrent writes to the same record are last-writer-wins in the stores.
type Router struct {
	conf   Config
	remote store.IRemoteStore
	local  store.ILocalStore // nil if no local store is configured
	oracle connectivity.IOracle
	queue  *queue.Queue // nil if writes cannot be queued
}

// New creates a router. local and q may be nil: disk routes then fail with
// RetCLocalStoreUnavailable and queueable writes fail like non-queueable ones.
func New(conf Config, remote store.IRemoteStore, local store.ILocalStore, oracle connectivity.IOracle, q *queue.Queue) *Router {
	if conf.DefaultIDColumn == "" {
		conf.DefaultIDColumn = "id"
	}
	if oracle == nil {
		oracle = connectivity.NewManual(true)
	}
	return &Router{
		conf:   conf,
		remote: remote,
		local:  local,
		oracle: oracle,
		queue:  q,
	}
}

// Execute runs a request and returns its result. The error is also stored in Result.Err.
// A deferred write is not an error, it is reported through Result.Queued.
// Dual read requests return the last emission of Observe.
func (r *Router) Execute(ctx context.Context, req Request) (Result, error) {
	res := r.execute(ctx, req)
	r.count(req, res)
	return res, res.Err
}

// Submit runs a request in the background. The channel yields exactly one result and is then closed.
func (r *Router) Submit(ctx context.Context, req Request) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		res, _ := r.Execute(ctx, req)
		out <- res
	}()
	return out
}

func (r *Router) execute(ctx context.Context, req Request) Result {
	if req.IDColumn == "" {
		req.IDColumn = r.conf.DefaultIDColumn
	}
	if err := validate(req); err != nil {
		return Result{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}

	req = withRecordID(req)

	if req.DualRead {
		// a later success replaces an earlier emission. An error never replaces a success,
		// except a remote not found which means the local copy is gone as well.
		last := Result{Decision: DecisionDualRead, Err: ctx.Err()}
		first := true
		for res := range r.observe(ctx, req) {
			if first || res.Err == nil || last.Err != nil || remoteNotFound(res) {
				last = res
			}
			first = false
		}
		return last
	}

	if !remoteDirected(req) {
		return r.executeLocal(req)
	}
	return r.executeRemote(ctx, req)
}

func remoteNotFound(res Result) bool {
	return res.Source == SourceRemote && store.CodeOf(res.Err) == store.RetCNotFound
}

// withRecordID copies the id of single record updates and patches into the record
func withRecordID(req Request) Request {
	if req.ID == "" || (req.Kind != KindUpdateOne && req.Kind != KindPatchOne) {
		return req
	}
	record := req.Payload.Record()
	if _, ok := record.ID(req.IDColumn); ok {
		return req
	}
	record = record.Clone()
	record[req.IDColumn] = req.ID
	req.Payload = store.Single(record)
	return req
}

// remoteDirected reports whether a request goes to the remote store
func remoteDirected(req Request) bool {
	return req.Kind.IsFile() || req.Routing == RoutingCloud || (req.Routing == RoutingAuto && req.URL != "")
}

// validate checks the request is complete for its kind
func validate(req Request) error {
	invalid := func(format string, args ...any) error {
		return store.Errorf(store.RetCInvalidOperation, "%s: %s", req.Kind, fmt.Sprintf(format, args...))
	}

	if req.Kind < KindGetOne || req.Kind > KindDownloadFile {
		return store.Errorf(store.RetCInvalidOperation, "unknown request kind %d", int(req.Kind))
	}
	if req.Collection == "" && req.Kind != KindDownloadFile {
		return invalid("collection must not be empty")
	}

	switch req.Kind {
	case KindGetOne:
		if req.ID == "" {
			return invalid("id must not be empty")
		}
	case KindCreateOne, KindUpdateOne, KindPatchOne:
		if req.Payload.Kind() != store.PayloadSingle || req.Payload.IsEmpty() {
			return invalid("expected a single record payload")
		}
		if req.Kind == KindPatchOne {
			if _, ok := req.Payload.Record().ID(req.IDColumn); !ok && req.ID == "" {
				return invalid("record has no %s", req.IDColumn)
			}
		}
	case KindCreateList, KindUpdateList:
		if req.Payload.Kind() != store.PayloadCollection {
			return invalid("expected a collection payload")
		}
	case KindDeleteByIds:
		if len(req.IDs) == 0 {
			return invalid("ids must not be empty")
		}
	case KindUploadFile:
		if req.File.Path == "" {
			return invalid("file path must not be empty")
		}
	case KindDownloadFile:
		if req.URL == "" || req.File.Dest == "" {
			return invalid("url and destination must not be empty")
		}
	}

	if req.DualRead && req.Kind != KindGetOne && req.Kind != KindGetList {
		return invalid("dual read is only supported for GetOne and GetList")
	}
	return nil
}

// count updates the request metrics
func (r *Router) count(req Request, res Result) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`okv_router_requests_total{kind=%q,decision=%q}`,
		req.Kind.String(), res.Decision.String())).Inc()
	if res.Err != nil {
		metrics.GetOrCreateCounter(fmt.Sprintf(`okv_router_errors_total{kind=%q,code=%q}`,
			req.Kind.String(), store.CodeOf(res.Err).String())).Inc()
	}
}

// --------------------------------------------------------------------------
// Entry points per kind
// --------------------------------------------------------------------------

// GetOne reads a single record.
func (r *Router) GetOne(ctx context.Context, collection, id string, opts Options) (Result, error) {
	return r.Execute(ctx, Request{Kind: KindGetOne, Collection: collection, ID: id, Options: opts})
}

// GetList reads all records of a collection.
func (r *Router) GetList(ctx context.Context, collection string, opts Options) (Result, error) {
	return r.Execute(ctx, Request{Kind: KindGetList, Collection: collection, Options: opts})
}

// GetByQuery reads the records matching query. Only the local store supports queries.
func (r *Router) GetByQuery(ctx context.Context, collection string, query store.Query, opts Options) (Result, error) {
	return r.Execute(ctx, Request{Kind: KindGetByQuery, Collection: collection, Query: query, Options: opts})
}

// CreateOne stores a new record.
func (r *Router) CreateOne(ctx context.Context, collection string, record store.Record, opts Options) (Result, error) {
	return r.Execute(ctx, Request{Kind: KindCreateOne, Collection: collection, Payload: store.Single(record), Options: opts})
}

// CreateList stores many new records.
func (r *Router) CreateList(ctx context.Context, collection string, records []store.Record, opts Options) (Result, error) {
	return r.Execute(ctx, Request{Kind: KindCreateList, Collection: collection, Payload: store.Collection(records), Options: opts})
}

// UpdateOne replaces the record with the given id. An empty id uses the id of the record.
func (r *Router) UpdateOne(ctx context.Context, collection, id string, record store.Record, opts Options) (Result, error) {
	return r.Execute(ctx, Request{Kind: KindUpdateOne, Collection: collection, ID: id, Payload: store.Single(record), Options: opts})
}

// UpdateList replaces many records.
func (r *Router) UpdateList(ctx context.Context, collection string, records []store.Record, opts Options) (Result, error) {
	return r.Execute(ctx, Request{Kind: KindUpdateList, Collection: collection, Payload: store.Collection(records), Options: opts})
}

// PatchOne merges the fields of record into the stored record with the same id.
func (r *Router) PatchOne(ctx context.Context, collection string, record store.Record, opts Options) (Result, error) {
	return r.Execute(ctx, Request{Kind: KindPatchOne, Collection: collection, Payload: store.Single(record), Options: opts})
}

// DeleteByIds deletes the records with the given ids.
func (r *Router) DeleteByIds(ctx context.Context, collection string, ids []string, opts Options) (Result, error) {
	return r.Execute(ctx, Request{Kind: KindDeleteByIds, Collection: collection, IDs: ids, Options: opts})
}

// DeleteAll deletes every record of a collection. Only the local store supports it.
func (r *Router) DeleteAll(ctx context.Context, collection string, opts Options) (Result, error) {
	return r.Execute(ctx, Request{Kind: KindDeleteAll, Collection: collection, Options: opts})
}

// UploadFile sends a file to the remote store. The resulting record is cached if opts.Persist is set.
func (r *Router) UploadFile(ctx context.Context, collection string, file FileSpec, opts Options) (Result, error) {
	return r.Execute(ctx, Request{Kind: KindUploadFile, Collection: collection, File: file, Options: opts})
}

// DownloadFile fetches the file at url into dest.
func (r *Router) DownloadFile(ctx context.Context, url, dest string, opts Options) (Result, error) {
	opts.URL = url
	return r.Execute(ctx, Request{Kind: KindDownloadFile, File: FileSpec{Dest: dest}, Options: opts})
}
