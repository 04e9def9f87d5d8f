package router

import (
	"context"
	"time"

	"github.com/ValentinKolb/oKV/lib/connectivity"
	"github.com/ValentinKolb/oKV/lib/store"
)

// executeRemote runs the decision protocol for a remote directed request
func (r *Router) executeRemote(ctx context.Context, req Request) Result {
	if err := remoteSupported(req.Kind); err != nil {
		return Result{Decision: DecisionRemoteOnly, Source: SourceRemote, Err: err}
	}
	if r.remote == nil {
		return Result{Decision: DecisionRemoteOnly, Source: SourceRemote,
			Err: store.NewError(store.RetCConnectivity, "no remote store configured")}
	}

	write := req.Kind.IsWrite()
	// file transfers with conditions are deferred even without the queueable flag
	deferrable := write && r.queue != nil && (req.Queueable || (req.Kind.IsFile() && !req.Conditions.IsZero()))
	if deferrable && req.Kind.IsCreate() {
		req = withClientIDs(req)
	}

	// deferred: offline or the transfer conditions are not met
	if deferrable && !connectivity.Ready(r.oracle, req.Conditions) {
		return r.enqueue(ctx, req)
	}

	if !r.oracle.IsOnline() {
		if write {
			return Result{Decision: DecisionRemoteOnly, Source: SourceRemote,
				Err: store.Errorf(store.RetCNoNetworkNotPersisted, "%s on %s: no network and request is not queueable", req.Kind, req.Collection)}
		}
		if req.PreferDisk && r.local != nil {
			return r.fallbackLocal(req)
		}
		return Result{Decision: DecisionRemoteOnly, Source: SourceRemote,
			Err: store.Errorf(store.RetCConnectivity, "%s on %s: offline", req.Kind, req.Collection)}
	}

	// writes queued earlier for the collection go first
	if write && r.queue != nil && r.deliverPending(ctx, req) && deferrable {
		Logger.Infof("%s on %s: earlier writes still pending, queueing behind them", req.Kind, req.Collection)
		return r.enqueue(ctx, req)
	}

	// a fresh cached record answers without a round trip
	if req.Kind == KindGetOne && req.Persist && r.local != nil && r.conf.CacheTTL > 0 {
		if valid, err := r.local.IsCacheValid(req.Collection, req.ID, r.conf.CacheTTL); err == nil && valid {
			if record, found, err := r.local.Get(req.Collection, req.ID); err == nil && found {
				return Result{Payload: store.Single(record), Decision: DecisionLocalOnly, Source: SourceLocal}
			}
		}
	}

	payload, err := r.callWithRetry(ctx, req)
	if err != nil {
		switch {
		case deferrable && store.IsConnectivity(err):
			Logger.Infof("%s on %s: remote unreachable, queueing: %v", req.Kind, req.Collection, err)
			return r.enqueue(ctx, req)
		case !write && req.PreferDisk && r.local != nil && store.IsConnectivity(err):
			return r.fallbackLocal(req)
		default:
			return Result{Decision: DecisionRemoteOnly, Source: SourceRemote, Err: err}
		}
	}

	res := Result{Payload: payload, Decision: DecisionRemoteOnly, Source: SourceRemote}
	if req.Persist {
		res.Decision = DecisionRemoteThenCacheLocally
		r.persistBestEffort(req, cachePayload(req, payload))
	}
	return res
}

// remoteSupported rejects the kinds the remote store cannot serve
func remoteSupported(k Kind) error {
	switch k {
	case KindGetByQuery, KindDeleteAll:
		return store.Errorf(store.RetCUnsupportedOperation, "%s is not supported by the remote store", k)
	default:
		return nil
	}
}

// fallbackLocal answers a remote read from the local store
func (r *Router) fallbackLocal(req Request) Result {
	Logger.Debugf("%s on %s: offline, reading from local store", req.Kind, req.Collection)
	payload, err := r.readLocal(req)
	return Result{Payload: payload, Decision: DecisionLocalOnly, Source: SourceLocal, Err: err}
}

// cachePayload selects the records to persist after a remote write.
// Remote stores may answer writes without a body, then the request payload is used.
func cachePayload(req Request, remote store.Payload) store.Payload {
	if remote.IsEmpty() && req.Kind.IsWrite() {
		return req.Payload
	}
	return remote
}

// callWithRetry calls the remote store. Connectivity failures are retried with a linear
// backoff as long as the link quality is at least moderate.
func (r *Router) callWithRetry(ctx context.Context, req Request) (store.Payload, error) {
	for attempt := 0; ; attempt++ {
		payload, err := r.callRemote(ctx, req)
		if err == nil || !store.IsConnectivity(err) {
			return payload, err
		}
		if attempt >= r.conf.MaxRetries || r.oracle.Quality() < connectivity.QualityModerate {
			return payload, err
		}

		delay := time.Duration(attempt+1) * r.conf.RetryDelay
		Logger.Debugf("%s on %s: retry %d in %s: %v", req.Kind, req.Collection, attempt+1, delay, err)
		select {
		case <-ctx.Done():
			return payload, err
		case <-time.After(delay):
		}
	}
}

// callRemote performs one call against the remote store
func (r *Router) callRemote(ctx context.Context, req Request) (store.Payload, error) {
	if err := ctx.Err(); err != nil {
		return store.Payload{}, err
	}

	switch req.Kind {
	case KindGetOne:
		record, err := r.remote.Get(ctx, req.Collection, req.ID)
		if err != nil {
			return store.Payload{}, err
		}
		return store.Single(record), nil
	case KindGetList:
		records, err := r.remote.GetList(ctx, req.Collection)
		if err != nil {
			return store.Payload{}, err
		}
		return store.Collection(records), nil
	case KindCreateOne, KindCreateList:
		return r.remote.Create(ctx, req.Collection, req.IDColumn, req.Payload)
	case KindUpdateOne, KindUpdateList:
		return r.remote.Update(ctx, req.Collection, req.IDColumn, req.Payload)
	case KindPatchOne:
		record, err := r.remote.Patch(ctx, req.Collection, req.IDColumn, req.Payload.Record())
		if err != nil {
			return store.Payload{}, err
		}
		return store.Single(record), nil
	case KindDeleteByIds:
		return store.Payload{}, r.remote.Delete(ctx, req.Collection, req.IDs)
	case KindUploadFile:
		record, err := r.remote.Upload(ctx, req.Collection, store.Upload{
			Path:   req.File.Path,
			Key:    req.File.Key,
			Fields: req.File.Fields,
		})
		if err != nil {
			return store.Payload{}, err
		}
		return store.Single(record), nil
	case KindDownloadFile:
		return store.Payload{}, r.remote.Download(ctx, req.URL, req.File.Dest)
	default:
		return store.Payload{}, remoteSupported(req.Kind)
	}
}
