package router

import (
	"context"

	"github.com/ValentinKolb/oKV/lib/store"
)

// Observe runs an offline-first dual read of a GetOne or GetList request.
//
// The local and the remote read run concurrently. The local result is emitted as soon as it
// is available, unless it is empty or the remote read already succeeded or reported the record
// missing, which also evicts the local copy. A successful remote
// result first overwrites the local copy (a list replaces the whole collection) and is then
// emitted. Failures of either branch are emitted as results with Err set and do not affect
// the other branch. The channel is closed when both branches are done or ctx is cancelled.
func (r *Router) Observe(ctx context.Context, req Request) <-chan Result {
	if req.IDColumn == "" {
		req.IDColumn = r.conf.DefaultIDColumn
	}
	req.DualRead = true
	if err := validate(req); err != nil {
		out := make(chan Result, 1)
		out <- Result{Decision: DecisionDualRead, Err: err}
		close(out)
		return out
	}
	return r.observe(ctx, req)
}

func (r *Router) observe(ctx context.Context, req Request) <-chan Result {
	out := make(chan Result, 2)

	localCh := make(chan Result, 1)
	remoteCh := make(chan Result, 1)

	go func() {
		payload, err := r.readLocal(req)
		localCh <- Result{Payload: payload, Source: SourceLocal, Decision: DecisionDualRead, Err: err}
	}()

	go func() {
		res := Result{Source: SourceRemote, Decision: DecisionDualRead}
		switch {
		case r.remote == nil:
			res.Err = store.NewError(store.RetCConnectivity, "no remote store configured")
		case !r.oracle.IsOnline():
			res.Err = store.Errorf(store.RetCConnectivity, "%s on %s: offline", req.Kind, req.Collection)
		default:
			res.Payload, res.Err = r.callWithRetry(ctx, req)
		}
		remoteCh <- res
	}()

	go func() {
		defer close(out)

		emit := func(res Result) bool {
			select {
			case out <- res:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// set once the remote result makes the local one obsolete
		superseded := false
		for pending := 2; pending > 0; pending-- {
			select {
			case <-ctx.Done():
				return

			case res := <-localCh:
				switch {
				case superseded:
				case res.Err != nil:
					if !emit(res) {
						return
					}
				case !res.Payload.IsEmpty():
					if !emit(res) {
						return
					}
				}

			case res := <-remoteCh:
				if res.Err == nil {
					superseded = true
					r.reconcile(req, res.Payload)
				} else if req.Kind == KindGetOne && store.CodeOf(res.Err) == store.RetCNotFound && r.local != nil {
					// the record is gone remotely
					superseded = true
					if _, err := r.local.DeleteByID(req.Collection, req.ID); err != nil {
						Logger.Warningf("failed to evict %s/%s: %v", req.Collection, req.ID, err)
					}
				}
				if !emit(res) {
					return
				}
			}
		}
	}()

	return out
}

// reconcile overwrites the local copy with the remote result
func (r *Router) reconcile(req Request, payload store.Payload) {
	if r.local == nil {
		return
	}
	if err := r.cacheRead(req, payload); err != nil {
		Logger.Warningf("%s on %s: failed to reconcile local copy: %v", req.Kind, req.Collection, err)
	}
}
