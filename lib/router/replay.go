package router

import (
	"context"
	"encoding/json"

	"github.com/ValentinKolb/oKV/lib/queue"
	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/google/uuid"
)

// downloadCollection groups queued downloads, which have no collection of their own
const downloadCollection = "_downloads"

// queuedRequest is the part of a Request stored in queue.Operation.Payload
type queuedRequest struct {
	ID      string        `json:"id,omitempty"`
	IDs     []string      `json:"ids,omitempty"`
	Payload store.Payload `json:"payload"`
	File    FileSpec      `json:"file"`
}

// withClientIDs gives every record of a create request an id, so a replay
// after a lost acknowledgement overwrites instead of duplicating
func withClientIDs(req Request) Request {
	records := req.Payload.Records()
	if len(records) == 0 {
		return req
	}
	out := make([]store.Record, len(records))
	for i, rec := range records {
		if _, ok := rec.ID(req.IDColumn); ok {
			out[i] = rec
			continue
		}
		c := rec.Clone()
		c[req.IDColumn] = uuid.NewString()
		out[i] = c
	}
	if req.Payload.Kind() == store.PayloadSingle {
		req.Payload = store.Single(out[0])
	} else {
		req.Payload = store.Collection(out)
	}
	return req
}

// enqueue defers a write. With Persist the write is applied to the local store right away.
func (r *Router) enqueue(ctx context.Context, req Request) Result {
	res := Result{Decision: DecisionQueued, Source: SourceQueue}

	body, err := json.Marshal(queuedRequest{ID: req.ID, IDs: req.IDs, Payload: req.Payload, File: req.File})
	if err != nil {
		res.Err = store.Errorf(store.RetCInternalError, "failed to encode queued request: %v", err)
		return res
	}

	op := &queue.Operation{
		Kind:       req.Kind.String(),
		Collection: queueCollection(req),
		IDColumn:   req.IDColumn,
		URL:        req.URL,
		Payload:    body,
		Persist:    req.Persist,
		Conditions: req.Conditions,
	}
	if err := r.queue.Enqueue(ctx, op); err != nil {
		res.Err = err
		return res
	}

	if req.Persist && r.local != nil && !req.Kind.IsFile() {
		r.persistBestEffort(req, req.Payload)
	}

	Logger.Debugf("%s on %s queued as %s", req.Kind, req.Collection, op.ID)
	res.Queued = true
	res.OperationID = op.ID
	res.Payload = req.Payload
	return res
}

// queueCollection is the queue collection a request is ordered in
func queueCollection(req Request) string {
	if req.Collection == "" {
		return downloadCollection
	}
	return req.Collection
}

// deliverPending drains the queued operations of the request's collection and
// reports whether some of them are still pending afterwards
func (r *Router) deliverPending(ctx context.Context, req Request) bool {
	collection := queueCollection(req)
	pending, err := r.queue.HasPending(ctx, collection)
	if err != nil {
		Logger.Warningf("%s on %s: failed to check the queue: %v", req.Kind, req.Collection, err)
		return true
	}
	if !pending {
		return false
	}

	if _, err := r.queue.DrainCollection(ctx, r.oracle, r, collection); err != nil {
		Logger.Debugf("%s on %s: draining earlier writes: %v", req.Kind, req.Collection, err)
	}
	pending, err = r.queue.HasPending(ctx, collection)
	return err != nil || pending
}

// requestOf rebuilds the request of a queued operation
func requestOf(op queue.Operation) (Request, error) {
	kind, err := ParseKind(op.Kind)
	if err != nil {
		return Request{}, store.Errorf(store.RetCDecode, "queued operation %s: %v", op.ID, err)
	}
	var q queuedRequest
	if err := json.Unmarshal(op.Payload, &q); err != nil {
		return Request{}, store.Errorf(store.RetCDecode, "queued operation %s: %v", op.ID, err)
	}
	collection := op.Collection
	if kind == KindDownloadFile {
		collection = ""
	}
	return Request{
		Kind:       kind,
		Collection: collection,
		ID:         q.ID,
		IDs:        q.IDs,
		Payload:    q.Payload,
		File:       q.File,
		Options: Options{
			Routing:    RoutingCloud,
			URL:        op.URL,
			IDColumn:   op.IDColumn,
			Persist:    op.Persist,
			Conditions: op.Conditions,
		},
	}, nil
}

// Replay sends a queued operation to the remote store through the same path as a live
// request, without retries and without queueing it again. It implements queue.Replayer.
func (r *Router) Replay(ctx context.Context, op queue.Operation) error {
	req, err := requestOf(op)
	if err != nil {
		return err
	}
	if r.remote == nil {
		return store.NewError(store.RetCConnectivity, "no remote store configured")
	}

	payload, err := r.callRemote(ctx, req)
	if err != nil {
		return err
	}
	if req.Persist {
		r.persistBestEffort(req, cachePayload(req, payload))
	}
	Logger.Debugf("replayed %s %s on %s", req.Kind, op.ID, req.Collection)
	return nil
}
