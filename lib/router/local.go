package router

import (
	"github.com/ValentinKolb/oKV/lib/store"
)

// errNoLocalStore is returned for disk routes without a local store
var errNoLocalStore = store.NewError(store.RetCLocalStoreUnavailable, "database not enabled")

// executeLocal serves a disk directed request from the local store
func (r *Router) executeLocal(req Request) Result {
	res := Result{Decision: DecisionLocalOnly, Source: SourceLocal}
	if r.local == nil {
		res.Err = errNoLocalStore
		return res
	}

	if req.Kind.IsRead() {
		payload, err := r.readLocal(req)
		if err == nil && req.Kind == KindGetOne && payload.IsEmpty() {
			err = store.Errorf(store.RetCNotFound, "%s/%s not found", req.Collection, req.ID)
		}
		res.Payload, res.Err = payload, err
		return res
	}

	res.Payload, res.Err = r.writeLocal(req, req.Payload)
	return res
}

// readLocal reads from the local store. A missing record is an empty single payload.
func (r *Router) readLocal(req Request) (store.Payload, error) {
	if r.local == nil {
		return store.Payload{}, errNoLocalStore
	}
	switch req.Kind {
	case KindGetOne:
		record, found, err := r.local.Get(req.Collection, req.ID)
		if err != nil || !found {
			return store.Single(nil), err
		}
		return store.Single(record), nil
	case KindGetList:
		records, err := r.local.GetAll(req.Collection)
		return store.Collection(records), err
	case KindGetByQuery:
		records, err := r.local.GetByQuery(req.Collection, req.Query)
		return store.Collection(records), err
	default:
		return store.Payload{}, store.Errorf(store.RetCInvalidOperation, "%s is not a read", req.Kind)
	}
}

// writeLocal applies a write to the local store. payload replaces the request payload,
// which lets callers write the records returned by the remote store.
func (r *Router) writeLocal(req Request, payload store.Payload) (store.Payload, error) {
	if r.local == nil {
		return store.Payload{}, errNoLocalStore
	}
	switch req.Kind {
	case KindCreateOne, KindUpdateOne, KindUploadFile:
		if payload.IsEmpty() {
			return payload, nil
		}
		stored, err := r.local.Put(req.Collection, req.IDColumn, payload.Record())
		return store.Single(stored), err
	case KindCreateList, KindUpdateList:
		stored, err := r.local.PutAll(req.Collection, req.IDColumn, payload.Records())
		return store.Collection(stored), err
	case KindPatchOne:
		stored, err := r.local.Patch(req.Collection, req.IDColumn, payload.Record())
		return store.Single(stored), err
	case KindDeleteByIds:
		_, err := r.local.DeleteByIDs(req.Collection, req.IDs)
		return store.Payload{}, err
	case KindDeleteAll:
		_, err := r.local.DeleteAll(req.Collection)
		return store.Payload{}, err
	case KindDownloadFile:
		return store.Payload{}, nil
	default:
		return store.Payload{}, store.Errorf(store.RetCInvalidOperation, "%s is not a write", req.Kind)
	}
}

// cacheRead stores the result of a remote read. Lists replace the whole collection.
func (r *Router) cacheRead(req Request, payload store.Payload) error {
	if r.local == nil {
		return errNoLocalStore
	}
	switch req.Kind {
	case KindGetOne:
		if payload.IsEmpty() {
			return nil
		}
		_, err := r.local.Put(req.Collection, req.IDColumn, payload.Record())
		return err
	case KindGetList:
		return r.local.ReplaceAll(req.Collection, req.IDColumn, payload.Records())
	default:
		return nil
	}
}

// persistBestEffort writes the remote result locally. Failures are logged and never returned.
func (r *Router) persistBestEffort(req Request, payload store.Payload) {
	if r.local == nil {
		Logger.Warningf("%s on %s: persist requested but no local store configured", req.Kind, req.Collection)
		return
	}
	var err error
	if req.Kind.IsRead() {
		err = r.cacheRead(req, payload)
	} else {
		_, err = r.writeLocal(req, payload)
	}
	if err != nil {
		Logger.Warningf("%s on %s: failed to persist locally: %v", req.Kind, req.Collection,
			store.Errorf(store.RetCLocalPersistence, "%v", err))
	}
}
