package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/ValentinKolb/oKV/rpc/common"
)

const defaultIDColumn = "id"

func NewRecordServerAdapter() IRPCServerAdapter {
	return &recordServerAdapterImpl{}
}

// recordServerAdapterImpl serves record and file requests from the store and blobs of a shard.
// Writes are upserts keyed by the id column, so replaying a request has no further effect.
type recordServerAdapterImpl struct{}

func (adapter *recordServerAdapterImpl) Handle(req *common.Message, shard *Shard) *common.Message {
	if shard == nil || shard.Store == nil {
		return errorResponse(store.NewError(store.RetCInternalError, "handler: store is nil"))
	}

	var (
		resp *common.Message
		err  error
	)

	switch req.MsgType {
	case common.MsgTPing:
		resp = &common.Message{MsgType: common.MsgTPing}
	case common.MsgTGet:
		resp, err = adapter.get(req, shard)
	case common.MsgTList:
		resp, err = adapter.list(req, shard)
	case common.MsgTCreate:
		resp, err = adapter.write(req, shard, false)
	case common.MsgTUpdate:
		resp, err = adapter.write(req, shard, true)
	case common.MsgTPatch:
		resp, err = adapter.patch(req, shard)
	case common.MsgTDelete:
		resp, err = adapter.delete(req, shard)
	case common.MsgTUpload:
		resp, err = adapter.upload(req, shard)
	case common.MsgTDownload:
		resp, err = adapter.download(req, shard)
	default:
		err = store.Errorf(store.RetCUnsupportedOperation, "unsupported message type: %s", req.MsgType)
	}

	if err != nil {
		return errorResponse(err)
	}
	return resp
}

// --------------------------------------------------------------------------
// Record operations
// --------------------------------------------------------------------------

func (adapter *recordServerAdapterImpl) get(req *common.Message, shard *Shard) (*common.Message, error) {
	if err := requireCollection(req); err != nil {
		return nil, err
	}
	record, ok, err := shard.Store.Get(req.Collection, req.Key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.Errorf(store.RetCNotFound, "%s/%s not found", req.Collection, req.Key)
	}
	return payloadResponse(req.MsgType, store.Single(record))
}

func (adapter *recordServerAdapterImpl) list(req *common.Message, shard *Shard) (*common.Message, error) {
	if err := requireCollection(req); err != nil {
		return nil, err
	}
	records, err := shard.Store.GetAll(req.Collection)
	if err != nil {
		return nil, err
	}
	return payloadResponse(req.MsgType, store.Collection(records))
}

// write handles create and update. An update requires every record to carry an id.
func (adapter *recordServerAdapterImpl) write(req *common.Message, shard *Shard, update bool) (*common.Message, error) {
	if err := requireCollection(req); err != nil {
		return nil, err
	}
	idColumn := idColumnOf(req)

	payload, err := decodePayload(req)
	if err != nil {
		return nil, err
	}
	records := payload.Records()
	if len(records) == 0 {
		return nil, store.Errorf(store.RetCInvalidOperation, "%s %s: no records", req.MsgType, req.Collection)
	}
	if update {
		for i, r := range records {
			if _, ok := r.ID(idColumn); !ok {
				return nil, store.Errorf(store.RetCInvalidOperation, "update %s: record %d has no %s", req.Collection, i, idColumn)
			}
		}
	}

	stored, err := shard.Store.PutAll(req.Collection, idColumn, records)
	if err != nil {
		return nil, err
	}
	if payload.Kind() == store.PayloadSingle {
		return payloadResponse(req.MsgType, store.Single(stored[0]))
	}
	return payloadResponse(req.MsgType, store.Collection(stored))
}

// patch merges into an existing record, a missing record is NotFound
func (adapter *recordServerAdapterImpl) patch(req *common.Message, shard *Shard) (*common.Message, error) {
	if err := requireCollection(req); err != nil {
		return nil, err
	}
	idColumn := idColumnOf(req)

	payload, err := decodePayload(req)
	if err != nil {
		return nil, err
	}
	record := payload.Record()
	if record == nil {
		return nil, store.Errorf(store.RetCInvalidOperation, "patch %s: expected a single record", req.Collection)
	}
	id, ok := record.ID(idColumn)
	if !ok {
		return nil, store.Errorf(store.RetCInvalidOperation, "patch %s: record has no %s", req.Collection, idColumn)
	}

	if _, exists, err := shard.Store.Get(req.Collection, id); err != nil {
		return nil, err
	} else if !exists {
		return nil, store.Errorf(store.RetCNotFound, "%s/%s not found", req.Collection, id)
	}

	stored, err := shard.Store.Patch(req.Collection, idColumn, record)
	if err != nil {
		return nil, err
	}
	return payloadResponse(req.MsgType, store.Single(stored))
}

// delete is idempotent, Ok tells whether at least one record existed
func (adapter *recordServerAdapterImpl) delete(req *common.Message, shard *Shard) (*common.Message, error) {
	if err := requireCollection(req); err != nil {
		return nil, err
	}
	deleted, err := shard.Store.DeleteByIDs(req.Collection, req.IDs)
	if err != nil {
		return nil, err
	}
	return &common.Message{MsgType: req.MsgType, Ok: deleted}, nil
}

// --------------------------------------------------------------------------
// File operations
// --------------------------------------------------------------------------

// upload stores the file and a record describing it in the collection
func (adapter *recordServerAdapterImpl) upload(req *common.Message, shard *Shard) (*common.Message, error) {
	if err := requireCollection(req); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, store.NewError(store.RetCInvalidOperation, "upload: missing file name")
	}

	fields := map[string]string{}
	if len(req.Value) > 0 {
		if err := json.Unmarshal(req.Value, &fields); err != nil {
			return nil, store.Errorf(store.RetCInvalidOperation, "upload: invalid fields: %v", err)
		}
	}

	url, err := shard.Blobs.Save(req.Collection, req.Key, req.File)
	if err != nil {
		return nil, err
	}

	record := store.Record{}
	for k, v := range fields {
		record[k] = v
	}
	record["name"] = req.Key
	record["url"] = url
	record["size"] = json.Number(fmt.Sprint(len(req.File)))

	stored, err := shard.Store.Put(req.Collection, defaultIDColumn, record)
	if err != nil {
		if rmErr := shard.Blobs.Remove(url); rmErr != nil {
			Logger.Warningf("failed to remove orphaned upload %s: %v", url, rmErr)
		}
		return nil, err
	}
	Logger.Debugf("stored upload %s (%d bytes)", url, len(req.File))
	return payloadResponse(req.MsgType, store.Single(stored))
}

func (adapter *recordServerAdapterImpl) download(req *common.Message, shard *Shard) (*common.Message, error) {
	data, err := shard.Blobs.Read(req.Key)
	if err != nil {
		return nil, err
	}
	return &common.Message{MsgType: req.MsgType, File: data}, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func requireCollection(req *common.Message) error {
	if req.Collection == "" {
		return store.Errorf(store.RetCInvalidOperation, "%s: missing collection", req.MsgType)
	}
	return nil
}

func idColumnOf(req *common.Message) string {
	if req.IDColumn == "" {
		return defaultIDColumn
	}
	return req.IDColumn
}

func decodePayload(req *common.Message) (store.Payload, error) {
	var p store.Payload
	if err := p.UnmarshalJSON(req.Value); err != nil {
		return p, store.Errorf(store.RetCInvalidOperation, "%s %s: invalid payload: %v", req.MsgType, req.Collection, err)
	}
	return p, nil
}

func payloadResponse(t common.MessageType, p store.Payload) (*common.Message, error) {
	value, err := p.MarshalJSON()
	if err != nil {
		return nil, store.Errorf(store.RetCInternalError, "failed to encode %s response: %v", t, err)
	}
	return common.NewResponse(t, value), nil
}

// errorResponse converts err into an error response carrying its return code
func errorResponse(err error) *common.Message {
	var e *store.Error
	if errors.As(err, &e) {
		return common.NewErrorResponse(uint64(e.Code), e.Msg)
	}
	return common.NewErrorResponse(uint64(store.RetCInternalError), err.Error())
}
