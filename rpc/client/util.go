package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/ValentinKolb/oKV/rpc/common"
	"github.com/ValentinKolb/oKV/rpc/serializer"
	"github.com/ValentinKolb/oKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invokeRPCRequest sends req and returns the response.
// Every returned error is a *store.Error:
//   - the request was not dispatched because ctx is done: RetCConnectivity
//   - the transport failed: RetCConnectivity if the service could not be reached,
//     RetCTimeout if no response arrived in time, RetCServer otherwise
//   - the response could not be decoded or has the wrong type: RetCDecode
//   - the service answered with an error: RetCNotFound, RetCClient or RetCServer
func (a *rpcClientAdapter) invokeRPCRequest(ctx context.Context, req *common.Message) (*common.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Errorf(store.RetCConnectivity, "%s %s not sent: %v", req.MsgType, req.Collection, err)
	}

	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, store.Errorf(store.RetCClient, "failed to serialize %s request: %v", req.MsgType, err)
	}

	respBytes, err := a.transport.Send(a.shardId, reqBytes)
	if err != nil {
		switch {
		case errors.Is(err, transport.ErrTimeout):
			return nil, store.NewError(store.RetCTimeout, err.Error())
		case errors.Is(err, transport.ErrUnreachable):
			return nil, store.NewError(store.RetCConnectivity, err.Error())
		}
		return nil, store.NewError(store.RetCServer, err.Error())
	}

	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, store.Errorf(store.RetCDecode, "failed to decode %s response: %v", req.MsgType, err)
	}

	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, store.NewError(classifyCode(store.RetCode(resp.Code)), resp.Err)
	}

	if resp.MsgType != req.MsgType {
		return nil, store.Errorf(store.RetCDecode, "unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	return resp, nil
}

// classifyCode maps the code of an error response to the classes of store.IRemoteStore
func classifyCode(code store.RetCode) store.RetCode {
	switch code {
	case store.RetCNotFound:
		return store.RetCNotFound
	case store.RetCInvalidOperation, store.RetCUnsupportedOperation, store.RetCClient:
		return store.RetCClient
	default:
		return store.RetCServer
	}
}

// decodePayload decodes the payload carried in the value of a response
func decodePayload(resp *common.Message) (store.Payload, error) {
	var p store.Payload
	if len(resp.Value) == 0 {
		return p, nil
	}
	if err := p.UnmarshalJSON(resp.Value); err != nil {
		return p, store.Errorf(store.RetCDecode, "failed to decode %s payload: %v", resp.MsgType, err)
	}
	return p, nil
}

// decodeSingle decodes a response payload that must hold exactly one record
func decodeSingle(resp *common.Message) (store.Record, error) {
	p, err := decodePayload(resp)
	if err != nil {
		return nil, err
	}
	if p.Kind() != store.PayloadSingle || p.Record() == nil {
		return nil, store.Errorf(store.RetCDecode, "expected a single record in %s response, got %s", resp.MsgType, p.Kind())
	}
	return p.Record(), nil
}

// encodePayload encodes p for the value of a request
func encodePayload(p store.Payload) ([]byte, error) {
	b, err := p.MarshalJSON()
	if err != nil {
		return nil, store.Errorf(store.RetCClient, "failed to encode payload: %v", err)
	}
	return b, nil
}

// describe is used in log lines
func describe(req *common.Message) string {
	if req.Key != "" {
		return fmt.Sprintf("%s %s/%s", req.MsgType, req.Collection, req.Key)
	}
	return fmt.Sprintf("%s %s", req.MsgType, req.Collection)
}
