package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/ValentinKolb/oKV/rpc/common"
	"github.com/ValentinKolb/oKV/rpc/serializer"
	"github.com/ValentinKolb/oKV/rpc/transport"
)

// NewRPCStore creates a new RPC store
// The function takes a shard ID, a config, a transport and a serializer as parameters.
// Transports connect lazily, so the store can be created while the service is unreachable.
func NewRPCStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IRemoteStore, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcStore{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (s *rpcStore) Get(ctx context.Context, collection, id string) (store.Record, error) {
	resp, err := s.invokeRPCRequest(ctx, common.NewGetRequest(collection, id))
	if err != nil {
		return nil, err
	}
	return decodeSingle(resp)
}

func (s *rpcStore) GetList(ctx context.Context, collection string) ([]store.Record, error) {
	resp, err := s.invokeRPCRequest(ctx, common.NewListRequest(collection))
	if err != nil {
		return nil, err
	}
	p, err := decodePayload(resp)
	if err != nil {
		return nil, err
	}
	records := p.Records()
	if records == nil {
		records = []store.Record{}
	}
	return records, nil
}

func (s *rpcStore) Create(ctx context.Context, collection, idColumn string, payload store.Payload) (store.Payload, error) {
	return s.write(ctx, common.NewCreateRequest, collection, idColumn, payload)
}

func (s *rpcStore) Update(ctx context.Context, collection, idColumn string, payload store.Payload) (store.Payload, error) {
	return s.write(ctx, common.NewUpdateRequest, collection, idColumn, payload)
}

func (s *rpcStore) Patch(ctx context.Context, collection, idColumn string, record store.Record) (store.Record, error) {
	value, err := encodePayload(store.Single(record))
	if err != nil {
		return nil, err
	}
	resp, err := s.invokeRPCRequest(ctx, common.NewPatchRequest(collection, idColumn, value))
	if err != nil {
		return nil, err
	}
	return decodeSingle(resp)
}

func (s *rpcStore) Delete(ctx context.Context, collection string, ids []string) error {
	_, err := s.invokeRPCRequest(ctx, common.NewDeleteRequest(collection, ids))
	return err
}

func (s *rpcStore) Upload(ctx context.Context, collection string, file store.Upload) (store.Record, error) {
	content, err := os.ReadFile(file.Path)
	if err != nil {
		return nil, store.Errorf(store.RetCClient, "failed to read upload %s: %v", file.Path, err)
	}

	fields := make(map[string]string, len(file.Fields)+1)
	for k, v := range file.Fields {
		fields[k] = v
	}
	if file.Key != "" {
		fields["key"] = file.Key
	}
	value, err := json.Marshal(fields)
	if err != nil {
		return nil, store.Errorf(store.RetCClient, "failed to encode upload fields: %v", err)
	}

	req := common.NewUploadRequest(collection, filepath.Base(file.Path), value, content)
	resp, err := s.invokeRPCRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return decodeSingle(resp)
}

func (s *rpcStore) Download(ctx context.Context, url, destFile string) error {
	req := common.NewDownloadRequest(url)
	resp, err := s.invokeRPCRequest(ctx, req)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(destFile, resp.File); err != nil {
		return store.Errorf(store.RetCClient, "failed to write %s: %v", destFile, err)
	}
	Logger.Debugf("%s: wrote %d bytes to %s", describe(req), len(resp.File), destFile)
	return nil
}

func (s *rpcStore) Ping(ctx context.Context) error {
	_, err := s.invokeRPCRequest(ctx, common.NewPingRequest())
	return err
}

func (s *rpcStore) Close() error {
	return s.transport.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// write sends a create or update request and decodes the stored payload
func (s *rpcStore) write(
	ctx context.Context,
	newRequest func(collection, idColumn string, value []byte) *common.Message,
	collection, idColumn string,
	payload store.Payload,
) (store.Payload, error) {
	value, err := encodePayload(payload)
	if err != nil {
		return store.Payload{}, err
	}
	resp, err := s.invokeRPCRequest(ctx, newRequest(collection, idColumn, value))
	if err != nil {
		return store.Payload{}, err
	}
	return decodePayload(resp)
}

// writeFileAtomic writes data to a temporary file next to path and renames it into place
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
