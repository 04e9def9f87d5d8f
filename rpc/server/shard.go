package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/ValentinKolb/oKV/lib/store/lstore"
	"github.com/ValentinKolb/oKV/lib/store/sqlstore"
	"github.com/ValentinKolb/oKV/rpc/common"
)

// Shard is one independent dataset served by the rpc server
type Shard struct {
	ID    uint64
	Store store.ILocalStore
	Blobs *BlobStore
}

// openShard creates the store and blob directory of a shard.
// sqlite shards live in <data-dir>/shard-<id>.db, blobs in <data-dir>/blobs/<id>.
// Memory shards without a data directory keep their blobs in a temporary directory.
func openShard(config common.ServerConfig, conf common.ServerShard) (*Shard, error) {
	var (
		records store.ILocalStore
		err     error
	)

	switch conf.Type {
	case common.ShardTypeSQLite:
		if config.DataDir == "" {
			return nil, fmt.Errorf("shard %d: sqlite shards need a data directory", conf.ShardID)
		}
		records, err = sqlstore.Open(filepath.Join(config.DataDir, fmt.Sprintf("shard-%d.db", conf.ShardID)))
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", conf.ShardID, err)
		}
	case common.ShardTypeMemory:
		records = lstore.NewLocalStore(nil)
	default:
		return nil, fmt.Errorf("shard %d: invalid shard type: %s", conf.ShardID, conf.Type)
	}

	blobDir := filepath.Join(config.DataDir, "blobs", fmt.Sprint(conf.ShardID))
	if config.DataDir == "" {
		blobDir, err = os.MkdirTemp("", fmt.Sprintf("okv-blobs-%d-*", conf.ShardID))
		if err != nil {
			_ = records.Close()
			return nil, err
		}
		Logger.Warningf("shard %d keeps uploaded files in %s", conf.ShardID, blobDir)
	}
	blobs, err := NewBlobStore(blobDir)
	if err != nil {
		_ = records.Close()
		return nil, err
	}

	return &Shard{ID: conf.ShardID, Store: records, Blobs: blobs}, nil
}

// Close closes the store of the shard
func (s *Shard) Close() error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Close()
}

// closeAll closes every shard and joins the errors
func closeAll(shards []*Shard) error {
	var errs []error
	for _, s := range shards {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", s.ID, err))
		}
	}
	return errors.Join(errs...)
}
