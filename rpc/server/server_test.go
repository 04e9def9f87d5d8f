package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/ValentinKolb/oKV/rpc/client"
	"github.com/ValentinKolb/oKV/rpc/common"
	"github.com/ValentinKolb/oKV/rpc/serializer"
	"github.com/ValentinKolb/oKV/rpc/transport"
	"github.com/ValentinKolb/oKV/rpc/transport/http"
	"github.com/ValentinKolb/oKV/rpc/transport/tcp"
	"github.com/ValentinKolb/oKV/rpc/transport/unix"
)

// transportPair creates the server and client side of one transport
type transportPair struct {
	server   func() transport.IRPCServerTransport
	client   func() transport.IRPCClientTransport
	endpoint func(t *testing.T) string
}

var testTransports = map[string]transportPair{
	"TCP": {
		server:   tcp.NewTCPServerTransport,
		client:   tcp.NewTCPClientTransport,
		endpoint: freeAddr,
	},
	"Unix": {
		server: unix.NewUnixDefaultServerTransport,
		client: unix.NewUnixClientTransport,
		endpoint: func(t *testing.T) string {
			dir, err := os.MkdirTemp("", "okv")
			if err != nil {
				t.Fatalf("Failed to create socket dir: %v", err)
			}
			t.Cleanup(func() { _ = os.RemoveAll(dir) })
			return filepath.Join(dir, "s.sock")
		},
	},
	"HTTP": {
		server:   http.NewHttpServerTransport,
		client:   http.NewHttpClientTransport,
		endpoint: freeAddr,
	},
}

// freeAddr returns a local tcp address that was free a moment ago
func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

// startServer starts a server with one sqlite shard (1) and one memory shard (2)
// and returns a connected remote store for the given shard
func startServer(t *testing.T, pair transportPair, ser serializer.IRPCSerializer, shardID uint64) (store.IRemoteStore, string) {
	t.Helper()
	endpoint := pair.endpoint(t)

	config := common.ServerConfig{
		Shards: []common.ServerShard{
			{ShardID: 1, Type: common.ShardTypeSQLite},
			{ShardID: 2, Type: common.ShardTypeMemory},
		},
		DataDir:       t.TempDir(),
		TimeoutSecond: 5,
		LogLevel:      "error",
		Transport: common.ServerTransportConfig{
			Endpoint:       endpoint,
			WorkersPerConn: 4,
		},
	}
	srv := NewRPCServer(config, pair.server(), ser)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	t.Cleanup(func() {
		if err := srv.Close(); err != nil {
			t.Errorf("Failed to close server: %v", err)
		}
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("Serve did not return after Close")
		}
	})

	remote, err := client.NewRPCStore(shardID, common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{endpoint},
			RetryCount:             1,
			ConnectionsPerEndpoint: 2,
		},
	}, pair.client(), ser)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { _ = remote.Close() })

	// wait until the listener is up
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := remote.Ping(context.Background())
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Server did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	return remote, endpoint
}

func TestRemoteStore(t *testing.T) {
	for name, pair := range testTransports {
		for _, shardID := range []uint64{1, 2} {
			t.Run(fmt.Sprintf("%s/shard-%d", name, shardID), func(t *testing.T) {
				remote, _ := startServer(t, pair, serializer.NewBinarySerializer(), shardID)
				runRemoteStoreTests(t, remote)
			})
		}
	}
}

func TestRemoteStoreSerializers(t *testing.T) {
	serializers := map[string]func() serializer.IRPCSerializer{
		"JSON": serializer.NewJSONSerializer,
		"GOB":  serializer.NewGOBSerializer,
		"CBOR": serializer.NewCBORSerializer,
	}
	for name, factory := range serializers {
		t.Run(name, func(t *testing.T) {
			remote, _ := startServer(t, testTransports["TCP"], factory(), 2)
			runRemoteStoreTests(t, remote)
		})
	}
}

// runRemoteStoreTests exercises the remote store contract against a running server
func runRemoteStoreTests(t *testing.T, remote store.IRemoteStore) {
	ctx := context.Background()

	t.Run("CreateAssignsIDs", func(t *testing.T) {
		out, err := remote.Create(ctx, "todos", "id", store.Collection([]store.Record{
			{"title": "a"},
			{"title": "b"},
		}))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if out.Kind() != store.PayloadCollection {
			t.Errorf("Expected collection payload, got %s", out.Kind())
		}
		ids := out.IDs("id")
		if len(ids) != 2 || ids[0] == ids[1] {
			t.Errorf("Expected 2 distinct ids, got %v", ids)
		}
	})

	t.Run("CreateIsIdempotent", func(t *testing.T) {
		rec := store.Record{"uuid": "c-1", "title": "once"}
		for i := 0; i < 2; i++ {
			if _, err := remote.Create(ctx, "notes", "uuid", store.Single(rec)); err != nil {
				t.Fatalf("Create %d failed: %v", i, err)
			}
		}
		list, err := remote.GetList(ctx, "notes")
		if err != nil {
			t.Fatalf("GetList failed: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("Expected 1 record after replay, got %d", len(list))
		}
	})

	t.Run("GetAndNotFound", func(t *testing.T) {
		out, err := remote.Create(ctx, "users", "id", store.Single(store.Record{"id": 7, "name": "ann"}))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if out.Kind() != store.PayloadSingle {
			t.Errorf("Expected single payload, got %s", out.Kind())
		}

		rec, err := remote.Get(ctx, "users", "7")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if rec["name"] != "ann" {
			t.Errorf("Expected name ann, got %v", rec["name"])
		}

		_, err = remote.Get(ctx, "users", "404")
		if store.CodeOf(err) != store.RetCNotFound {
			t.Errorf("Expected NotFound, got %v", err)
		}
	})

	t.Run("UpdateAndPatch", func(t *testing.T) {
		if _, err := remote.Create(ctx, "items", "id", store.Single(store.Record{"id": 1, "a": 1, "b": 1})); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := remote.Update(ctx, "items", "id", store.Single(store.Record{"id": 1, "a": 2})); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		patched, err := remote.Patch(ctx, "items", "id", store.Record{"id": 1, "c": "x"})
		if err != nil {
			t.Fatalf("Patch failed: %v", err)
		}
		if _, ok := patched["b"]; ok {
			t.Errorf("Expected update to replace the record, b survived: %v", patched)
		}
		if patched["c"] != "x" || fmt.Sprint(patched["a"]) != "2" {
			t.Errorf("Expected merged record, got %v", patched)
		}

		_, err = remote.Update(ctx, "items", "id", store.Single(store.Record{"a": 3}))
		if store.CodeOf(err) != store.RetCClient {
			t.Errorf("Expected Client error for update without id, got %v", err)
		}
		_, err = remote.Patch(ctx, "items", "id", store.Record{"id": 99, "a": 1})
		if store.CodeOf(err) != store.RetCNotFound {
			t.Errorf("Expected NotFound for patch of missing record, got %v", err)
		}
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		if _, err := remote.Create(ctx, "tmp", "id", store.Collection([]store.Record{{"id": 1}, {"id": 2}})); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := remote.Delete(ctx, "tmp", []string{"1", "2"}); err != nil {
				t.Fatalf("Delete %d failed: %v", i, err)
			}
		}
		list, err := remote.GetList(ctx, "tmp")
		if err != nil {
			t.Fatalf("GetList failed: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("Expected empty collection, got %d records", len(list))
		}
	})

	t.Run("UploadAndDownload", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "report.txt")
		if err := os.WriteFile(src, []byte("hello okv"), 0o644); err != nil {
			t.Fatalf("Failed to write source file: %v", err)
		}

		rec, err := remote.Upload(ctx, "files", store.Upload{Path: src, Key: "doc", Fields: map[string]string{"owner": "bob"}})
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if rec["owner"] != "bob" || rec["name"] != "report.txt" || rec["key"] != "doc" {
			t.Errorf("Unexpected upload record: %v", rec)
		}
		url, _ := rec["url"].(string)
		if url == "" {
			t.Fatalf("Expected url in upload record, got %v", rec)
		}

		dest := filepath.Join(dir, "out", "copy.txt")
		if err := remote.Download(ctx, url, dest); err != nil {
			t.Fatalf("Download failed: %v", err)
		}
		data, err := os.ReadFile(dest)
		if err != nil || string(data) != "hello okv" {
			t.Errorf("Expected downloaded content, got %q (%v)", data, err)
		}

		err = remote.Download(ctx, "files/missing.txt", dest)
		if store.CodeOf(err) != store.RetCNotFound {
			t.Errorf("Expected NotFound for missing file, got %v", err)
		}
		err = remote.Download(ctx, "../../etc/passwd", dest)
		if !store.IsBusiness(err) {
			t.Errorf("Expected business error for escaping url, got %v", err)
		}
	})

	t.Run("UploadMissingFile", func(t *testing.T) {
		_, err := remote.Upload(ctx, "files", store.Upload{Path: filepath.Join(t.TempDir(), "nope")})
		if store.CodeOf(err) != store.RetCClient {
			t.Errorf("Expected Client error, got %v", err)
		}
	})

	t.Run("CancelledContextIsNotSent", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := remote.Create(cctx, "todos", "id", store.Single(store.Record{"title": "never"}))
		if !store.IsConnectivity(err) {
			t.Errorf("Expected connectivity error, got %v", err)
		}
	})
}

func TestUnreachableServer(t *testing.T) {
	for name, pair := range testTransports {
		t.Run(name, func(t *testing.T) {
			endpoint := pair.endpoint(t)
			remote, err := client.NewRPCStore(1, common.ClientConfig{
				TimeoutSecond: 1,
				Transport: common.ClientTransportConfig{
					Endpoints:  []string{endpoint},
					RetryCount: 2,
				},
			}, pair.client(), serializer.NewBinarySerializer())
			if err != nil {
				t.Fatalf("Expected lazy connect to succeed, got %v", err)
			}
			defer remote.Close()

			err = remote.Ping(context.Background())
			if !store.IsConnectivity(err) {
				t.Errorf("Expected connectivity error, got %v", err)
			}
		})
	}
}

// silentListener accepts connections and never answers
func silentListener(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	done := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		_ = l.Close()
	})
	go func() {
		var conns []net.Conn
		defer func() {
			for _, c := range conns {
				_ = c.Close()
			}
		}()
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
			select {
			case <-done:
				return
			default:
			}
		}
	}()
	return l.Addr().String()
}

func TestSilentServer(t *testing.T) {
	for _, name := range []string{"TCP", "HTTP"} {
		pair := testTransports[name]
		t.Run(name, func(t *testing.T) {
			remote, err := client.NewRPCStore(1, common.ClientConfig{
				TimeoutSecond: 1,
				Transport: common.ClientTransportConfig{
					Endpoints:  []string{silentListener(t)},
					RetryCount: 3,
				},
			}, pair.client(), serializer.NewBinarySerializer())
			if err != nil {
				t.Fatalf("Failed to create client: %v", err)
			}
			defer remote.Close()

			start := time.Now()
			_, err = remote.Create(context.Background(), "todos", "id", store.Single(store.Record{"id": "1"}))
			if store.CodeOf(err) != store.RetCTimeout {
				t.Fatalf("Expected Timeout error, got %v", err)
			}
			if store.IsConnectivity(err) {
				t.Errorf("Expected timeout not to be connectivity-class, got %v", err)
			}
			// no resend after a timeout
			if elapsed := time.Since(start); elapsed > 2500*time.Millisecond {
				t.Errorf("Expected a single attempt, took %s", elapsed)
			}
		})
	}
}

func TestUnknownShard(t *testing.T) {
	pair := testTransports["TCP"]
	_, endpoint := startServer(t, pair, serializer.NewBinarySerializer(), 1)

	other, err := client.NewRPCStore(42, common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{endpoint}},
	}, pair.client(), serializer.NewBinarySerializer())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer other.Close()

	_, err = other.GetList(context.Background(), "todos")
	if store.CodeOf(err) != store.RetCClient {
		t.Errorf("Expected Client error for unknown shard, got %v", err)
	}
}

func TestClientWithoutEndpoints(t *testing.T) {
	_, err := client.NewRPCStore(1, common.ClientConfig{}, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	if err == nil {
		t.Errorf("Expected error for a client without endpoints")
	}
}

func TestAdapter(t *testing.T) {
	dir := t.TempDir()
	shard, err := openShard(common.ServerConfig{DataDir: dir}, common.ServerShard{ShardID: 3, Type: common.ShardTypeSQLite})
	if err != nil {
		t.Fatalf("Failed to open shard: %v", err)
	}
	defer shard.Close()
	adapter := NewRecordServerAdapter()

	t.Run("UnsupportedType", func(t *testing.T) {
		resp := adapter.Handle(&common.Message{MsgType: common.MsgTSuccess}, shard)
		if resp.MsgType != common.MsgTError || store.RetCode(resp.Code) != store.RetCUnsupportedOperation {
			t.Errorf("Expected UnsupportedOperation error, got %+v", resp)
		}
	})

	t.Run("MissingCollection", func(t *testing.T) {
		resp := adapter.Handle(common.NewListRequest(""), shard)
		if store.RetCode(resp.Code) != store.RetCInvalidOperation {
			t.Errorf("Expected InvalidOperation, got %+v", resp)
		}
	})

	t.Run("InvalidPayload", func(t *testing.T) {
		resp := adapter.Handle(common.NewCreateRequest("todos", "id", []byte("not json")), shard)
		if store.RetCode(resp.Code) != store.RetCInvalidOperation {
			t.Errorf("Expected InvalidOperation, got %+v", resp)
		}
	})

	t.Run("DeleteReportsExistence", func(t *testing.T) {
		value, _ := store.Single(store.Record{"id": 5}).MarshalJSON()
		if resp := adapter.Handle(common.NewCreateRequest("todos", "id", value), shard); resp.MsgType != common.MsgTCreate {
			t.Fatalf("Create failed: %+v", resp)
		}
		if resp := adapter.Handle(common.NewDeleteRequest("todos", []string{"5"}), shard); !resp.Ok {
			t.Errorf("Expected Ok for existing record")
		}
		if resp := adapter.Handle(common.NewDeleteRequest("todos", []string{"5"}), shard); resp.Ok || resp.MsgType != common.MsgTDelete {
			t.Errorf("Expected successful delete without Ok, got %+v", resp)
		}
	})

	t.Run("SQLiteFileCreated", func(t *testing.T) {
		if _, err := os.Stat(filepath.Join(dir, "shard-3.db")); err != nil {
			t.Errorf("Expected shard file: %v", err)
		}
	})
}

func TestBlobStore(t *testing.T) {
	blobs, err := NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create blob store: %v", err)
	}

	url, err := blobs.Save("photos", "Cat.JPG", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if filepath.Ext(url) != ".jpg" {
		t.Errorf("Expected .jpg extension, got %s", url)
	}

	data, err := blobs.Read(url)
	if err != nil || len(data) != 3 {
		t.Errorf("Expected 3 bytes, got %v (%v)", data, err)
	}

	if err := blobs.Remove(url); err != nil {
		t.Errorf("Remove failed: %v", err)
	}
	if _, err := blobs.Read(url); store.CodeOf(err) != store.RetCNotFound {
		t.Errorf("Expected NotFound after remove, got %v", err)
	}

	for _, bad := range []string{"", "photos", "../x/y", "a/b/c"} {
		if _, err := blobs.Read(bad); store.CodeOf(err) != store.RetCInvalidOperation && store.CodeOf(err) != store.RetCNotFound {
			t.Errorf("Expected rejection of %q, got %v", bad, err)
		}
	}
	if _, err := blobs.Save("..", "x", nil); store.CodeOf(err) != store.RetCInvalidOperation {
		t.Errorf("Expected InvalidOperation for collection .., got %v", err)
	}
}
