package server

import (
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/ValentinKolb/oKV/rpc/common"
	"github.com/ValentinKolb/oKV/rpc/serializer"
	"github.com/ValentinKolb/oKV/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *rpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &rpcServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		adapter:    NewRecordServerAdapter(),
		shards:     xsync.NewMapOf[uint64, *Shard](),
	}
}

type rpcServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	adapter    IRPCServerAdapter
	shards     *xsync.MapOf[uint64, *Shard]

	mu            sync.Mutex
	metricsServer *http.Server
}

// Serve opens the shards and blocks while the transport serves requests.
// It returns nil after Close.
func (s *rpcServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// Close stops the transport and the metrics endpoint and closes all shards
func (s *rpcServer) Close() error {
	var errs []error
	if err := s.transport.Close(); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	if s.metricsServer != nil {
		if err := s.metricsServer.Close(); err != nil {
			errs = append(errs, err)
		}
		s.metricsServer = nil
	}
	s.mu.Unlock()

	var shards []*Shard
	s.shards.Range(func(id uint64, shard *Shard) bool {
		shards = append(shards, shard)
		s.shards.Delete(id)
		return true
	})
	errs = append(errs, closeAll(shards))
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *rpcServer) init() error {
	if len(s.config.Shards) == 0 {
		return fmt.Errorf("no shards configured")
	}

	var opened []*Shard
	for _, shardConfig := range s.config.Shards {
		if _, exists := s.shards.Load(shardConfig.ShardID); exists {
			_ = closeAll(opened)
			return fmt.Errorf("shard %d configured twice", shardConfig.ShardID)
		}
		shard, err := openShard(s.config, shardConfig)
		if err != nil {
			_ = closeAll(opened)
			return err
		}
		opened = append(opened, shard)
		s.shards.Store(shardConfig.ShardID, shard)
		Logger.Infof("created %s store for shard %d", shardConfig.Type, shardConfig.ShardID)
	}

	if s.config.MetricsEndpoint != "" {
		s.startMetrics()
	}

	Logger.Infof("oKV setup completed successfully")

	s.registerTransportHandler()
	return nil
}

func (s *rpcServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		start := time.Now()
		var msg common.Message
		var respMsg *common.Message

		shard, ok := s.shards.Load(shardId)
		if !ok {
			respMsg = common.NewErrorResponse(uint64(store.RetCInvalidOperation), fmt.Sprintf("shard %d not found", shardId))
		} else if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(uint64(store.RetCInvalidOperation), fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			respMsg = s.adapter.Handle(&msg, shard)
		}

		observeRequest(msg.MsgType, respMsg, start)

		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize %s response: %v", msg.MsgType, err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(
				uint64(store.RetCInternalError), fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val
	})
}

// startMetrics serves the prometheus metrics at /metrics of the metrics endpoint
func (s *rpcServer) startMetrics() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	srv := &http.Server{Addr: s.config.MetricsEndpoint, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.metricsServer = srv
	s.mu.Unlock()

	go func() {
		Logger.Infof("Serving metrics on %s/metrics", s.config.MetricsEndpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()
}

// observeRequest records the request count, errors and latency per message type
func observeRequest(t common.MessageType, resp *common.Message, start time.Time) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`okv_rpc_requests_total{type=%q}`, t)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`okv_rpc_request_duration_seconds{type=%q}`, t)).UpdateDuration(start)
	if resp.MsgType == common.MsgTError {
		metrics.GetOrCreateCounter(fmt.Sprintf(`okv_rpc_errors_total{type=%q,code=%q}`,
			t, store.RetCode(resp.Code))).Inc()
	}
}
