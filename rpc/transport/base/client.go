package base

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/oKV/rpc/common"
	"github.com/ValentinKolb/oKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect dials a single connection to endpoint
	Connect(endpoint string, timeout time.Duration) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// link is one dialed connection together with the requests waiting on it
type link struct {
	conn    net.Conn
	pending *xsync.MapOf[uint64, chan responseResult]
}

// clientConnection is a slot of the pool. It dials on demand and redials after a failure.
type clientConnection struct {
	endpoint string
	parent   *clientTransport
	mu       sync.Mutex // protects link and writes to it
	link     *link
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	connections   []*clientConnection
	connectionsMu sync.RWMutex
	nextConnIndex uint64 // Atomic counter for Round Robin
	nextRequestID uint64 // Atomic counter for unique request IDs
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector: connector,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	// Close all existing connections
	t.closeConnections()

	connectionsPerEP := max(1, config.Transport.ConnectionsPerEndpoint)

	t.connectionsMu.Lock()
	defer t.connectionsMu.Unlock()

	t.config = config
	t.connections = make([]*clientConnection, 0, len(config.Transport.Endpoints)*connectionsPerEP)
	for _, endpoint := range config.Transport.Endpoints {
		for i := 0; i < connectionsPerEP; i++ {
			t.connections = append(t.connections, &clientConnection{
				endpoint: endpoint,
				parent:   t,
			})
		}
	}

	Logger.Infof("Prepared %d connections to %d endpoints using %s transport",
		len(t.connections), len(config.Transport.Endpoints), t.connector.GetName())
	return nil
}

func (t *clientTransport) Send(shardId uint64, req []byte) (resp []byte, err error) {
	// We always try at least once
	attempts := max(1, t.config.Transport.RetryCount)

	// Initial backoff duration in milliseconds
	backoffMs := 50

	var lastErr error
	for i := 0; i < attempts; i++ {
		conn := t.getNextConnection()
		if conn == nil {
			return nil, fmt.Errorf("%w: transport not connected", transport.ErrUnreachable)
		}

		requestID := atomic.AddUint64(&t.nextRequestID, 1)
		data, err := conn.send(shardId, requestID, req)
		if err == nil {
			return data, nil
		}
		lastErr = err
		Logger.Debugf("Request attempt %d/%d to %s failed: %v", i+1, attempts, conn.endpoint, err)
		if errors.Is(err, transport.ErrTimeout) {
			// a timed out request may already be applied, it is not sent again
			return nil, err
		}

		if i < attempts-1 {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			time.Sleep(time.Duration(jitter) * time.Millisecond)
			backoffMs *= 2
		}
	}

	return nil, fmt.Errorf("failed to send request after %d attempts: %w", attempts, lastErr)
}

func (t *clientTransport) Close() error {
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// timeout returns the configured request timeout, 0 means no timeout
func (t *clientTransport) timeout() time.Duration {
	return time.Duration(t.config.TimeoutSecond) * time.Second
}

// getNextConnection selects the next connection via Round Robin
func (t *clientTransport) getNextConnection() *clientConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	if len(t.connections) == 0 {
		return nil
	}
	if len(t.connections) == 1 {
		return t.connections[0]
	}
	index := atomic.AddUint64(&t.nextConnIndex, 1) % uint64(len(t.connections))
	return t.connections[index]
}

// closeConnections closes all active connections
func (t *clientTransport) closeConnections() {
	t.connectionsMu.Lock()
	defer t.connectionsMu.Unlock()

	for _, conn := range t.connections {
		conn.mu.Lock()
		if conn.link != nil {
			conn.dropLocked(conn.link)
		}
		conn.mu.Unlock()
	}
	t.connections = nil
}

// send writes one request and waits for its response
func (c *clientConnection) send(shardId, requestID uint64, req []byte) ([]byte, error) {
	respCh := make(chan responseResult, 1)
	timeout := c.parent.timeout()

	c.mu.Lock()
	l, err := c.connectLocked()
	if err == nil {
		l.pending.Store(requestID, respCh)
		defer l.pending.Delete(requestID)

		if timeout > 0 {
			_ = l.conn.SetWriteDeadline(time.Now().Add(timeout))
		}
		if err = writeFrame(l.conn, shardId, requestID, req); err != nil {
			c.dropLocked(l)
			err = fmt.Errorf("%w: write to %s: %v", transport.ErrUnreachable, c.endpoint, err)
		}
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Wait for response or timeout
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-timeoutCh:
		return nil, fmt.Errorf("%w: no response from %s within %s", transport.ErrTimeout, c.endpoint, timeout)
	}
}

// connectLocked returns the current link and dials a new one if there is none. c.mu must be held.
func (c *clientConnection) connectLocked() (*link, error) {
	if c.link != nil {
		return c.link, nil
	}

	conn, err := c.parent.connector.Connect(c.endpoint, c.parent.timeout())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", transport.ErrUnreachable, c.endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := c.parent.connector.UpgradeConnection(conn, c.parent.config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to upgrade connection to %s: %v", transport.ErrUnreachable, c.endpoint, err)
	}

	l := &link{conn: conn, pending: xsync.NewMapOf[uint64, chan responseResult]()}
	c.link = l
	go c.readResponses(l)

	Logger.Debugf("Connected to %s", c.endpoint)
	return l, nil
}

// dropLocked closes l and forgets it if it is still the current link. c.mu must be held.
func (c *clientConnection) dropLocked(l *link) {
	_ = l.conn.Close()
	if c.link == l {
		c.link = nil
	}
}

// readResponses reads responses of one link and distributes them to waiting requests.
// When the link breaks all waiting requests fail with ErrUnreachable.
func (c *clientConnection) readResponses(l *link) {
	for {
		shardID, requestID, data, err := readFrame(l.conn, nil)
		if err != nil {
			c.mu.Lock()
			c.dropLocked(l)
			c.mu.Unlock()

			lost := fmt.Errorf("%w: connection to %s lost: %v", transport.ErrUnreachable, c.endpoint, err)
			l.pending.Range(func(_ uint64, ch chan responseResult) bool {
				select {
				case ch <- responseResult{err: lost}:
				default:
				}
				return true
			})
			return
		}

		respCh, found := l.pending.Load(requestID)
		if !found {
			Logger.Warningf("Received response for unknown request ID %d with shard ID %d", requestID, shardID)
			continue
		}
		select {
		case respCh <- responseResult{data: data}:
		default:
		}
	}
}
