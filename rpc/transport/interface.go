package transport

import (
	"errors"

	"github.com/ValentinKolb/oKV/rpc/common"
)

var (
	// ErrUnreachable is wrapped by client transports when an endpoint cannot be dialed or a
	// connection breaks before the response arrived
	ErrUnreachable = errors.New("endpoint unreachable")
	// ErrTimeout is wrapped by client transports when a request was sent but no response
	// arrived in time. The server may have processed the request.
	ErrTimeout = errors.New("request timed out")
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes a shardId and a request as parameters and returns a response
type ServerHandleFunc func(shardId uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and blocks while serving requests.
	// It returns nil after Close was called.
	Listen(config common.ServerConfig) error
	// Close stops listening and closes all open connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration.
	// Connections are established lazily on the first Send, so Connect succeeds while
	// the endpoints are unreachable.
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response.
	// Failures to reach the endpoint wrap ErrUnreachable, missing responses wrap ErrTimeout.
	Send(shardId uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
