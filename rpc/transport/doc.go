// Package transport defines the interfaces for RPC communication between the oKV
// client and the remote service. Implementations live in the http, tcp and unix
// sub packages, tcp and unix share the framing of the base package.
//
// Client transports connect lazily. A request that could not reach the endpoint wraps
// ErrUnreachable and is mapped to a connectivity error by the rpc client. A request that was
// sent without a response in time wraps ErrTimeout and is reported as a timeout.
package transport
