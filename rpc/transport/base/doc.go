// Package base implements the stream transport shared by the tcp and unix packages.
// The protocol specific parts (dial, listen, socket options) are injected through
// IClientConnector and IServerConnector.
//
// Every message travels in a frame of an 8 byte shard id, an 8 byte request id, a 4 byte
// length and the payload. Request ids correlate responses, so many requests can be in
// flight on one connection.
//
// Client side:
//
//   - Connect only prepares the pool, a connection is dialed on its first use and redialed
//     after it broke. This lets an application start without network.
//
//   - Requests are spread round robin over ConnectionsPerEndpoint connections per endpoint.
//
//   - Dial and write failures are retried RetryCount times with exponential backoff and
//     wrap transport.ErrUnreachable. A missing response wraps transport.ErrTimeout.
//
// Server side:
//
//   - Every connection gets a goroutine, requests of one connection are processed by at
//     most WorkersPerConn workers.
//
//   - Read buffers are pooled with a sync.Pool.
//
// All exported methods are safe for concurrent use.
package base
