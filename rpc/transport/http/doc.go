// Package http implements the HTTP transport of the oKV rpc system. Every request is a
// POST of the serialized message to /{shardId}, the response body carries the
// serialized reply.
//
// The client spreads requests round robin over the configured endpoints and retries
// requests that failed to reach a server. Endpoints may be given as plain host:port.
// A failed dial or a broken connection wraps transport.ErrUnreachable and is retried.
// A request that was sent but got no response in time wraps transport.ErrTimeout and is
// never sent again. A non 200 status is reported as a plain error.
//
// With log level debug the server logs every request with status and duration.
package http
