// Package unix implements the Unix domain socket transport of the oKV rpc system, for a
// remote service running on the same machine as the client. It only contributes dialing
// and listening, framing and pooling come from the base package.
//
// Listen removes a stale socket file before binding. Server read buffers default to 64 KB.
package unix
