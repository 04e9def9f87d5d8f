// Package tcp implements the TCP socket transport of the oKV rpc system on top of the
// base package. It adds dialing and listening plus the socket tuning from
// common.TCPConf and common.SocketConf (no delay, keep-alive, linger, buffer sizes).
//
// The server reads frames into pooled 512 KB buffers, larger frames get their own buffer.
package tcp
