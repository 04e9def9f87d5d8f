// Package rpc connects the offline-first data layer to its remote service. The client side
// implements store.IRemoteStore, the server side serves record collections and uploaded files
// from sqlite or in-memory shards.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP). Client transports report unreachable endpoints as
//     ErrUnreachable and missing responses as ErrTimeout.
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB, CBOR)
//     for converting between Message objects and byte arrays.
//
//   - client: The remote store client. It classifies every failure as connectivity,
//     timeout, client, server or decode error so the router can decide whether to queue a write.
//
//   - server: The remote service with its record adapter, shard handling and blob storage.
package rpc
