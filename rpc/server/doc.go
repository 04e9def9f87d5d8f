// Package server implements the oKV remote service: an RPC server holding one or more
// shards of records and uploaded files.
//
// Every shard is an independent dataset backed by a store.ILocalStore, a sqlite file
// below the data directory (type "sqlite") or memory (type "memory"). Uploaded files
// live in a BlobStore next to it. Requests address a shard by id and are handled by
// an IRPCServerAdapter.
//
// The record adapter implements the remote store semantics:
//
//   - create and update are upserts keyed by the id column, so a replayed request
//     leaves the data unchanged
//   - patch merges into an existing record, a missing record is NotFound
//   - delete succeeds for missing records
//   - upload stores the file and a record with name, url and size plus the form fields
//   - download returns the file of an url produced by upload
//
// Errors are answered with an error response carrying the store.RetCode.
//
// With a metrics endpoint configured, request counters and latency histograms are
// served at /metrics in the prometheus text format.
package server
