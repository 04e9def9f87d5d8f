// Package queue implements the durable mutation queue of the offline-first data layer.
//
// Writes that cannot reach the remote store are stored as Operations in the sqlite table
// queue_ops before Enqueue returns, so they survive process restarts. A drain replays them
// through a Replayer (the data router) in FIFO order per collection. Delivered operations are
// deleted, operations rejected by the remote service are moved to queue_failures, operations
// that failed for transport reasons stay queued with an incremented attempt counter.
//
// Delivery is at-least-once. Creates therefore carry client assigned ids so a replay after a
// lost acknowledgement is an upsert and not a duplicate.
//
// Every state change is published on Events and counted in the okv_queue_events_total metric.
package queue
