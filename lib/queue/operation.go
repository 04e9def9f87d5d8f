package queue

import (
	"context"
	"time"

	"github.com/ValentinKolb/oKV/lib/connectivity"
)

// Operation is a write that could not be delivered and waits for replay.
// Payload is opaque to the queue, the router encodes and decodes it.
type Operation struct {
	ID         string                   `json:"id"`
	Seq        int64                    `json:"seq"`
	Kind       string                   `json:"kind"`
	Collection string                   `json:"collection"`
	IDColumn   string                   `json:"idColumn,omitempty"`
	URL        string                   `json:"url,omitempty"`
	Payload    []byte                   `json:"payload,omitempty"`
	Persist    bool                     `json:"persist,omitempty"`
	CreatedAt  time.Time                `json:"createdAt"`
	Attempts   int                      `json:"attempts"`
	LastError  string                   `json:"lastError,omitempty"`
	Conditions connectivity.Requirement `json:"conditions"`
}

// Failure is an operation that was removed from the queue without being delivered.
type Failure struct {
	Operation
	FailedAt time.Time `json:"failedAt"`
	Reason   string    `json:"reason"`
}

// Replayer sends a queued operation to the remote store.
type Replayer interface {
	Replay(ctx context.Context, op Operation) error
}

// ReplayFunc adapts a function to the Replayer interface.
type ReplayFunc func(ctx context.Context, op Operation) error

func (f ReplayFunc) Replay(ctx context.Context, op Operation) error {
	return f(ctx, op)
}

// Policy bounds how long an operation may stay in the queue.
type Policy struct {
	// MaxAttempts is the number of failed replays after which an operation is dropped, 0 means unlimited
	MaxAttempts int
	// MaxAge is the age after which an undelivered operation is dropped, 0 means unlimited
	MaxAge time.Duration
	// SweepInterval is the period of the fallback drain started by Run
	SweepInterval time.Duration
	// Now is the clock used for timestamps, time.Now if nil
	Now func() time.Time
}

// DefaultPolicy returns the policy used by the cli.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   10,
		MaxAge:        7 * 24 * time.Hour,
		SweepInterval: 30 * time.Second,
		Now:           time.Now,
	}
}

// expired reports why op must be dropped, or "" if it may still be replayed
func (p Policy) expired(op Operation, now time.Time) string {
	if p.MaxAttempts > 0 && op.Attempts >= p.MaxAttempts {
		return "max attempts reached"
	}
	if p.MaxAge > 0 && now.Sub(op.CreatedAt) > p.MaxAge {
		return "max age exceeded"
	}
	return ""
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// EventType tells what happened to an operation.
type EventType int

const (
	EventEnqueued EventType = iota
	EventDelivered
	EventRequeued
	EventDropped
	EventExpired
)

func (t EventType) String() string {
	switch t {
	case EventEnqueued:
		return "enqueued"
	case EventDelivered:
		return "delivered"
	case EventRequeued:
		return "requeued"
	case EventDropped:
		return "dropped"
	case EventExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event is published on Queue.Events whenever an operation changes state.
type Event struct {
	Type EventType
	Op   Operation
	Err  error
}

// DrainStats summarises one drain.
type DrainStats struct {
	Delivered int
	Requeued  int
	Dropped   int
	Expired   int
	Blocked   int // operations skipped because their collection was blocked
}

func (s DrainStats) add(o DrainStats) DrainStats {
	s.Delivered += o.Delivered
	s.Requeued += o.Requeued
	s.Dropped += o.Dropped
	s.Expired += o.Expired
	s.Blocked += o.Blocked
	return s
}

// Total returns the number of operations the drain looked at.
func (s DrainStats) Total() int {
	return s.Delivered + s.Requeued + s.Dropped + s.Expired + s.Blocked
}
