package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/oKV/lib/connectivity"
	"github.com/ValentinKolb/oKV/lib/sqldb"
	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("queue")

// ErrDrainInProgress is returned by Drain if another drain is still running.
var ErrDrainInProgress = errors.New("queue: drain already in progress")

const eventBufferSize = 256

// opColumns is the column list shared by queue_ops and queue_failures
const opColumns = `id, kind, collection, id_column, url, payload, persist, created_at, attempts, last_error, wifi_only, while_charging`

// Queue is a durable FIFO of pending writes stored in sqlite.
//
// Thread-safety: all methods are safe for concurrent use. Only one drain runs at a time.
type Queue struct {
	db       *sql.DB
	policy   Policy
	draining atomic.Bool
	rerun    atomic.Bool // a drain was requested while another one was running
	events   chan Event
}

// Open creates the queue tables in db if needed and returns the queue.
// Operations already stored in db are pending again.
func Open(db *sql.DB, policy Policy) (*Queue, error) {
	if policy.Now == nil {
		policy.Now = time.Now
	}
	if err := sqldb.Migrate(db, "queue",
		`CREATE TABLE IF NOT EXISTS queue_ops (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			id             TEXT    NOT NULL UNIQUE,
			kind           TEXT    NOT NULL,
			collection     TEXT    NOT NULL,
			id_column      TEXT    NOT NULL DEFAULT '',
			url            TEXT    NOT NULL DEFAULT '',
			payload        BLOB,
			persist        INTEGER NOT NULL DEFAULT 0,
			created_at     INTEGER NOT NULL,
			attempts       INTEGER NOT NULL DEFAULT 0,
			last_error     TEXT    NOT NULL DEFAULT '',
			wifi_only      INTEGER NOT NULL DEFAULT 0,
			while_charging INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS queue_failures (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			id             TEXT    NOT NULL,
			kind           TEXT    NOT NULL,
			collection     TEXT    NOT NULL,
			id_column      TEXT    NOT NULL DEFAULT '',
			url            TEXT    NOT NULL DEFAULT '',
			payload        BLOB,
			persist        INTEGER NOT NULL DEFAULT 0,
			created_at     INTEGER NOT NULL,
			attempts       INTEGER NOT NULL DEFAULT 0,
			last_error     TEXT    NOT NULL DEFAULT '',
			wifi_only      INTEGER NOT NULL DEFAULT 0,
			while_charging INTEGER NOT NULL DEFAULT 0,
			failed_at      INTEGER NOT NULL,
			reason         TEXT    NOT NULL
		)`,
	); err != nil {
		return nil, err
	}

	q := &Queue{
		db:     db,
		policy: policy,
		events: make(chan Event, eventBufferSize),
	}
	if n, err := q.Len(context.Background()); err == nil && n > 0 {
		Logger.Infof("recovered %d pending operations", n)
	}
	return q, nil
}

// Events returns the channel on which state changes are published.
// Events are dropped if the channel is full.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// publish sends an event without blocking and updates the metrics
func (q *Queue) publish(t EventType, op Operation, err error) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`okv_queue_events_total{type=%q}`, t.String())).Inc()
	select {
	case q.events <- Event{Type: t, Op: op, Err: err}:
	default:
		Logger.Debugf("event buffer full, dropping %s event of %s", t, op.ID)
	}
}

// --------------------------------------------------------------------------
// Storage
// --------------------------------------------------------------------------

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// opArgs returns the values for opColumns
func opArgs(op *Operation) []any {
	return []any{
		op.ID, op.Kind, op.Collection, op.IDColumn, op.URL, op.Payload,
		boolToInt(op.Persist), op.CreatedAt.UnixNano(), op.Attempts, op.LastError,
		boolToInt(op.Conditions.WifiOnly), boolToInt(op.Conditions.WhileCharging),
	}
}

// scanner is implemented by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanOp reads seq followed by opColumns
func scanOp(s scanner, extra ...any) (Operation, error) {
	var op Operation
	var persist, wifi, charging int
	var created int64
	dest := []any{
		&op.Seq, &op.ID, &op.Kind, &op.Collection, &op.IDColumn, &op.URL, &op.Payload,
		&persist, &created, &op.Attempts, &op.LastError, &wifi, &charging,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return Operation{}, err
	}
	op.Persist = persist != 0
	op.CreatedAt = time.Unix(0, created)
	op.Conditions = connectivity.Requirement{WifiOnly: wifi != 0, WhileCharging: charging != 0}
	return op, nil
}

// Enqueue stores op durably. A missing ID is generated, CreatedAt is set if zero.
// On return op carries its ID and FIFO position.
func (q *Queue) Enqueue(ctx context.Context, op *Operation) error {
	if op == nil || op.Collection == "" || op.Kind == "" {
		return store.NewError(store.RetCInvalidOperation, "queued operation needs a kind and a collection")
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = q.policy.Now()
	}

	res, err := q.db.ExecContext(ctx,
		`INSERT INTO queue_ops (`+opColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		opArgs(op)...,
	)
	if err != nil {
		return store.Errorf(store.RetCLocalPersistence, "failed to enqueue operation: %v", err)
	}
	if op.Seq, err = res.LastInsertId(); err != nil {
		return store.Errorf(store.RetCLocalPersistence, "failed to read queue position: %v", err)
	}

	Logger.Debugf("enqueued %s %s on %s (seq %d)", op.Kind, op.ID, op.Collection, op.Seq)
	q.publish(EventEnqueued, *op, nil)
	return nil
}

// Pending returns all pending operations in FIFO order.
func (q *Queue) Pending(ctx context.Context) ([]Operation, error) {
	return q.pending(ctx, "")
}

// pending returns the pending operations of collection, or of all collections if it is empty
func (q *Queue) pending(ctx context.Context, collection string) ([]Operation, error) {
	query := `SELECT seq, ` + opColumns + ` FROM queue_ops`
	var args []any
	if collection != "" {
		query += ` WHERE collection = ?`
		args = append(args, collection)
	}
	rows, err := q.db.QueryContext(ctx, query+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	defer rows.Close()

	ops := make([]Operation, 0)
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queued operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Len returns the number of pending operations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_ops`).Scan(&n)
	return n, err
}

// HasPending reports whether operations of collection are waiting for delivery.
func (q *Queue) HasPending(ctx context.Context, collection string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_ops WHERE collection = ?`, collection).Scan(&n)
	return n > 0, err
}

// Remove deletes a pending operation. The boolean indicates whether it existed.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM queue_ops WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Purge deletes all pending operations and returns how many were removed.
func (q *Queue) Purge(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM queue_ops`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Failures returns the operations dropped without delivery, oldest first.
func (q *Queue) Failures(ctx context.Context) ([]Failure, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT seq, `+opColumns+`, failed_at, reason FROM queue_failures ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to load failure log: %w", err)
	}
	defer rows.Close()

	failures := make([]Failure, 0)
	for rows.Next() {
		var failedAt int64
		var reason string
		op, err := scanOp(rows, &failedAt, &reason)
		if err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		failures = append(failures, Failure{Operation: op, FailedAt: time.Unix(0, failedAt), Reason: reason})
	}
	return failures, rows.Err()
}

// ClearFailures empties the failure log and returns how many entries were removed.
func (q *Queue) ClearFailures(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM queue_failures`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// delete removes a delivered operation
func (q *Queue) delete(ctx context.Context, op Operation) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM queue_ops WHERE seq = ?`, op.Seq)
	return err
}

// requeue stores the failed attempt
func (q *Queue) requeue(ctx context.Context, op Operation) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE queue_ops SET attempts = ?, last_error = ? WHERE seq = ?`,
		op.Attempts, op.LastError, op.Seq,
	)
	return err
}

// fail moves op to the failure log in one transaction
func (q *Queue) fail(ctx context.Context, op Operation, reason string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	args := append(opArgs(&op), q.policy.Now().UnixNano(), reason)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO queue_failures (`+opColumns+`, failed_at, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_ops WHERE seq = ?`, op.Seq); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --------------------------------------------------------------------------
// Drain
// --------------------------------------------------------------------------

// Drain replays the pending operations in FIFO order.
//
//   - An operation whose conditions are unmet blocks the rest of its collection for this drain.
//   - A connectivity failure requeues the operation and stops the drain.
//   - A business failure (client, server, decode) moves the operation to the failure log.
//   - Any other failure requeues the operation and blocks its collection for this drain.
//   - Operations beyond the policy limits are moved to the failure log without replay.
//
// Only one drain runs at a time. A concurrent call returns ErrDrainInProgress and makes
// the running drain start over once it is done, so operations it did not load are not missed.
func (q *Queue) Drain(ctx context.Context, oracle connectivity.IOracle, replayer Replayer) (DrainStats, error) {
	return q.drain(ctx, oracle, replayer, "")
}

// DrainCollection is Drain limited to the operations of one collection.
func (q *Queue) DrainCollection(ctx context.Context, oracle connectivity.IOracle, replayer Replayer, collection string) (DrainStats, error) {
	return q.drain(ctx, oracle, replayer, collection)
}

func (q *Queue) drain(ctx context.Context, oracle connectivity.IOracle, replayer Replayer, collection string) (DrainStats, error) {
	var total DrainStats
	for !q.draining.CompareAndSwap(false, true) {
		q.rerun.Store(true)
		if q.draining.Load() {
			return total, ErrDrainInProgress
		}
	}

	for {
		stats, err := q.drainOnce(ctx, oracle, replayer, collection)
		total = total.add(stats)
		q.draining.Store(false)

		if err != nil || !q.rerun.Swap(false) || !oracle.IsOnline() {
			return total, err
		}
		if !q.draining.CompareAndSwap(false, true) {
			// another drain took over
			return total, nil
		}
		Logger.Debugf("drain requested while draining, starting over")
		collection = ""
	}
}

// drainOnce replays the operations pending when it starts
func (q *Queue) drainOnce(ctx context.Context, oracle connectivity.IOracle, replayer Replayer, collection string) (DrainStats, error) {
	var stats DrainStats
	ops, err := q.pending(ctx, collection)
	if err != nil {
		return stats, err
	}
	if len(ops) == 0 {
		return stats, nil
	}
	Logger.Debugf("draining %d operations", len(ops))

	blocked := make(map[string]bool)
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if blocked[op.Collection] {
			stats.Blocked++
			continue
		}

		if reason := q.policy.expired(op, q.policy.Now()); reason != "" {
			if err := q.fail(ctx, op, reason); err != nil {
				return stats, fmt.Errorf("failed to expire operation %s: %w", op.ID, err)
			}
			Logger.Warningf("dropping %s %s on %s: %s", op.Kind, op.ID, op.Collection, reason)
			stats.Expired++
			q.publish(EventExpired, op, nil)
			continue
		}

		if !oracle.IsOnline() {
			Logger.Debugf("went offline while draining, %d operations left", len(ops)-stats.Total())
			return stats, nil
		}
		if !op.Conditions.IsZero() && !op.Conditions.Met(oracle.Conditions()) {
			blocked[op.Collection] = true
			stats.Blocked++
			continue
		}

		replayErr := replayer.Replay(ctx, op)
		switch {
		case replayErr == nil:
			if err := q.delete(ctx, op); err != nil {
				return stats, fmt.Errorf("failed to remove delivered operation %s: %w", op.ID, err)
			}
			stats.Delivered++
			q.publish(EventDelivered, op, nil)

		case store.IsBusiness(replayErr):
			op.LastError = replayErr.Error()
			if err := q.fail(ctx, op, replayErr.Error()); err != nil {
				return stats, fmt.Errorf("failed to drop operation %s: %w", op.ID, err)
			}
			Logger.Warningf("dropping %s %s on %s: %v", op.Kind, op.ID, op.Collection, replayErr)
			stats.Dropped++
			q.publish(EventDropped, op, replayErr)

		default:
			op.Attempts++
			op.LastError = replayErr.Error()
			if err := q.requeue(ctx, op); err != nil {
				return stats, fmt.Errorf("failed to requeue operation %s: %w", op.ID, err)
			}
			stats.Requeued++
			q.publish(EventRequeued, op, replayErr)

			if store.IsConnectivity(replayErr) {
				Logger.Infof("remote unreachable, stopping drain: %v", replayErr)
				return stats, nil
			}
			blocked[op.Collection] = true
		}
	}

	Logger.Infof("drain finished: %d delivered, %d requeued, %d dropped, %d expired, %d blocked",
		stats.Delivered, stats.Requeued, stats.Dropped, stats.Expired, stats.Blocked)
	return stats, nil
}

// DrainOnReconnect starts a drain in the background on every reconnect of oracle.
// The returned function removes the subscription.
func (q *Queue) DrainOnReconnect(oracle connectivity.IOracle, replayer Replayer) (cancel func()) {
	return oracle.OnReconnect(func() {
		go q.drainLogged(context.Background(), oracle, replayer)
	})
}

// Run drains on every reconnect and additionally every Policy.SweepInterval while online.
// It blocks until ctx is done.
func (q *Queue) Run(ctx context.Context, oracle connectivity.IOracle, replayer Replayer) {
	cancel := oracle.OnReconnect(func() {
		go q.drainLogged(ctx, oracle, replayer)
	})
	defer cancel()

	interval := q.policy.SweepInterval
	if interval <= 0 {
		interval = DefaultPolicy().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if oracle.IsOnline() {
		q.drainLogged(ctx, oracle, replayer)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if oracle.IsOnline() {
				q.drainLogged(ctx, oracle, replayer)
			}
		}
	}
}

func (q *Queue) drainLogged(ctx context.Context, oracle connectivity.IOracle, replayer Replayer) {
	if _, err := q.Drain(ctx, oracle, replayer); err != nil && !errors.Is(err, ErrDrainInProgress) && !errors.Is(err, context.Canceled) {
		Logger.Errorf("drain failed: %v", err)
	}
}
