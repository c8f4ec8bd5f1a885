// Package leaderelection provides Postgres advisory lock-based leader election.
//
// A single Postgres session-scoped advisory lock determines the leader.
// The lock is held for the lifetime of the dedicated database connection;
// there is no renewal or TTL. If the connection dies, Postgres automatically
// releases the lock server-side (timing depends on TCP keepalive settings).
//
// The heartbeat ping exists solely to detect local connection death so the
// leader can stop its duties promptly. It does NOT renew the lock.
package leaderelection

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const queryTryLock = "SELECT pg_try_advisory_lock($1)"

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown", "conn_lost", "duties_exited"
}

// Elector manages leader election using a Postgres advisory lock.
type Elector struct {
	db                *sql.DB
	lockKey           int64
	retryInterval     time.Duration // follower: how often to attempt lock acquisition
	heartbeatInterval time.Duration // leader: how often to ping dedicated connection
	metrics           MetricsSink   // optional, nil = disabled
	logger            *zap.Logger
	leader            atomic.Bool
}

// New creates a new Elector.
func New(db *sql.DB, lockKey int64, retryInterval, heartbeatInterval time.Duration) *Elector {
	return &Elector{
		db:                db,
		lockKey:           lockKey,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		logger:            zap.NewNop(),
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

func (e *Elector) WithLogger(logger *zap.Logger) *Elector {
	e.logger = logger.Named("leader")
	return e
}

// IsLeader reports whether this instance currently holds the lock.
func (e *Elector) IsLeader() bool {
	return e.leader.Load()
}

// Run starts the leader election loop. It blocks until ctx is cancelled.
//
// duties is started in a new goroutine each time this instance acquires the
// lock. Its context is cancelled when leadership is lost, and Run waits for
// duties to return before competing for the lock again.
func (e *Elector) Run(ctx context.Context, duties func(ctx context.Context)) {
	e.logger.Info("starting election loop",
		zap.Int64("lock_key", e.lockKey),
		zap.Duration("retry", e.retryInterval),
		zap.Duration("heartbeat", e.heartbeatInterval))

	for {
		if ctx.Err() != nil {
			e.logger.Info("election loop stopped")
			return
		}

		reason := e.runOnce(ctx, duties)

		if ctx.Err() != nil {
			e.logger.Info("election loop stopped")
			return
		}

		if reason != "" {
			e.logger.Warn("lost leadership", zap.String("reason", reason), zap.Duration("retry_in", e.retryInterval))
		}

		select {
		case <-ctx.Done():
			e.logger.Info("election loop stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce attempts to acquire the advisory lock and hold it.
// Returns the reason leadership was lost ("" if lock was not acquired).
func (e *Elector) runOnce(ctx context.Context, duties func(ctx context.Context)) string {
	// Advisory lock is session-scoped: must use a dedicated connection.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		e.logger.Warn("failed to acquire dedicated connection", zap.Error(err))
		return ""
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, queryTryLock, e.lockKey).Scan(&acquired); err != nil {
		e.logger.Warn("advisory lock query failed", zap.Error(err))
		return ""
	}
	if !acquired {
		e.logger.Debug("lock held by another instance", zap.Int64("lock_key", e.lockKey))
		return ""
	}

	e.logger.Info("acquired advisory lock", zap.Int64("lock_key", e.lockKey))
	e.leader.Store(true)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	dutiesDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(dutiesDone)
		duties(leaderCtx)
	}()

	reason := e.holdLock(ctx, conn, dutiesDone)

	cancelLeader()
	wg.Wait()
	e.leader.Store(false)

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	e.logger.Info("released advisory lock", zap.Int64("lock_key", e.lockKey))
	return reason
}

// holdLock blocks while pinging the dedicated connection.
// Returns the reason the lock was lost.
func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn, dutiesDone <-chan struct{}) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-dutiesDone:
			return "duties_exited"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				e.logger.Error("dedicated connection ping failed", zap.Error(err))
				return "conn_lost"
			}
		}
	}
}
