// Package reconciler re-arms tasks whose lease expired or whose attempt failed.
//
// A task is stuck when its worker crashed or stalled past the lease expiry,
// or when the worker acked it as failed. Each cycle hands such tasks back to
// the queue (or dead-letters them at the retry ceiling) using the store's
// retry policy, then refreshes the queue-depth and dead-letter gauges.
//
// The store selects stuck tasks with row-level skip locking, so several
// reconcilers can share one database without double-counting an attempt.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Arun8573/codec-technology/internal/domain"
)

// Store defines the interface for re-arming stuck tasks and reading queue totals.
type Store interface {
	RequeueExpired(ctx context.Context, batch int) (domain.RequeueStats, error)
	Statistics(ctx context.Context) (domain.Statistics, error)
}

// Notifier wakes idle workers after tasks were returned to the queue.
type Notifier interface {
	Notify()
}

// MetricsSink defines the interface for recording reconciler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	RequeueCompleted(requeued, deadLettered int)
	QueueDepthUpdate(depth int)
	DeadLettersUpdate(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 15 seconds.
	Interval time.Duration

	// BatchSize is the maximum number of tasks re-armed per store call.
	// A cycle keeps calling while full batches come back, up to MaxBatches.
	// Default: 100.
	BatchSize int

	// MaxBatches bounds one cycle. Default: 50.
	MaxBatches int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:   15 * time.Second,
		BatchSize:  100,
		MaxBatches: 50,
	}
}

// Cycle is the outcome of one reconciliation pass.
type Cycle struct {
	At          time.Time
	Stats       domain.RequeueStats
	QueueDepth  int
	DeadLetters int
	LastSuccess map[uuid.UUID]time.Time // latest succeeded completion per job
	Err         error
}

// Reconciler re-arms stuck tasks.
type Reconciler struct {
	config   Config
	store    Store
	notifier Notifier    // optional, nil = disabled
	metrics  MetricsSink // optional, nil = disabled
	logger   *zap.Logger
	clock    func() time.Time

	mu   sync.Mutex
	last *Cycle
}

// New creates a new Reconciler.
func New(config Config, store Store) *Reconciler {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxBatches <= 0 {
		config.MaxBatches = def.MaxBatches
	}
	return &Reconciler{
		config: config,
		store:  store,
		logger: zap.NewNop(),
		clock:  time.Now,
	}
}

func (r *Reconciler) WithNotifier(n Notifier) *Reconciler {
	r.notifier = n
	return r
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

func (r *Reconciler) WithLogger(logger *zap.Logger) *Reconciler {
	r.logger = logger.Named("reconciler")
	return r
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
// The first cycle runs after one Interval; startup reconciliation is the
// caller's job via RunCycle so it can happen before workers start.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("started",
		zap.Duration("interval", r.config.Interval),
		zap.Int("batch", r.config.BatchSize))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle executes one reconciliation cycle. Store errors abort the cycle,
// are logged and reported in the result; the next interval retries.
func (r *Reconciler) RunCycle(ctx context.Context) Cycle {
	c := Cycle{At: r.clock().UTC()}

	for i := 0; i < r.config.MaxBatches; i++ {
		if ctx.Err() != nil {
			c.Err = ctx.Err()
			break
		}
		stats, err := r.store.RequeueExpired(ctx, r.config.BatchSize)
		if err != nil {
			c.Err = errors.Wrap(err, "requeue expired")
			break
		}
		c.Stats.Requeued += stats.Requeued
		c.Stats.DeadLettered += stats.DeadLettered
		if stats.Requeued+stats.DeadLettered < r.config.BatchSize {
			break
		}
	}

	if c.Err == nil {
		st, err := r.store.Statistics(ctx)
		if err != nil {
			c.Err = errors.Wrap(err, "statistics")
		} else {
			c.QueueDepth = st.QueueDepth
			c.DeadLetters = st.TaskCounts[domain.TaskDeadLettered]
			c.LastSuccess = st.LastSuccess
		}
	}

	r.report(c)

	r.mu.Lock()
	r.last = &c
	r.mu.Unlock()
	return c
}

func (r *Reconciler) report(c Cycle) {
	if c.Err != nil {
		r.logger.Warn("cycle failed", zap.Error(c.Err),
			zap.Int("requeued", c.Stats.Requeued), zap.Int("dead_lettered", c.Stats.DeadLettered))
	} else if c.Stats.Requeued > 0 || c.Stats.DeadLettered > 0 {
		r.logger.Info("cycle complete",
			zap.Int("requeued", c.Stats.Requeued),
			zap.Int("dead_lettered", c.Stats.DeadLettered),
			zap.Int("queue_depth", c.QueueDepth))
	}

	if r.metrics != nil {
		r.metrics.RequeueCompleted(c.Stats.Requeued, c.Stats.DeadLettered)
		if c.Err == nil {
			r.metrics.QueueDepthUpdate(c.QueueDepth)
			r.metrics.DeadLettersUpdate(c.DeadLetters)
		}
	}
	if c.Stats.Requeued > 0 && r.notifier != nil {
		r.notifier.Notify()
	}
}

// LastCycle returns the most recent cycle, if any ran.
func (r *Reconciler) LastCycle() (Cycle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Cycle{}, false
	}
	return *r.last, true
}
