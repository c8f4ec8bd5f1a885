// Package worker runs the pool that leases tasks, extracts them and acks the outcome.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Arun8573/codec-technology/internal/domain"
	"github.com/Arun8573/codec-technology/internal/metrics"
)

type Store interface {
	Lease(ctx context.Context, workerID string, leaseDuration time.Duration) (*domain.Task, error)
	Ack(ctx context.Context, taskID uuid.UUID, leaseToken string, outcome domain.Outcome) error
	Complete(ctx context.Context, taskID uuid.UUID, leaseToken string, rec domain.Record) error
}

type Extractor interface {
	Extract(ctx context.Context, target domain.TargetSpec, mode domain.ExtractionMode) (domain.Record, error)
}

// Wakeup delivers early wake-ups to idle workers.
type Wakeup interface {
	C() <-chan struct{}
	Notify()
}

type AnalyticsSink interface {
	Record(ctx context.Context, task domain.Task, outcome string)
}

// MetricsSink defines the interface for recording worker metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	AttemptCompleted(result string, duration time.Duration)
	TaskOutcome(outcome string)
	TasksInFlightIncr()
	TasksInFlightDecr()
	FireLatencyObserve(latencySeconds float64)
}

type Config struct {
	Count          int
	LeaseDuration  time.Duration
	ExtractTimeout time.Duration
	PollMin        time.Duration
	PollMax        time.Duration
}

type Pool struct {
	config    Config
	store     Store
	extractor Extractor
	wakeup    Wakeup        // optional, nil = poll only
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	logger    *zap.Logger
	clock     func() time.Time
	idPrefix  string
}

func New(config Config, store Store, extractor Extractor) *Pool {
	if config.Count <= 0 {
		config.Count = 1
	}
	if config.PollMin <= 0 {
		config.PollMin = 250 * time.Millisecond
	}
	if config.PollMax < config.PollMin {
		config.PollMax = config.PollMin
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return &Pool{
		config:    config,
		store:     store,
		extractor: extractor,
		logger:    zap.NewNop(),
		clock:     time.Now,
		idPrefix:  fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

func (p *Pool) WithWakeup(w Wakeup) *Pool {
	p.wakeup = w
	return p
}

func (p *Pool) WithAnalytics(sink AnalyticsSink) *Pool {
	p.analytics = sink
	return p
}

// WithMetrics attaches a metrics sink to the pool.
func (p *Pool) WithMetrics(sink MetricsSink) *Pool {
	p.metrics = sink
	return p
}

func (p *Pool) WithLogger(logger *zap.Logger) *Pool {
	p.logger = logger.Named("worker")
	return p
}

func (p *Pool) WithClock(clock func() time.Time) *Pool {
	p.clock = clock
	return p
}

// WithIDPrefix overrides the hostname-pid prefix of worker ids.
func (p *Pool) WithIDPrefix(prefix string) *Pool {
	p.idPrefix = prefix
	return p
}

// Run starts Config.Count workers and blocks until ctx is cancelled and
// every worker has finished its in-flight task.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("started",
		zap.Int("workers", p.config.Count),
		zap.Duration("lease_duration", p.config.LeaseDuration),
		zap.Duration("extract_timeout", p.config.ExtractTimeout))

	var wg sync.WaitGroup
	for i := 0; i < p.config.Count; i++ {
		id := fmt.Sprintf("%s-%d", p.idPrefix, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, id)
		}()
	}
	wg.Wait()

	p.logger.Info("stopped")
	return ctx.Err()
}

func (p *Pool) loop(ctx context.Context, id string) {
	logger := p.logger.With(zap.String("worker_id", id))
	backoff := p.config.PollMin

	for ctx.Err() == nil {
		task, err := p.store.Lease(ctx, id, p.config.LeaseDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("lease failed", zap.Error(err))
			backoff = p.idle(ctx, backoff)
			continue
		}
		if task == nil {
			backoff = p.idle(ctx, backoff)
			continue
		}

		// More work may be queued behind this task: pass the wake-up on.
		if backoff > p.config.PollMin && p.wakeup != nil {
			p.wakeup.Notify()
		}
		backoff = p.config.PollMin

		p.Process(ctx, id, *task)
	}
}

// idle waits for the current backoff or a wake-up and returns the next backoff.
func (p *Pool) idle(ctx context.Context, backoff time.Duration) time.Duration {
	var wake <-chan struct{}
	if p.wakeup != nil {
		wake = p.wakeup.C()
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return backoff
	case <-wake:
		return p.config.PollMin
	case <-timer.C:
	}

	next := backoff * 2
	if next > p.config.PollMax {
		next = p.config.PollMax
	}
	return next
}

// Process runs one leased task to completion. Shutdown does not interrupt
// it: the extraction is bounded by ExtractTimeout only.
func (p *Pool) Process(ctx context.Context, workerID string, task domain.Task) {
	if p.metrics != nil {
		p.metrics.TasksInFlightIncr()
		defer p.metrics.TasksInFlightDecr()
	}

	ctx = context.WithoutCancel(ctx)
	logger := p.logger.With(
		zap.String("worker_id", workerID),
		zap.Stringer("task_id", task.ID),
		zap.Stringer("job_id", task.JobID),
		zap.Int("attempts", task.Attempts))

	extractCtx, cancel := context.WithTimeout(ctx, p.config.ExtractTimeout)
	start := p.clock()
	rec, err := p.extractor.Extract(extractCtx, task.Target, task.Mode)
	cancel()
	if p.metrics != nil {
		p.metrics.AttemptCompleted(metrics.AttemptResult(err), p.clock().Sub(start))
	}

	outcome := p.complete(ctx, logger, task, rec, err)
	if p.metrics != nil {
		p.metrics.TaskOutcome(outcome)
	}
	if p.analytics != nil {
		p.analytics.Record(ctx, task, outcome)
	}
}

func (p *Pool) complete(ctx context.Context, logger *zap.Logger, task domain.Task, rec domain.Record, extractErr error) string {
	if extractErr != nil {
		kind := domain.KindOf(extractErr)
		if kind == domain.KindTimeout {
			// The lease is left to expire; the requeue pass records the attempt.
			logger.Warn("extraction timed out, abandoning lease", zap.Error(extractErr))
			return metrics.OutcomeAbandoned
		}

		logger.Warn("extraction failed",
			zap.String("kind", string(kind)),
			zap.Bool("transient", kind.Transient()),
			zap.Error(extractErr))
		return p.ack(ctx, logger, task, domain.FailedOutcome(extractErr), metrics.OutcomeFailed)
	}

	rec.TaskID = task.ID
	rec.JobID = task.JobID
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = p.clock().UTC()
	}
	err := p.store.Complete(ctx, task.ID, task.LeaseToken, rec)
	outcome := p.settle(logger, domain.TaskSucceeded, err, metrics.OutcomeSucceeded)
	if outcome == metrics.OutcomeSucceeded {
		if p.metrics != nil {
			p.metrics.FireLatencyObserve(p.clock().Sub(task.FireAt).Seconds())
		}
		logger.Info("task succeeded", zap.Int64("raw_size", rec.RawSize))
	}
	return outcome
}

func (p *Pool) ack(ctx context.Context, logger *zap.Logger, task domain.Task, outcome domain.Outcome, label string) string {
	err := p.store.Ack(ctx, task.ID, task.LeaseToken, outcome)
	return p.settle(logger, outcome.Status, err, label)
}

// settle maps the store's answer to an ack onto an outcome label. A lost
// lease discards the result; any other error leaves the lease to expire.
func (p *Pool) settle(logger *zap.Logger, status domain.TaskStatus, err error, label string) string {
	switch {
	case err == nil:
		return label
	case errors.Is(err, domain.ErrStaleLease), errors.Is(err, domain.ErrTaskNotFound):
		logger.Info("stale ack discarded", zap.String("outcome", string(status)), zap.Error(err))
		return metrics.OutcomeStale
	default:
		logger.Error("ack failed", zap.String("outcome", string(status)), zap.Error(err))
		return metrics.OutcomeAbandoned
	}
}
