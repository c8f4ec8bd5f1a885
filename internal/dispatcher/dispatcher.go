// Package dispatcher turns due schedule fire times into queued tasks.
//
// Each poll walks every enabled job, computes the fire times that are due
// since the job last fired, enqueues one task per fire time and advances
// the job's last-fired mark. Task ids are derived from (job, fire time), so
// a poll that is repeated after a crash re-inserts nothing.
package dispatcher

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Arun8573/codec-technology/internal/domain"
	"github.com/Arun8573/codec-technology/internal/trigger"
)

type Store interface {
	ListJobs(ctx context.Context, enabledOnly bool) ([]domain.Job, error)
	Enqueue(ctx context.Context, task domain.Task) (bool, error)
	UpdateLastFired(ctx context.Context, id uuid.UUID, ts time.Time) (bool, error)
}

// Notifier wakes idle workers. Notify must not block.
type Notifier interface {
	Notify()
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	PollStarted()
	PollCompleted(duration time.Duration, tasksEnqueued int, err error)
	PollDrift(drift time.Duration)
}

type Config struct {
	PollInterval    time.Duration
	MaxFiresPerPoll int
}

type Dispatcher struct {
	config   Config
	store    Store
	notifier Notifier    // optional, nil = workers rely on lease polling
	metrics  MetricsSink // optional, nil = disabled
	logger   *zap.Logger
	clock    func() time.Time
	lastPoll time.Time
}

func New(config Config, store Store) *Dispatcher {
	if config.MaxFiresPerPoll <= 0 {
		config.MaxFiresPerPoll = 100
	}
	return &Dispatcher{
		config: config,
		store:  store,
		logger: zap.NewNop(),
		clock:  time.Now,
	}
}

func (d *Dispatcher) WithNotifier(n Notifier) *Dispatcher {
	d.notifier = n
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

func (d *Dispatcher) WithLogger(logger *zap.Logger) *Dispatcher {
	d.logger = logger.Named("dispatcher")
	return d
}

func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// Run polls immediately and then every PollInterval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.logger.Info("started", zap.Duration("poll_interval", d.config.PollInterval))
	d.lastPoll = d.clock().UTC()
	d.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	start := d.clock().UTC()
	if d.metrics != nil {
		d.metrics.PollStarted()
		d.metrics.PollDrift(start.Sub(d.lastPoll) - d.config.PollInterval)
	}
	d.lastPoll = start

	enqueued, err := d.Poll(ctx)
	if err != nil {
		d.logger.Warn("poll error", zap.Error(err))
	}
	if d.metrics != nil {
		d.metrics.PollCompleted(d.clock().Sub(start), enqueued, err)
	}
}

// Poll runs one dispatch pass and returns the number of newly inserted tasks.
// Per-job failures are logged and skipped; only a failure to list jobs is
// returned, and the next poll retries it.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	now := d.clock().UTC()

	jobs, err := d.store.ListJobs(ctx, true)
	if err != nil {
		return 0, errors.Wrap(err, "list jobs")
	}

	total := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		n, err := d.processJob(ctx, job, now)
		total += n
		if err != nil {
			d.logger.Warn("job error", zap.Stringer("job_id", job.ID), zap.String("job", job.Name), zap.Error(err))
		}
	}

	if total > 0 && d.notifier != nil {
		d.notifier.Notify()
	}
	return total, nil
}

// processJob enqueues every due fire time of job, oldest first, bounded by MaxFiresPerPoll.
// Remaining fire times are picked up by the following polls.
func (d *Dispatcher) processJob(ctx context.Context, job domain.Job, now time.Time) (int, error) {
	inserted := 0
	after := job.FireBase()

	for i := 0; i < d.config.MaxFiresPerPoll; i++ {
		t, ok := trigger.NextFire(job.Schedule, after)
		if !ok || t.After(now) {
			return inserted, nil
		}

		isNew, err := d.store.Enqueue(ctx, domain.NewTask(job, t, now))
		if err != nil {
			return inserted, errors.Wrapf(err, "enqueue fire_at=%s", t.Format(time.RFC3339))
		}
		if isNew {
			inserted++
			d.logger.Debug("enqueued", zap.Stringer("job_id", job.ID), zap.Time("fire_at", t))
		}

		// Advance even when the task already existed: a crash between the two
		// writes leaves last_fired behind, and this is where it catches up.
		if _, err := d.store.UpdateLastFired(ctx, job.ID, t); err != nil {
			return inserted, errors.Wrapf(err, "update last fired fire_at=%s", t.Format(time.RFC3339))
		}
		after = t
	}

	if t, ok := trigger.NextFire(job.Schedule, after); ok && !t.After(now) {
		d.logger.Info("fire backlog truncated for this poll",
			zap.Stringer("job_id", job.ID), zap.Int("max_fires_per_poll", d.config.MaxFiresPerPoll))
	}
	return inserted, nil
}
