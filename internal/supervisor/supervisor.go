// Package supervisor owns the lifecycle of the dispatcher, the worker pool
// and queue maintenance inside one process.
package supervisor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Arun8573/codec-technology/internal/reconciler"
)

// Runner is a long-running component. Run blocks until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Maintenance re-arms expired and failed tasks.
type Maintenance interface {
	Runner
	RunCycle(ctx context.Context) reconciler.Cycle
	LastCycle() (reconciler.Cycle, bool)
}

// Elector gates singleton duties behind a distributed lock.
type Elector interface {
	Run(ctx context.Context, duties func(ctx context.Context))
	IsLeader() bool
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Component names used in logs and health output.
const (
	ComponentDispatcher  = "dispatcher"
	ComponentWorkers     = "workers"
	ComponentMaintenance = "maintenance"
)

// Config holds supervisor configuration.
type Config struct {
	// HealthTimeout bounds each dependency ping in Health. Default: 3s.
	HealthTimeout time.Duration

	// StaleAfter marks maintenance unhealthy when its last cycle is older
	// than this. Zero disables the check.
	StaleAfter time.Duration
}

// Supervisor starts the engine components and stops them in order:
// dispatcher first, then workers, then maintenance.
type Supervisor struct {
	config      Config
	dispatcher  Runner
	workers     Runner
	maintenance Maintenance
	store       Pinger
	elector     Elector // optional, nil = always leader
	analytics   Pinger  // optional, nil = disabled
	logger      *zap.Logger
	clock       func() time.Time

	running [3]atomic.Bool
}

// New creates a Supervisor.
func New(config Config, dispatcher, workers Runner, maintenance Maintenance, store Pinger) *Supervisor {
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 3 * time.Second
	}
	return &Supervisor{
		config:      config,
		dispatcher:  dispatcher,
		workers:     workers,
		maintenance: maintenance,
		store:       store,
		logger:      zap.NewNop(),
		clock:       time.Now,
	}
}

// WithElector runs the dispatcher and maintenance only while this instance
// holds leadership. Workers run regardless.
func (s *Supervisor) WithElector(e Elector) *Supervisor {
	s.elector = e
	return s
}

// WithAnalytics adds the analytics backend to health reporting.
func (s *Supervisor) WithAnalytics(p Pinger) *Supervisor {
	s.analytics = p
	return s
}

func (s *Supervisor) WithLogger(logger *zap.Logger) *Supervisor {
	s.logger = logger.Named("supervisor")
	return s
}

func (s *Supervisor) WithClock(clock func() time.Time) *Supervisor {
	s.clock = clock
	return s
}

// Run performs startup reconciliation, starts all components and blocks
// until ctx is cancelled or a component fails. Cancellation is not an error.
func (s *Supervisor) Run(ctx context.Context) error {
	// Expired leases left by a previous crash are re-armed before any
	// worker can lease.
	if c := s.maintenance.RunCycle(ctx); c.Err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("startup reconciliation failed", zap.Error(c.Err))
	} else {
		s.logger.Info("startup reconciliation complete",
			zap.Int("requeued", c.Stats.Requeued),
			zap.Int("dead_lettered", c.Stats.DeadLettered),
			zap.Int("queue_depth", c.QueueDepth))
	}

	// Separate contexts so shutdown can be sequenced.
	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	maintCtx, cancelMaint := context.WithCancel(context.Background())
	defer cancelDispatch()
	defer cancelWorkers()
	defer cancelMaint()

	dispatchDone := make(chan struct{})
	workersDone := make(chan struct{})
	maintDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)

	if s.elector != nil {
		close(maintDone)
		g.Go(func() error {
			defer close(dispatchDone)
			s.elector.Run(dispatchCtx, s.leaderDuties)
			return nil
		})
	} else {
		g.Go(func() error {
			defer close(dispatchDone)
			return s.run(dispatchCtx, ComponentDispatcher, s.dispatcher)
		})
		g.Go(func() error {
			defer close(maintDone)
			return s.run(maintCtx, ComponentMaintenance, s.maintenance)
		})
	}
	g.Go(func() error {
		defer close(workersDone)
		return s.run(workerCtx, ComponentWorkers, s.workers)
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")

		cancelDispatch()
		<-dispatchDone
		s.logger.Info("dispatcher stopped")

		cancelWorkers()
		<-workersDone
		s.logger.Info("workers stopped")

		cancelMaint()
		<-maintDone
		s.logger.Info("maintenance stopped")
		return nil
	})

	s.logger.Info("started", zap.Bool("leader_election", s.elector != nil))
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// leaderDuties runs while this instance is leader. Both duties stop when
// leadership is lost.
func (s *Supervisor) leaderDuties(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.run(gctx, ComponentDispatcher, s.dispatcher) })
	g.Go(func() error { return s.run(gctx, ComponentMaintenance, s.maintenance) })
	if err := g.Wait(); err != nil {
		s.logger.Error("leader duties failed", zap.Error(err))
	}
}

// run executes one component. Returning before ctx is cancelled is a failure
// that brings the whole group down.
func (s *Supervisor) run(ctx context.Context, name string, r Runner) error {
	flag := s.flag(name)
	flag.Store(true)
	defer flag.Store(false)

	err := r.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = errors.New("exited unexpectedly")
	}
	return errors.Wrapf(err, "%s", name)
}

func (s *Supervisor) flag(name string) *atomic.Bool {
	switch name {
	case ComponentDispatcher:
		return &s.running[0]
	case ComponentWorkers:
		return &s.running[1]
	default:
		return &s.running[2]
	}
}

// Running reports whether the named component is currently running.
func (s *Supervisor) Running(name string) bool {
	return s.flag(name).Load()
}
