// Package app wires configuration into a running engine. Both binaries
// build on it: scrapesched runs everything, the worker binary runs only
// the worker pool.
package app

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Arun8573/codec-technology/internal/analytics"
	"github.com/Arun8573/codec-technology/internal/api"
	"github.com/Arun8573/codec-technology/internal/circuitbreaker"
	"github.com/Arun8573/codec-technology/internal/config"
	"github.com/Arun8573/codec-technology/internal/dispatcher"
	"github.com/Arun8573/codec-technology/internal/extract"
	"github.com/Arun8573/codec-technology/internal/jobfile"
	"github.com/Arun8573/codec-technology/internal/leaderelection"
	"github.com/Arun8573/codec-technology/internal/metrics"
	"github.com/Arun8573/codec-technology/internal/reconciler"
	"github.com/Arun8573/codec-technology/internal/service"
	"github.com/Arun8573/codec-technology/internal/store"
	"github.com/Arun8573/codec-technology/internal/supervisor"
	"github.com/Arun8573/codec-technology/internal/transport/channel"
	"github.com/Arun8573/codec-technology/internal/worker"
)

// App holds every wired component of one process.
type App struct {
	Config config.Config
	Logger *zap.Logger

	Backend    *store.Backend
	Metrics    metrics.Sink
	Notifier   *channel.Notifier
	Redis      *redis.Client        // nil when REDIS_ADDR is unset
	Analytics  *analytics.RedisSink // nil when REDIS_ADDR is unset
	Extractor  *extract.Extractor
	Service    *service.Service
	Dispatcher *dispatcher.Dispatcher
	Workers    *worker.Pool
	Reconciler *reconciler.Reconciler
	Elector    *leaderelection.Elector // nil unless leader election is enabled
	Supervisor *supervisor.Supervisor

	gatherer prometheus.Gatherer
}

// Option adjusts how New builds the app.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	httpClient *http.Client
}

// WithRegisterer registers metrics somewhere other than the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithHTTPClient overrides the extractor's HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New opens the store and builds all components. Nothing is started.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	backend, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Backend: backend}

	a.gatherer = prometheus.DefaultGatherer
	if g, ok := o.registerer.(prometheus.Gatherer); ok {
		a.gatherer = g
	}
	if cfg.MetricsEnabled {
		a.Metrics = metrics.NewPrometheusSink(o.registerer, logger)
	} else {
		a.Metrics = &metrics.NoopSink{}
	}

	a.Notifier = channel.NewNotifier(1).WithMetrics(a.Metrics)

	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.Analytics = analytics.NewRedisSink(a.Redis, cfg.AnalyticsRetention).WithLogger(logger)
		logger.Info("analytics enabled", zap.String("redis", cfg.RedisAddr))
	}

	a.Extractor = extract.New(extract.Config{
		UserAgent:     cfg.UserAgent,
		RenderURL:     cfg.RenderURL,
		Timeout:       cfg.ExtractTimeout,
		HostRateLimit: cfg.HostRateLimit,
		HostRateBurst: cfg.HostRateBurst,
	}).
		WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)).
		WithMetrics(a.Metrics).
		WithLogger(logger)
	if o.httpClient != nil {
		a.Extractor = a.Extractor.WithHTTPClient(o.httpClient)
	}

	a.Service = service.New(backend).WithNotifier(a.Notifier).WithLogger(logger)

	a.Dispatcher = dispatcher.New(dispatcher.Config{
		PollInterval:    cfg.PollInterval,
		MaxFiresPerPoll: cfg.MaxFiresPerPoll,
	}, backend).
		WithNotifier(a.Notifier).
		WithMetrics(a.Metrics).
		WithLogger(logger)

	a.Workers = worker.New(worker.Config{
		Count:          cfg.WorkerCount,
		LeaseDuration:  cfg.LeaseDuration,
		ExtractTimeout: cfg.ExtractTimeout,
		PollMin:        cfg.LeasePollMin,
		PollMax:        cfg.LeasePollMax,
	}, backend, a.Extractor).
		WithWakeup(a.Notifier).
		WithMetrics(a.Metrics).
		WithLogger(logger)
	if a.Analytics != nil {
		a.Workers = a.Workers.WithAnalytics(a.Analytics)
	}

	a.Reconciler = reconciler.New(reconciler.Config{
		Interval:  cfg.RequeueInterval,
		BatchSize: cfg.RequeueBatchSize,
	}, backend).
		WithNotifier(a.Notifier).
		WithMetrics(a.Metrics).
		WithLogger(logger)

	a.Supervisor = supervisor.New(supervisor.Config{StaleAfter: 4 * cfg.RequeueInterval},
		a.Dispatcher, a.Workers, a.Reconciler, backend).
		WithLogger(logger)
	if a.Analytics != nil {
		a.Supervisor = a.Supervisor.WithAnalytics(a.Analytics)
	}

	if cfg.LeaderElectionEnabled && backend.DB != nil {
		a.Elector = leaderelection.New(backend.DB, cfg.LeaderLockKey,
			cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval).
			WithMetrics(a.Metrics).
			WithLogger(logger)
		a.Supervisor = a.Supervisor.WithElector(a.Elector)
		logger.Info("leader election enabled", zap.Int64("lock_key", cfg.LeaderLockKey))
	}

	return a, nil
}

// SeedJobs creates jobs from JOBS_FILE when it is set.
func (a *App) SeedJobs(ctx context.Context) error {
	if a.Config.JobsFile == "" {
		return nil
	}
	defs, err := jobfile.Load(a.Config.JobsFile)
	if err != nil {
		return err
	}
	res, err := a.Service.Seed(ctx, defs)
	if err != nil {
		return err
	}
	a.Logger.Info("jobs seeded",
		zap.String("file", a.Config.JobsFile),
		zap.Int("created", len(res.Created)),
		zap.Strings("skipped", res.Skipped))
	return nil
}

// Handler returns the control-surface HTTP handler backed by this app.
func (a *App) Handler() http.Handler {
	return api.NewHandler(a.Service).
		WithHealth(a.Supervisor).
		WithLogger(a.Logger)
}

// MetricsServer returns the metrics HTTP server, or nil when metrics are disabled.
func (a *App) MetricsServer() *http.Server {
	if !a.Config.MetricsEnabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(a.Config.MetricsPath, a.MetricsHandler())
	return &http.Server{
		Addr:    ":" + strconv.Itoa(a.Config.MetricsPort),
		Handler: mux,
	}
}

// MetricsHandler serves the registry the app's metrics were registered with.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})
}

// StartServer runs srv in the background. A listen failure is logged and
// delivered on the returned channel, which is closed once the server stops.
func (a *App) StartServer(name string, srv *http.Server) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		a.Logger.Info(name+" server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error(name+" server error", zap.Error(err))
			errc <- errors.Wrapf(err, "%s server", name)
		}
	}()
	return errc
}

// StopServer shuts srv down within HTTP_SHUTDOWN_TIMEOUT.
func (a *App) StopServer(name string, srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.HTTPShutdownTimeout)
	defer cancel()
	a.Logger.Info("stopping " + name + " server")
	if err := srv.Shutdown(ctx); err != nil {
		a.Logger.Warn(name+" server shutdown error", zap.Error(err))
	}
}

// RunWorkers runs startup reconciliation and then only the worker pool.
// Used by the standalone worker binary.
func (a *App) RunWorkers(ctx context.Context) error {
	if c := a.Reconciler.RunCycle(ctx); c.Err != nil && ctx.Err() == nil {
		a.Logger.Warn("startup reconciliation failed", zap.Error(c.Err))
	}
	err := a.Workers.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the store and the Redis client.
func (a *App) Close() error {
	var err error
	if a.Redis != nil {
		err = errors.CombineErrors(err, a.Redis.Close())
	}
	return errors.CombineErrors(err, a.Backend.Close())
}
