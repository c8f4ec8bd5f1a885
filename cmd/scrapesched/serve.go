package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Arun8573/codec-technology/internal/app"
	"github.com/Arun8573/codec-technology/internal/config"
	"github.com/Arun8573/codec-technology/internal/logging"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher, workers, maintenance and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the worker pool against a shared store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx)
		},
	}
}

// setup loads and validates configuration and builds the process logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return cfg, nil, invalidConfig(err)
	}
	return cfg, logger, nil
}

func runServe(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logConfigWarnings(cfg, logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	if err := a.SeedJobs(ctx); err != nil {
		return invalidConfig(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := a.StartServer("http", httpServer)

	metricsServer := a.MetricsServer()
	var metricsErr <-chan error
	if metricsServer != nil {
		metricsErr = a.StartServer("metrics", metricsServer)
	}

	// A server that cannot listen takes the engine down with it.
	var serverErr error
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case err, ok := <-httpErr:
			if ok {
				serverErr = err
			}
		case err, ok := <-metricsErr:
			if ok {
				serverErr = err
			}
		case <-ctx.Done():
			return
		}
		cancel()
	}()

	logger.Info("started",
		zap.String("version", version),
		zap.String("store", a.Backend.Kind),
		zap.String("http", cfg.HTTPAddr),
		zap.Int("workers", cfg.WorkerCount),
		zap.Duration("poll_interval", cfg.PollInterval))

	runErr := a.Supervisor.Run(ctx)
	logger.Info("engine stopped")

	// HTTP goes last so /health stays reachable while components drain.
	a.StopServer("http", httpServer)
	if metricsServer != nil {
		a.StopServer("metrics", metricsServer)
	}
	<-watchDone

	logger.Info("stopped")
	if runErr != nil {
		return runErr
	}
	return serverErr
}

func runWorker(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	metricsServer := a.MetricsServer()
	if metricsServer != nil {
		a.StartServer("metrics", metricsServer)
		defer a.StopServer("metrics", metricsServer)
	}

	logger.Info("worker started",
		zap.String("version", version),
		zap.String("store", a.Backend.Kind),
		zap.Int("workers", cfg.WorkerCount))
	err = a.RunWorkers(ctx)
	logger.Info("worker stopped")
	return err
}

// logConfigWarnings flags configurations that run but are probably not what
// the operator wants.
func logConfigWarnings(cfg config.Config, logger *zap.Logger) {
	if !cfg.MetricsEnabled {
		logger.Warn("METRICS_ENABLED=false; queue depth and dead letters are only visible via /stats")
	}
	if cfg.StoreBackend == "postgres" && !cfg.LeaderElectionEnabled {
		logger.Warn("STORE_BACKEND=postgres with LEADER_ELECTION_ENABLED=false; every serve replica will dispatch and run maintenance")
	}
	if cfg.StoreBackend == "sqlite" && cfg.LeaderElectionEnabled {
		logger.Warn("LEADER_ELECTION_ENABLED has no effect with STORE_BACKEND=sqlite")
	}
	if cfg.RenderURL == "" {
		logger.Info("RENDER_URL not set; dynamic jobs will fail validation at extraction time")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		logger.Info("CIRCUIT_BREAKER_THRESHOLD=0; per-host circuit breaker disabled")
	}
}
