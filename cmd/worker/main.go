// Command worker runs only the worker pool. Start any number of them against
// the Postgres store that a scrapesched serve process dispatches into.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Arun8573/codec-technology/internal/app"
	"github.com/Arun8573/codec-technology/internal/config"
	"github.com/Arun8573/codec-technology/internal/logging"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx)
	stop()
	os.Exit(code)
}

func run(ctx context.Context) int {
	cfg, err := config.Load()
	if err == nil {
		err = config.Validate(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("worker")

	if cfg.StoreBackend == "sqlite" {
		logger.Warn("STORE_BACKEND=sqlite; a standalone worker only shares work with processes on this host")
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return exitRuntimeError
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	if srv := a.MetricsServer(); srv != nil {
		a.StartServer("metrics", srv)
		defer a.StopServer("metrics", srv)
	}

	logger.Info("started", zap.Int("workers", cfg.WorkerCount), zap.String("store", a.Backend.Kind))
	if err := a.RunWorkers(ctx); err != nil {
		logger.Error("worker pool failed", zap.Error(err))
		return exitRuntimeError
	}
	logger.Info("stopped")
	return exitSuccess
}
