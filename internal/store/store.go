// Package store opens the configured persistence backend.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Arun8573/codec-technology/internal/config"
	"github.com/Arun8573/codec-technology/internal/domain"
	"github.com/Arun8573/codec-technology/internal/store/postgres"
	"github.com/Arun8573/codec-technology/internal/store/sqlite"
)

// Store is the union of the job store, task queue and result store.
type Store interface {
	CreateJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error)
	ListJobs(ctx context.Context, enabledOnly bool) ([]domain.Job, error)
	UpdateLastFired(ctx context.Context, id uuid.UUID, ts time.Time) (bool, error)
	SetJobEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	DeleteJob(ctx context.Context, id uuid.UUID) error

	Enqueue(ctx context.Context, task domain.Task) (bool, error)
	GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error)
	Lease(ctx context.Context, workerID string, leaseDuration time.Duration) (*domain.Task, error)
	Ack(ctx context.Context, taskID uuid.UUID, leaseToken string, outcome domain.Outcome) error
	Complete(ctx context.Context, taskID uuid.UUID, leaseToken string, rec domain.Record) error
	RequeueExpired(ctx context.Context, batch int) (domain.RequeueStats, error)
	ListTaskFailures(ctx context.Context, taskID uuid.UUID) ([]domain.TaskFailure, error)

	UpsertRecord(ctx context.Context, rec domain.Record) error
	GetRecord(ctx context.Context, taskID uuid.UUID) (domain.Record, error)
	ListRecords(ctx context.Context, filter domain.RecordFilter, limit int) ([]domain.Record, error)
	Statistics(ctx context.Context) (domain.Statistics, error)

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// Backend is an opened store plus, for Postgres, the raw pool that leader
// election needs for its dedicated connection.
type Backend struct {
	Store
	Kind string
	DB   *sql.DB
}

// Open connects to the backend selected by cfg.StoreBackend and applies its schema.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Backend, error) {
	policy := domain.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.RetryBackoff,
		MaxBackoff:  cfg.RetryBackoffMax,
	}

	switch cfg.StoreBackend {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.SQLitePath))
		return &Backend{
			Store: s.WithRetryPolicy(policy).WithOpTimeout(cfg.DBOpTimeout),
			Kind:  cfg.StoreBackend,
		}, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "open database")
		}
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, errors.WithHint(errors.Wrap(err, "connect to database"), "check DATABASE_URL")
		}
		s := postgres.New(db).WithRetryPolicy(policy).WithOpTimeout(cfg.DBOpTimeout)
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("postgres store opened",
			zap.Int("max_open", cfg.DBMaxOpenConns),
			zap.Int("max_idle", cfg.DBMaxIdleConns),
			zap.Duration("max_lifetime", cfg.DBConnMaxLifetime),
		)
		return &Backend{Store: s, Kind: cfg.StoreBackend, DB: db}, nil

	default:
		return nil, errors.Newf("unknown store backend %q", cfg.StoreBackend)
	}
}
