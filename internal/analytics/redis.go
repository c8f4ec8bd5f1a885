// Package analytics keeps per-job task outcome counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Arun8573/codec-technology/internal/domain"
)

const keyPrefix = "scrapesched"

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
	window    time.Duration
	logger    *zap.Logger
}

// NewRedisSink counts outcomes in hourly buckets that expire after retention.
func NewRedisSink(client *redis.Client, retention time.Duration) *RedisSink {
	return &RedisSink{
		client:    client,
		retention: retention,
		window:    time.Hour,
		logger:    zap.NewNop(),
	}
}

func (s *RedisSink) WithLogger(logger *zap.Logger) *RedisSink {
	s.logger = logger.Named("analytics")
	return s
}

// WithWindow sets the bucket width. Supported: 1m, 5m, 1h.
func (s *RedisSink) WithWindow(window time.Duration) *RedisSink {
	s.window = window
	return s
}

// Record is best-effort: failures are logged and never reach the caller.
func (s *RedisSink) Record(ctx context.Context, task domain.Task, outcome string) {
	if err := s.Write(ctx, task, outcome); err != nil {
		s.logger.Warn("write failed", zap.Stringer("task_id", task.ID), zap.String("outcome", outcome), zap.Error(err))
	}
}

func (s *RedisSink) Write(ctx context.Context, task domain.Task, outcome string) error {
	key := buildKey(task.JobID, outcome, task.FireAt, s.window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis pipeline")
	}
	return nil
}

func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func buildKey(jobID fmt.Stringer, outcome string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("%s:j:%s:%s:%s", keyPrefix, jobID, outcome, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
