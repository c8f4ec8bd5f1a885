// Package service is the control surface shared by the HTTP API and the CLI.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Arun8573/codec-technology/internal/domain"
	"github.com/Arun8573/codec-technology/internal/extract"
	"github.com/Arun8573/codec-technology/internal/jobfile"
	"github.com/Arun8573/codec-technology/internal/trigger"
)

// ErrInvalidRequest marks request errors that are the caller's fault.
var ErrInvalidRequest = errors.New("invalid request")

// Export limits.
const (
	DefaultExportLimit = 1000
	MaxExportLimit     = 100000
)

type Store interface {
	CreateJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error)
	ListJobs(ctx context.Context, enabledOnly bool) ([]domain.Job, error)
	UpdateLastFired(ctx context.Context, id uuid.UUID, ts time.Time) (bool, error)
	SetJobEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	DeleteJob(ctx context.Context, id uuid.UUID) error

	Enqueue(ctx context.Context, task domain.Task) (bool, error)
	GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error)
	ListTaskFailures(ctx context.Context, taskID uuid.UUID) ([]domain.TaskFailure, error)

	GetRecord(ctx context.Context, taskID uuid.UUID) (domain.Record, error)
	ListRecords(ctx context.Context, filter domain.RecordFilter, limit int) ([]domain.Record, error)
	Statistics(ctx context.Context) (domain.Statistics, error)
}

// Notifier wakes idle workers after an ad-hoc enqueue.
type Notifier interface {
	Notify()
}

// ScheduleRequest is the input to ScheduleJob.
type ScheduleRequest struct {
	Name      string
	URLs      []string
	Selectors map[string]string
	Schedule  string // hourly, daily, weekly, cron:<expr>, <expr>, once:<RFC3339>, now
	Timezone  string
	Mode      domain.ExtractionMode // empty means static
	Disabled  bool
}

// Service implements the operator-facing operations over a Store.
type Service struct {
	store    Store
	notifier Notifier // optional, nil = disabled
	logger   *zap.Logger
	clock    func() time.Time
}

func New(store Store) *Service {
	return &Service{
		store:  store,
		logger: zap.NewNop(),
		clock:  time.Now,
	}
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithLogger(logger *zap.Logger) *Service {
	s.logger = logger.Named("service")
	return s
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// ScheduleJob validates req and persists a new job. Schedule and target
// problems are returned synchronously; nothing is stored in that case.
// A "now" schedule enqueues its single task immediately.
func (s *Service) ScheduleJob(ctx context.Context, req ScheduleRequest) (domain.Job, error) {
	now := s.clock().UTC()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Job{}, errors.Wrap(ErrInvalidRequest, "name is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ModeStatic
	}
	target := domain.TargetSpec{URLs: trimAll(req.URLs), Selectors: req.Selectors}
	if err := extract.Validate(target, mode); err != nil {
		return domain.Job{}, err
	}
	sched, err := trigger.Parse(req.Schedule, req.Timezone, now)
	if err != nil {
		return domain.Job{}, err
	}

	job := domain.Job{
		ID:        uuid.New(),
		Name:      name,
		Target:    target,
		Schedule:  sched,
		Mode:      mode,
		Enabled:   !req.Disabled,
		CreatedAt: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return domain.Job{}, errors.Wrap(err, "create job")
	}

	// Enqueue an immediate one-shot without waiting for the next poll. On
	// failure the job stays unfired and the dispatcher enqueues the same task.
	if job.Enabled && sched.Kind == domain.ScheduleOnce && !sched.At.After(job.CreatedAt) {
		if err := s.fireNow(ctx, job, now); err != nil {
			s.logger.Warn("immediate enqueue failed, leaving it to the dispatcher",
				zap.String("job_id", job.ID.String()), zap.Error(err))
		} else {
			fired := sched.At
			job.LastFiredAt = &fired
		}
	}

	s.logger.Info("job scheduled",
		zap.String("job_id", job.ID.String()),
		zap.String("name", job.Name),
		zap.String("schedule", sched.String()),
		zap.String("mode", string(mode)))
	return job, nil
}

func (s *Service) fireNow(ctx context.Context, job domain.Job, now time.Time) error {
	if _, _, err := s.enqueue(ctx, job, job.Schedule.At, now); err != nil {
		return err
	}
	if _, err := s.store.UpdateLastFired(ctx, job.ID, job.Schedule.At); err != nil {
		return errors.Wrap(err, "update last fired")
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, enabledOnly bool) ([]domain.Job, error) {
	return s.store.ListJobs(ctx, enabledOnly)
}

// DisableJob stops future fires. Tasks already queued still run.
func (s *Service) DisableJob(ctx context.Context, id uuid.UUID) error {
	if err := s.store.SetJobEnabled(ctx, id, false); err != nil {
		return err
	}
	s.logger.Info("job disabled", zap.String("job_id", id.String()))
	return nil
}

// EnableJob resumes a disabled job. Fires missed while disabled are caught
// up from the last fire time on the next poll.
func (s *Service) EnableJob(ctx context.Context, id uuid.UUID) error {
	if err := s.store.SetJobEnabled(ctx, id, true); err != nil {
		return err
	}
	s.logger.Info("job enabled", zap.String("job_id", id.String()))
	return nil
}

// DeleteJob removes the job definition. Its tasks and records are kept.
func (s *Service) DeleteJob(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job deleted", zap.String("job_id", id.String()))
	return nil
}

// RunNow enqueues an ad-hoc task for the job fired at the current second.
// Calling it twice within one second yields the same task. The job's
// schedule position is unchanged.
func (s *Service) RunNow(ctx context.Context, id uuid.UUID) (domain.Task, bool, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return domain.Task{}, false, err
	}
	now := s.clock().UTC()
	return s.enqueue(ctx, job, now.Truncate(time.Second), now)
}

func (s *Service) enqueue(ctx context.Context, job domain.Job, fireAt, now time.Time) (domain.Task, bool, error) {
	task := domain.NewTask(job, fireAt, now)
	inserted, err := s.store.Enqueue(ctx, task)
	if err != nil {
		return domain.Task{}, false, errors.Wrap(err, "enqueue")
	}
	if inserted && s.notifier != nil {
		s.notifier.Notify()
	}
	s.logger.Info("task enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("task_id", task.ID.String()),
		zap.Bool("inserted", inserted))
	return task, inserted, nil
}

func (s *Service) GetStatistics(ctx context.Context) (domain.Statistics, error) {
	return s.store.Statistics(ctx)
}

// TaskDetail is a task plus its failure history.
type TaskDetail struct {
	Task     domain.Task
	Failures []domain.TaskFailure
}

func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (TaskDetail, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return TaskDetail{}, err
	}
	failures, err := s.store.ListTaskFailures(ctx, id)
	if err != nil {
		return TaskDetail{}, err
	}
	return TaskDetail{Task: task, Failures: failures}, nil
}

func (s *Service) GetRecord(ctx context.Context, taskID uuid.UUID) (domain.Record, error) {
	return s.store.GetRecord(ctx, taskID)
}

// Export returns records matching filter, oldest first. A non-positive limit
// means DefaultExportLimit.
func (s *Service) Export(ctx context.Context, filter domain.RecordFilter, limit int) ([]domain.Record, error) {
	switch {
	case limit <= 0:
		limit = DefaultExportLimit
	case limit > MaxExportLimit:
		return nil, errors.Wrapf(ErrInvalidRequest, "limit exceeds maximum of %d", MaxExportLimit)
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && !filter.Until.After(filter.Since) {
		return nil, errors.Wrap(ErrInvalidRequest, "until must be after since")
	}
	return s.store.ListRecords(ctx, filter, limit)
}

// SeedResult reports what Seed did.
type SeedResult struct {
	Created []domain.Job
	Skipped []string // names that already existed
}

// Seed creates jobs from file definitions whose names are not already in use.
// It stops at the first invalid definition.
func (s *Service) Seed(ctx context.Context, defs []jobfile.Definition) (SeedResult, error) {
	existing, err := s.store.ListJobs(ctx, false)
	if err != nil {
		return SeedResult{}, err
	}
	names := make(map[string]bool, len(existing))
	for _, j := range existing {
		names[j.Name] = true
	}

	var res SeedResult
	for _, d := range defs {
		if names[d.Name] {
			res.Skipped = append(res.Skipped, d.Name)
			continue
		}
		job, err := s.ScheduleJob(ctx, RequestFromDefinition(d))
		if err != nil {
			return res, errors.Wrapf(err, "job %q", d.Name)
		}
		names[d.Name] = true
		res.Created = append(res.Created, job)
	}
	return res, nil
}

// RequestFromDefinition maps a job file entry onto a ScheduleRequest.
func RequestFromDefinition(d jobfile.Definition) ScheduleRequest {
	return ScheduleRequest{
		Name:      d.Name,
		URLs:      d.URLs,
		Selectors: d.Selectors,
		Schedule:  d.Schedule,
		Timezone:  d.Timezone,
		Mode:      domain.ExtractionMode(d.Mode),
		Disabled:  !d.IsEnabled(),
	}
}

// IsInvalid reports whether err is the caller's fault: a bad request,
// schedule or target.
func IsInvalid(err error) bool {
	if errors.Is(err, ErrInvalidRequest) {
		return true
	}
	var se *domain.ScheduleError
	if errors.As(err, &se) {
		return true
	}
	return domain.KindOf(err) == domain.KindValidation
}
