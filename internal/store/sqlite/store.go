// Package sqlite is the embedded, single-file backend for jobs, the task
// queue and extraction records. Timestamps are stored as UTC Unix nanoseconds.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Arun8573/codec-technology/internal/domain"
)

//go:embed schema.sql
var schema string

const deadLetterLimit = 50

// Store implements the job store, task queue and result store on SQLite.
type Store struct {
	db        *sql.DB
	clock     func() time.Time
	policy    domain.RetryPolicy
	opTimeout time.Duration
}

// Open opens (creating if needed) the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "create sqlite directory")
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One connection serializes writers; lease relies on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "apply %q", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return New(db), nil
}

// New wraps an already-migrated database.
func New(db *sql.DB) *Store {
	return &Store{
		db:     db,
		clock:  time.Now,
		policy: domain.DefaultRetryPolicy(),
	}
}

func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) WithRetryPolicy(p domain.RetryPolicy) *Store {
	s.policy = p
	return s
}

// WithOpTimeout bounds every store operation; zero leaves the caller's context alone.
func (s *Store) WithOpTimeout(d time.Duration) *Store {
	s.opTimeout = d
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return domain.WrapStorage("ping", s.db.PingContext(ctx))
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

// --- jobs ---

func (s *Store) CreateJob(ctx context.Context, job domain.Job) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	target, err := json.Marshal(job.Target)
	if err != nil {
		return errors.Wrap(err, "encode target")
	}
	_, err = s.db.ExecContext(ctx, queryInsertJob,
		job.ID,
		job.Name,
		string(target),
		string(job.Mode),
		job.Schedule.String(),
		job.Schedule.Timezone,
		job.Enabled,
		nanos(job.CreatedAt),
		nullNanos(job.LastFiredAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return domain.ErrJobExists
	}
	return domain.WrapStorage("create job", err)
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJob, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, domain.WrapStorage("get job", err)
}

func (s *Store) ListJobs(ctx context.Context, enabledOnly bool) ([]domain.Job, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListJobs, enabledOnly)
	if err != nil {
		return nil, domain.WrapStorage("list jobs", err)
	}
	defer rows.Close()

	var result []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, domain.WrapStorage("list jobs", err)
		}
		result = append(result, job)
	}
	return result, domain.WrapStorage("list jobs", rows.Err())
}

// UpdateLastFired advances last_fired_at to ts. It reports false without
// error when the stored value is already at or past ts.
func (s *Store) UpdateLastFired(ctx context.Context, id uuid.UUID, ts time.Time) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryUpdateLastFired, id, nanos(ts))
	if err != nil {
		return false, domain.WrapStorage("update last fired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.WrapStorage("update last fired", err)
	}
	if n == 0 {
		return false, s.jobExists(ctx, id)
	}
	return true, nil
}

func (s *Store) SetJobEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, querySetJobEnabled, enabled, id)
	return s.requireRow("set job enabled", res, err, domain.ErrJobNotFound)
}

// DeleteJob removes the job only; its tasks and records stay.
func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryDeleteJob, id)
	return s.requireRow("delete job", res, err, domain.ErrJobNotFound)
}

func (s *Store) jobExists(ctx context.Context, id uuid.UUID) error {
	var one int
	err := s.db.QueryRowContext(ctx, queryJobExists, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrJobNotFound
	}
	return domain.WrapStorage("get job", err)
}

func (s *Store) requireRow(op string, res sql.Result, err error, notFound error) error {
	if err != nil {
		return domain.WrapStorage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.WrapStorage(op, err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// --- task queue ---

// Enqueue inserts task unless a task with the same id exists.
func (s *Store) Enqueue(ctx context.Context, task domain.Task) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	target, err := json.Marshal(task.Target)
	if err != nil {
		return false, errors.Wrap(err, "encode target")
	}
	if task.Status == "" {
		task.Status = domain.TaskPending
	}
	res, err := s.db.ExecContext(ctx, queryEnqueueTask,
		task.ID,
		task.JobID,
		nanos(task.FireAt),
		string(target),
		string(task.Mode),
		string(task.Status),
		task.Attempts,
		nanos(task.AvailableAt),
		nanos(task.CreatedAt),
	)
	if err != nil {
		return false, domain.WrapStorage("enqueue", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.WrapStorage("enqueue", err)
	}
	return n == 1, nil
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	task, err := scanTask(s.db.QueryRowContext(ctx, queryGetTask, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return task, domain.WrapStorage("get task", err)
}

// Lease grants workerID the oldest eligible task, or returns nil when none is eligible.
func (s *Store) Lease(ctx context.Context, workerID string, leaseDuration time.Duration) (*domain.Task, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := s.now()
	task, err := scanTask(s.db.QueryRowContext(ctx, queryLeaseTask,
		workerID,
		uuid.NewString(),
		nanos(now.Add(leaseDuration)),
		nanos(now),
		s.policy.MaxAttempts,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapStorage("lease", err)
	}
	return &task, nil
}

// Ack records the outcome of the attempt identified by leaseToken.
// A token that no longer owns the task yields domain.ErrStaleLease.
func (s *Store) Ack(ctx context.Context, taskID uuid.UUID, leaseToken string, outcome domain.Outcome) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := s.now()
	switch outcome.Status {
	case domain.TaskSucceeded:
		res, err := s.db.ExecContext(ctx, queryAckSucceeded, taskID, leaseToken, nanos(now))
		if err != nil {
			return domain.WrapStorage("ack", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return domain.WrapStorage("ack", err)
		}
		if n == 0 {
			return s.staleOrMissing(ctx, taskID)
		}
		return nil

	case domain.TaskFailed:
		terr := outcome.Err
		if terr == nil {
			terr = &domain.TaskError{Kind: domain.KindInternal, Message: "failed without error"}
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return domain.WrapStorage("ack", err)
		}
		defer tx.Rollback()

		var attempts int
		err = tx.QueryRowContext(ctx, queryAckFailed, taskID, leaseToken, terr.Message, nanos(now)).Scan(&attempts)
		if errors.Is(err, sql.ErrNoRows) {
			_ = tx.Rollback()
			return s.staleOrMissing(ctx, taskID)
		}
		if err != nil {
			return domain.WrapStorage("ack", err)
		}
		if _, err := tx.ExecContext(ctx, queryInsertFailure,
			taskID, attempts+1, string(terr.Kind), terr.Message, nanos(now)); err != nil {
			return domain.WrapStorage("ack", err)
		}
		return domain.WrapStorage("ack", tx.Commit())

	default:
		return errors.Newf("ack: unsupported outcome status %q", outcome.Status)
	}
}

// Complete stores rec and marks the task succeeded in one transaction.
// Nothing is written unless leaseToken still holds an unexpired lease.
func (s *Store) Complete(ctx context.Context, taskID uuid.UUID, leaseToken string, rec domain.Record) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return errors.Wrap(err, "encode fields")
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapStorage("complete", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, queryAckSucceeded, taskID, leaseToken, nanos(now))
	if err != nil {
		return domain.WrapStorage("complete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.WrapStorage("complete", err)
	}
	if n == 0 {
		_ = tx.Rollback()
		return s.staleOrMissing(ctx, taskID)
	}
	if _, err := tx.ExecContext(ctx, queryUpsertRecord,
		rec.TaskID, rec.JobID, rec.Target, string(fields), nanos(rec.FetchedAt), rec.RawSize); err != nil {
		return domain.WrapStorage("complete", err)
	}
	return domain.WrapStorage("complete", tx.Commit())
}

func (s *Store) staleOrMissing(ctx context.Context, taskID uuid.UUID) error {
	var status string
	err := s.db.QueryRowContext(ctx, queryGetTaskStatus, taskID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrTaskNotFound
	}
	if err != nil {
		return domain.WrapStorage("ack", err)
	}
	return domain.ErrStaleLease
}

type requeueCandidate struct {
	id        uuid.UUID
	status    domain.TaskStatus
	attempts  int
	lastError string
}

// RequeueExpired re-arms expired leases and failed attempts, up to batch tasks.
// Each consumes one attempt; tasks at the retry ceiling are dead-lettered.
func (s *Store) RequeueExpired(ctx context.Context, batch int) (domain.RequeueStats, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var stats domain.RequeueStats
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, domain.WrapStorage("requeue", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, querySelectRequeueable, nanos(now), batch)
	if err != nil {
		return stats, domain.WrapStorage("requeue", err)
	}
	var candidates []requeueCandidate
	for rows.Next() {
		var c requeueCandidate
		var status string
		if err := rows.Scan(&c.id, &status, &c.attempts, &c.lastError); err != nil {
			rows.Close()
			return stats, domain.WrapStorage("requeue", err)
		}
		c.status = domain.TaskStatus(status)
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, domain.WrapStorage("requeue", err)
	}

	for _, c := range candidates {
		attempts := c.attempts + 1
		if c.status == domain.TaskLeased {
			c.lastError = "lease expired"
			if _, err := tx.ExecContext(ctx, queryInsertFailure,
				c.id, attempts, string(domain.KindTimeout), c.lastError, nanos(now)); err != nil {
				return domain.RequeueStats{}, domain.WrapStorage("requeue", err)
			}
		}
		if s.policy.Exhausted(attempts) {
			_, err = tx.ExecContext(ctx, queryDeadLetterTask, c.id, attempts, nanos(now), c.lastError)
			stats.DeadLettered++
		} else {
			available := now.Add(s.policy.Delay(attempts))
			_, err = tx.ExecContext(ctx, queryRequeueTask, c.id, attempts, nanos(available), c.lastError)
			stats.Requeued++
		}
		if err != nil {
			return domain.RequeueStats{}, domain.WrapStorage("requeue", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.RequeueStats{}, domain.WrapStorage("requeue", err)
	}
	return stats, nil
}

func (s *Store) ListTaskFailures(ctx context.Context, taskID uuid.UUID) ([]domain.TaskFailure, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListFailures, taskID)
	if err != nil {
		return nil, domain.WrapStorage("list failures", err)
	}
	defer rows.Close()

	var result []domain.TaskFailure
	for rows.Next() {
		var f domain.TaskFailure
		var kind string
		var at int64
		if err := rows.Scan(&f.TaskID, &f.Attempt, &kind, &f.Message, &at); err != nil {
			return nil, domain.WrapStorage("list failures", err)
		}
		f.Kind = domain.ErrorKind(kind)
		f.At = fromNanos(at)
		result = append(result, f)
	}
	return result, domain.WrapStorage("list failures", rows.Err())
}

// --- records ---

// UpsertRecord stores rec, replacing any record with the same task id.
func (s *Store) UpsertRecord(ctx context.Context, rec domain.Record) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return errors.Wrap(err, "encode fields")
	}
	_, err = s.db.ExecContext(ctx, queryUpsertRecord,
		rec.TaskID, rec.JobID, rec.Target, string(fields), nanos(rec.FetchedAt), rec.RawSize)
	return domain.WrapStorage("upsert record", err)
}

func (s *Store) GetRecord(ctx context.Context, taskID uuid.UUID) (domain.Record, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rec, err := scanRecord(s.db.QueryRowContext(ctx, queryGetRecord, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, domain.ErrRecordNotFound
	}
	return rec, domain.WrapStorage("get record", err)
}

// ListRecords returns records matching filter ordered by fetch time; limit <= 0 means no limit.
func (s *Store) ListRecords(ctx context.Context, filter domain.RecordFilter, limit int) ([]domain.Record, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var jobID, since, until any
	if filter.JobID != nil {
		jobID = filter.JobID.String()
	}
	if !filter.Since.IsZero() {
		since = nanos(filter.Since)
	}
	if !filter.Until.IsZero() {
		until = nanos(filter.Until)
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, queryListRecords, jobID, since, until, limit)
	if err != nil {
		return nil, domain.WrapStorage("list records", err)
	}
	defer rows.Close()

	var result []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, domain.WrapStorage("list records", err)
		}
		result = append(result, rec)
	}
	return result, domain.WrapStorage("list records", rows.Err())
}

// Statistics aggregates job, queue and record counts.
func (s *Store) Statistics(ctx context.Context) (domain.Statistics, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	st := domain.Statistics{
		TaskCounts:  make(map[domain.TaskStatus]int),
		LastSuccess: make(map[uuid.UUID]time.Time),
	}
	if err := s.db.QueryRowContext(ctx, queryJobCounts).Scan(&st.Jobs, &st.EnabledJobs); err != nil {
		return st, domain.WrapStorage("statistics", err)
	}
	if err := s.db.QueryRowContext(ctx, queryRecordCount).Scan(&st.Records); err != nil {
		return st, domain.WrapStorage("statistics", err)
	}

	rows, err := s.db.QueryContext(ctx, queryTaskCounts)
	if err != nil {
		return st, domain.WrapStorage("statistics", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return st, domain.WrapStorage("statistics", err)
		}
		st.TaskCounts[domain.TaskStatus(status)] = n
	}
	rows.Close()
	st.QueueDepth = st.TaskCounts[domain.TaskPending] + st.TaskCounts[domain.TaskLeased]

	rows, err = s.db.QueryContext(ctx, queryDeadLetters, deadLetterLimit)
	if err != nil {
		return st, domain.WrapStorage("statistics", err)
	}
	for rows.Next() {
		var dl domain.DeadLetter
		var fireAt int64
		var completed sql.NullInt64
		if err := rows.Scan(&dl.TaskID, &dl.JobID, &fireAt, &dl.Attempts, &dl.LastError, &completed); err != nil {
			rows.Close()
			return st, domain.WrapStorage("statistics", err)
		}
		dl.FireAt = fromNanos(fireAt)
		if completed.Valid {
			dl.CompletedAt = fromNanos(completed.Int64)
		}
		st.DeadLetters = append(st.DeadLetters, dl)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, queryLastSuccess)
	if err != nil {
		return st, domain.WrapStorage("statistics", err)
	}
	defer rows.Close()
	for rows.Next() {
		var jobID uuid.UUID
		var at sql.NullInt64
		if err := rows.Scan(&jobID, &at); err != nil {
			return st, domain.WrapStorage("statistics", err)
		}
		if at.Valid {
			st.LastSuccess[jobID] = fromNanos(at.Int64)
		}
	}
	return st, domain.WrapStorage("statistics", rows.Err())
}

// --- scanning ---

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (domain.Job, error) {
	var (
		job       domain.Job
		target    string
		mode      string
		spec, tz  string
		created   int64
		lastFired sql.NullInt64
	)
	if err := row.Scan(&job.ID, &job.Name, &target, &mode, &spec, &tz, &job.Enabled, &created, &lastFired); err != nil {
		return domain.Job{}, err
	}
	if err := json.Unmarshal([]byte(target), &job.Target); err != nil {
		return domain.Job{}, errors.Wrapf(err, "decode target of job %s", job.ID)
	}
	job.Mode = domain.ExtractionMode(mode)
	sched, err := domain.DecodeSchedule(spec, tz)
	if err != nil {
		return domain.Job{}, errors.Wrapf(err, "decode schedule of job %s", job.ID)
	}
	job.Schedule = sched
	job.CreatedAt = fromNanos(created)
	job.LastFiredAt = timePtr(lastFired)
	return job, nil
}

func scanTask(row scanner) (domain.Task, error) {
	var (
		t                   domain.Task
		target, mode        string
		status              string
		leasedBy, token     sql.NullString
		lastError           sql.NullString
		fireAt, available   int64
		created             int64
		leaseExp, completed sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.JobID, &fireAt, &target, &mode, &status, &t.Attempts,
		&leasedBy, &token, &leaseExp, &available, &lastError, &created, &completed)
	if err != nil {
		return domain.Task{}, err
	}
	if err := json.Unmarshal([]byte(target), &t.Target); err != nil {
		return domain.Task{}, errors.Wrapf(err, "decode target of task %s", t.ID)
	}
	t.FireAt = fromNanos(fireAt)
	t.Mode = domain.ExtractionMode(mode)
	t.Status = domain.TaskStatus(status)
	t.LeasedBy = leasedBy.String
	t.LeaseToken = token.String
	t.LeaseExpiresAt = timePtr(leaseExp)
	t.AvailableAt = fromNanos(available)
	t.LastError = lastError.String
	t.CreatedAt = fromNanos(created)
	t.CompletedAt = timePtr(completed)
	return t, nil
}

func scanRecord(row scanner) (domain.Record, error) {
	var (
		rec     domain.Record
		fields  string
		fetched int64
	)
	if err := row.Scan(&rec.TaskID, &rec.JobID, &rec.Target, &fields, &fetched, &rec.RawSize); err != nil {
		return domain.Record{}, err
	}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return domain.Record{}, errors.Wrapf(err, "decode fields of record %s", rec.TaskID)
	}
	rec.FetchedAt = fromNanos(fetched)
	return rec, nil
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return nanos(*t)
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
