package postgres

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arun8573/codec-technology/internal/domain"
	"github.com/Arun8573/codec-technology/internal/testutil"
)

var now = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T, policy domain.RetryPolicy) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	clock := testutil.NewFakeClock(now)
	return New(db).WithClock(clock.Now).WithRetryPolicy(policy), mock
}

var taskRowColumns = []string{
	"id", "job_id", "fire_at", "target", "mode", "status", "attempts", "leased_by",
	"lease_token", "lease_expires_at", "available_at", "last_error", "created_at", "completed_at",
}

func TestCreateJob(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())
	job := domain.Job{
		ID:        uuid.New(),
		Name:      "news",
		Target:    domain.TargetSpec{URLs: []string{"https://example.com"}},
		Schedule:  domain.Schedule{Kind: domain.ScheduleInterval, Interval: domain.Hourly, Timezone: "UTC"},
		Mode:      domain.ModeStatic,
		Enabled:   true,
		CreatedAt: now,
	}

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(job.ID.String(), "news", `{"urls":["https://example.com"]}`, "static", "hourly", "UTC", true, now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.CreateJob(testutil.TestContext(t), job))
}

func TestCreateJob_Duplicate(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())

	mock.ExpectExec(`INSERT INTO jobs`).WillReturnError(&pq.Error{Code: "23505"})

	err := s.CreateJob(testutil.TestContext(t), domain.Job{ID: uuid.New(), CreatedAt: now})
	assert.ErrorIs(t, err, domain.ErrJobExists)
}

func TestGetJob_BackendFailure(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())

	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \$1`).WillReturnError(errors.New("connection refused"))

	_, err := s.GetJob(testutil.TestContext(t), uuid.New())
	require.Error(t, err)
	assert.True(t, domain.IsStorage(err))
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestGetJob_NotFound(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())

	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \$1`).WillReturnError(sql.ErrNoRows)

	_, err := s.GetJob(testutil.TestContext(t), uuid.New())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestGetJob_CorruptSchedule(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())
	id := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "target", "mode", "schedule_spec", "timezone", "enabled", "created_at", "last_fired_at",
		}).AddRow(id.String(), "news", []byte(`{"urls":["https://example.com"]}`), "static", "once:not-a-time", "UTC", true, now, nil))

	_, err := s.GetJob(testutil.TestContext(t), id)
	require.Error(t, err)
	assert.True(t, domain.IsStorage(err))
	assert.Contains(t, err.Error(), "decode schedule")
}

func TestUpdateLastFired_StaleIsNoop(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())
	id := uuid.New()

	mock.ExpectExec(`UPDATE jobs\s+SET last_fired_at`).
		WithArgs(id.String(), now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM jobs`).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	advanced, err := s.UpdateLastFired(testutil.TestContext(t), id, now)
	require.NoError(t, err)
	assert.False(t, advanced)
}

func TestEnqueue_Conflict(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())
	job := domain.Job{ID: uuid.New(), Target: domain.TargetSpec{URLs: []string{"https://example.com"}}, Mode: domain.ModeStatic}
	task := domain.NewTask(job, now, now)

	mock.ExpectExec(`(?s)INSERT INTO tasks .* ON CONFLICT \(id\) DO NOTHING`).
		WithArgs(task.ID.String(), job.ID.String(), now, sqlmock.AnyArg(), "static", "pending", 0, now, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := s.Enqueue(testutil.TestContext(t), task)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestLease_Empty(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())

	mock.ExpectQuery(`WITH next AS`).
		WithArgs("w1", sqlmock.AnyArg(), now.Add(time.Minute), now, 4).
		WillReturnRows(sqlmock.NewRows(taskRowColumns))

	got, err := s.Lease(testutil.TestContext(t), "w1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLease_ReturnsTask(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())
	id, jobID := uuid.New(), uuid.New()
	expires := now.Add(time.Minute)

	mock.ExpectQuery(`WITH next AS`).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).AddRow(
			id.String(), jobID.String(), now, []byte(`{"urls":["https://example.com"]}`), "dynamic", "leased", 2,
			"w1", "token-1", expires, now, nil, now, nil,
		))

	got, err := s.Lease(testutil.TestContext(t), "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, jobID, got.JobID)
	assert.Equal(t, domain.ModeDynamic, got.Mode)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "token-1", got.LeaseToken)
	assert.Equal(t, []string{"https://example.com"}, got.Target.URLs)
	require.NotNil(t, got.LeaseExpiresAt)
	assert.True(t, got.LeaseExpiresAt.Equal(expires))
	assert.Nil(t, got.CompletedAt)
}

func TestAck_StaleLease(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())
	id := uuid.New()

	mock.ExpectExec(`SET status = 'succeeded'`).
		WithArgs(id.String(), "old-token", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("leased"))

	err := s.Ack(testutil.TestContext(t), id, "old-token", domain.SucceededOutcome())
	assert.ErrorIs(t, err, domain.ErrStaleLease)
}

func TestAck_FailedRecordsHistory(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())
	id := uuid.New()
	outcome := domain.FailedOutcome(domain.NewExtractionError(domain.KindParse, "https://example.com", errors.New("bad html")))

	mock.ExpectBegin()
	mock.ExpectQuery(`SET status = 'failed'`).
		WithArgs(id.String(), "tok", outcome.Err.Message, now).
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO task_failures`).
		WithArgs(id.String(), 2, "parse", outcome.Err.Message, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Ack(testutil.TestContext(t), id, "tok", outcome))
}

func TestComplete(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())
	id, jobID := uuid.New(), uuid.New()
	rec := domain.Record{
		TaskID:    id,
		JobID:     jobID,
		Target:    "https://example.com",
		Fields:    map[string]string{"title": "Hello"},
		FetchedAt: now,
		RawSize:   42,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`SET status = 'succeeded'`).
		WithArgs(id.String(), "tok", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO records`).
		WithArgs(id.String(), jobID.String(), "https://example.com", `{"title":"Hello"}`, now, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Complete(testutil.TestContext(t), id, "tok", rec))
}

func TestComplete_StaleLeaseWritesNoRecord(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SET status = 'succeeded'`).
		WithArgs(id.String(), "old-token", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectQuery(`SELECT status FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("leased"))

	err := s.Complete(testutil.TestContext(t), id, "old-token", domain.Record{TaskID: id, Fields: map[string]string{}})
	assert.ErrorIs(t, err, domain.ErrStaleLease)
}

func TestRequeueExpired(t *testing.T) {
	s, mock := newMockStore(t, domain.RetryPolicy{MaxAttempts: 4, Backoff: time.Minute, MaxBackoff: time.Hour})
	expired, failed := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, status, attempts`).
		WithArgs(now, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "attempts", "last_error"}).
			AddRow(expired.String(), "leased", 3, "").
			AddRow(failed.String(), "failed", 1, "network error"))
	mock.ExpectExec(`INSERT INTO task_failures`).
		WithArgs(expired.String(), 4, "timeout", "lease expired", now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`SET status = 'dead_lettered'`).
		WithArgs(expired.String(), 4, now, "lease expired").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'pending'`).
		WithArgs(failed.String(), 2, now.Add(2*time.Minute), "network error").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	stats, err := s.RequeueExpired(testutil.TestContext(t), 100)
	require.NoError(t, err)
	assert.Equal(t, domain.RequeueStats{Requeued: 1, DeadLettered: 1}, stats)
}

func TestRequeueExpired_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())
	failed := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, status, attempts`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "attempts", "last_error"}).
			AddRow(failed.String(), "failed", 0, "boom"))
	mock.ExpectExec(`SET status = 'pending'`).WillReturnError(errors.New("serialization failure"))
	mock.ExpectRollback()

	_, err := s.RequeueExpired(testutil.TestContext(t), 10)
	assert.True(t, domain.IsStorage(err))
}

func TestListRecords_Filters(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())
	jobID, taskID := uuid.New(), uuid.New()
	since := now.Add(-time.Hour)

	mock.ExpectQuery(`FROM records`).
		WithArgs(jobID.String(), since, nil, 10).
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "job_id", "target", "fields", "fetched_at", "raw_size"}).
			AddRow(taskID.String(), jobID.String(), "https://example.com", []byte(`{"title":"Hello"}`), now, 42))

	recs, err := s.ListRecords(testutil.TestContext(t), domain.RecordFilter{JobID: &jobID, Since: since}, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Hello", recs[0].Fields["title"])
	assert.Equal(t, int64(42), recs[0].RawSize)
}

func TestStatistics(t *testing.T) {
	s, mock := newMockStore(t, domain.DefaultRetryPolicy())
	jobID, deadID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT COUNT\(\*\), COUNT\(\*\) FILTER`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "count"}).AddRow(3, 2))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM records`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 4).AddRow("leased", 1).AddRow("dead_lettered", 1))
	mock.ExpectQuery(`WHERE status = 'dead_lettered'`).
		WithArgs(deadLetterLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_id", "fire_at", "attempts", "last_error", "completed_at"}).
			AddRow(deadID.String(), jobID.String(), now, 4, "lease expired", now))
	mock.ExpectQuery(`MAX\(completed_at\)`).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "max"}).AddRow(jobID.String(), now))

	st, err := s.Statistics(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Equal(t, 3, st.Jobs)
	assert.Equal(t, 2, st.EnabledJobs)
	assert.Equal(t, 7, st.Records)
	assert.Equal(t, 5, st.QueueDepth)
	require.Len(t, st.DeadLetters, 1)
	assert.Equal(t, deadID, st.DeadLetters[0].TaskID)
	assert.True(t, st.LastSuccess[jobID].Equal(now))
}

func TestIsDuplicateKeyError(t *testing.T) {
	assert.True(t, isDuplicateKeyError(errors.Wrap(&pq.Error{Code: "23505"}, "insert")))
	assert.False(t, isDuplicateKeyError(&pq.Error{Code: "23503"}))
	assert.False(t, isDuplicateKeyError(nil))
	assert.False(t, isDuplicateKeyError(errors.New("duplicate key")))
}
