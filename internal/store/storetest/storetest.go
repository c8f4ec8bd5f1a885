// Package storetest is a behavioral suite shared by every store backend.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arun8573/codec-technology/internal/domain"
	"github.com/Arun8573/codec-technology/internal/testutil"
)

// Backend is the full store surface exercised by the suite.
type Backend interface {
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
}

// Factory returns a fresh, empty backend whose notion of now is clock.
type Factory func(t *testing.T, clock *testutil.FakeClock, policy domain.RetryPolicy) Backend

var epoch = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

const lease = time.Minute

// Run executes the whole suite against the backend produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, newBackend Factory)
	}{
		{"JobLifecycle", testJobLifecycle},
		{"UpdateLastFiredForwardOnly", testUpdateLastFiredForwardOnly},
		{"EnqueueIdempotent", testEnqueueIdempotent},
		{"LeaseFIFO", testLeaseFIFO},
		{"LeaseExclusive", testLeaseExclusive},
		{"ConcurrentLease", testConcurrentLease},
		{"AckSucceeded", testAckSucceeded},
		{"StaleAck", testStaleAck},
		{"AckAfterExpiry", testAckAfterExpiry},
		{"Complete", testComplete},
		{"CompleteAfterTakeover", testCompleteAfterTakeover},
		{"CrashAndRequeue", testCrashAndRequeue},
		{"TimeoutsDeadLetter", testTimeoutsDeadLetter},
		{"FailedAckRetries", testFailedAckRetries},
		{"BackoffDelaysLease", testBackoffDelaysLease},
		{"ExpiredLeaseTakeover", testExpiredLeaseTakeover},
		{"DeleteJobKeepsTasks", testDeleteJobKeepsTasks},
		{"RecordUpsert", testRecordUpsert},
		{"ListRecordsFilter", testListRecordsFilter},
		{"Statistics", testStatistics},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.fn(t, newBackend) })
	}
}

func noBackoff(maxAttempts int) domain.RetryPolicy {
	return domain.RetryPolicy{MaxAttempts: maxAttempts}
}

func newJob(clock *testutil.FakeClock) domain.Job {
	return domain.Job{
		ID:        uuid.New(),
		Name:      "example",
		Target:    domain.TargetSpec{URLs: []string{"https://example.com"}, Selectors: map[string]string{"headline": "h1"}},
		Schedule:  domain.Schedule{Kind: domain.ScheduleInterval, Interval: domain.Hourly, Timezone: "UTC"},
		Mode:      domain.ModeStatic,
		Enabled:   true,
		CreatedAt: clock.Now(),
	}
}

func enqueue(t *testing.T, b Backend, clock *testutil.FakeClock, fireAt time.Time) domain.Task {
	t.Helper()
	job := newJob(clock)
	task := domain.NewTask(job, fireAt, clock.Now())
	inserted, err := b.Enqueue(testutil.TestContext(t), task)
	require.NoError(t, err)
	require.True(t, inserted)
	return task
}

func mustLease(t *testing.T, b Backend, worker string) *domain.Task {
	t.Helper()
	got, err := b.Lease(testutil.TestContext(t), worker, lease)
	require.NoError(t, err)
	require.NotNil(t, got, "expected a leasable task")
	return got
}

func testJobLifecycle(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	job := newJob(clock)
	require.NoError(t, b.CreateJob(ctx, job))

	got, err := b.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Name, got.Name)
	assert.Equal(t, job.Target, got.Target)
	assert.Equal(t, job.Schedule, got.Schedule)
	assert.Equal(t, domain.ModeStatic, got.Mode)
	assert.True(t, got.Enabled)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.LastFiredAt)

	require.NoError(t, b.SetJobEnabled(ctx, job.ID, false))
	enabled, err := b.ListJobs(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, enabled)
	all, err := b.ListJobs(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, b.SetJobEnabled(ctx, job.ID, true))
	enabled, err = b.ListJobs(ctx, true)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)

	require.NoError(t, b.DeleteJob(ctx, job.ID))
	_, err = b.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.ErrorIs(t, b.DeleteJob(ctx, job.ID), domain.ErrJobNotFound)
	assert.ErrorIs(t, b.SetJobEnabled(ctx, job.ID, true), domain.ErrJobNotFound)
}

func testUpdateLastFiredForwardOnly(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	job := newJob(clock)
	require.NoError(t, b.CreateJob(ctx, job))

	eleven := epoch.Add(time.Hour)
	advanced, err := b.UpdateLastFired(ctx, job.ID, eleven)
	require.NoError(t, err)
	assert.True(t, advanced)

	advanced, err = b.UpdateLastFired(ctx, job.ID, eleven)
	require.NoError(t, err)
	assert.False(t, advanced, "repeated update must be a no-op")

	advanced, err = b.UpdateLastFired(ctx, job.ID, epoch)
	require.NoError(t, err)
	assert.False(t, advanced, "stale update must be a no-op")

	got, err := b.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastFiredAt)
	assert.True(t, got.LastFiredAt.Equal(eleven))

	_, err = b.UpdateLastFired(ctx, uuid.New(), eleven)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func testEnqueueIdempotent(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	task := enqueue(t, b, clock, epoch)

	inserted, err := b.Enqueue(ctx, task)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := b.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, got.Status)
	assert.Equal(t, task.Target, got.Target)
	assert.True(t, got.FireAt.Equal(epoch))

	st, err := b.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TaskCounts[domain.TaskPending])
}

func testLeaseFIFO(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))

	none, err := b.Lease(testutil.TestContext(t), "w1", lease)
	require.NoError(t, err)
	assert.Nil(t, none)

	first := enqueue(t, b, clock, epoch.Add(2*time.Hour))
	second := enqueue(t, b, clock, epoch.Add(time.Hour))

	got := mustLease(t, b, "w1")
	assert.Equal(t, first.ID, got.ID, "insertion order, not fire time, decides")
	assert.Equal(t, domain.TaskLeased, got.Status)
	assert.Equal(t, "w1", got.LeasedBy)
	assert.NotEmpty(t, got.LeaseToken)
	require.NotNil(t, got.LeaseExpiresAt)
	assert.True(t, got.LeaseExpiresAt.Equal(epoch.Add(lease)))

	got = mustLease(t, b, "w2")
	assert.Equal(t, second.ID, got.ID)
}

func testLeaseExclusive(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))

	enqueue(t, b, clock, epoch)
	mustLease(t, b, "w1")

	again, err := b.Lease(testutil.TestContext(t), "w2", lease)
	require.NoError(t, err)
	assert.Nil(t, again, "an unexpired lease must not be granted twice")
}

func testConcurrentLease(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	const tasks = 20
	for i := 0; i < tasks; i++ {
		enqueue(t, b, clock, epoch.Add(time.Duration(i)*time.Minute))
	}

	var (
		mu   sync.Mutex
		seen = make(map[uuid.UUID]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				got, err := b.Lease(ctx, worker, lease)
				if err != nil || got == nil {
					return
				}
				mu.Lock()
				seen[got.ID]++
				mu.Unlock()
			}
		}(uuid.NewString())
	}
	wg.Wait()

	assert.Len(t, seen, tasks)
	for id, n := range seen {
		assert.Equal(t, 1, n, "task %s leased %d times", id, n)
	}
}

func testAckSucceeded(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	enqueue(t, b, clock, epoch)
	leased := mustLease(t, b, "w1")

	clock.Advance(10 * time.Second)
	require.NoError(t, b.Ack(ctx, leased.ID, leased.LeaseToken, domain.SucceededOutcome()))

	got, err := b.GetTask(ctx, leased.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(epoch.Add(10*time.Second)))

	stats, err := b.RequeueExpired(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, stats.Requeued+stats.DeadLettered, "succeeded tasks are final")
}

func testStaleAck(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	enqueue(t, b, clock, epoch)
	leased := mustLease(t, b, "w1")

	err := b.Ack(ctx, leased.ID, "not-the-token", domain.SucceededOutcome())
	assert.ErrorIs(t, err, domain.ErrStaleLease)

	require.NoError(t, b.Ack(ctx, leased.ID, leased.LeaseToken, domain.SucceededOutcome()))
	err = b.Ack(ctx, leased.ID, leased.LeaseToken, domain.SucceededOutcome())
	assert.ErrorIs(t, err, domain.ErrStaleLease, "a final task accepts no further ack")

	err = b.Ack(ctx, uuid.New(), "x", domain.SucceededOutcome())
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func testAckAfterExpiry(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	enqueue(t, b, clock, epoch)
	leased := mustLease(t, b, "w1")

	// Expired but not yet requeued: the holder no longer owns the task.
	clock.Advance(lease)
	assert.ErrorIs(t, b.Ack(ctx, leased.ID, leased.LeaseToken, domain.SucceededOutcome()), domain.ErrStaleLease)
	assert.ErrorIs(t, b.Ack(ctx, leased.ID, leased.LeaseToken, domain.FailedOutcome(assert.AnError)), domain.ErrStaleLease)

	got, err := b.GetTask(ctx, leased.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskLeased, got.Status)

	failures, err := b.ListTaskFailures(ctx, leased.ID)
	require.NoError(t, err)
	assert.Empty(t, failures)

	stats, err := b.RequeueExpired(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Requeued)
}

func testComplete(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	task := enqueue(t, b, clock, epoch)
	leased := mustLease(t, b, "w1")
	clock.Advance(5 * time.Second)

	rec := domain.Record{
		TaskID:    leased.ID,
		JobID:     task.JobID,
		Target:    "https://example.com",
		Fields:    map[string]string{"title": "done"},
		FetchedAt: clock.Now(),
		RawSize:   64,
	}
	require.NoError(t, b.Complete(ctx, leased.ID, leased.LeaseToken, rec))

	got, err := b.GetTask(ctx, leased.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempts)

	stored, err := b.GetRecord(ctx, leased.ID)
	require.NoError(t, err)
	assert.Equal(t, "done", stored.Fields["title"])

	rec.Fields = map[string]string{"title": "again"}
	assert.ErrorIs(t, b.Complete(ctx, leased.ID, leased.LeaseToken, rec), domain.ErrStaleLease)
	stored, err = b.GetRecord(ctx, leased.ID)
	require.NoError(t, err)
	assert.Equal(t, "done", stored.Fields["title"], "a rejected completion leaves the record alone")

	missing := uuid.New()
	assert.ErrorIs(t, b.Complete(ctx, missing, "x", domain.Record{TaskID: missing, Fields: map[string]string{}}), domain.ErrTaskNotFound)
}

func testCompleteAfterTakeover(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	task := enqueue(t, b, clock, epoch)
	slow := mustLease(t, b, "w1")

	clock.Advance(lease + time.Second)
	fast := mustLease(t, b, "w2")
	require.Equal(t, slow.ID, fast.ID)

	record := func(title string) domain.Record {
		return domain.Record{
			TaskID:    task.ID,
			JobID:     task.JobID,
			Target:    "https://example.com",
			Fields:    map[string]string{"title": title},
			FetchedAt: clock.Now(),
		}
	}

	// w1 finishes after losing its lease; its result must not land.
	assert.ErrorIs(t, b.Complete(ctx, task.ID, slow.LeaseToken, record("slow")), domain.ErrStaleLease)
	_, err := b.GetRecord(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	require.NoError(t, b.Complete(ctx, task.ID, fast.LeaseToken, record("fast")))
	got, err := b.GetRecord(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "fast", got.Fields["title"])
}

func testCrashAndRequeue(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	task := enqueue(t, b, clock, epoch)
	crashed := mustLease(t, b, "w1")

	// w1 dies without acking; nothing moves before the lease expires.
	stats, err := b.RequeueExpired(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, stats.Requeued)

	clock.Advance(lease + time.Second)
	stats, err = b.RequeueExpired(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Requeued)

	got, err := b.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	again := mustLease(t, b, "w2")
	assert.Equal(t, task.ID, again.ID)
	assert.NotEqual(t, crashed.LeaseToken, again.LeaseToken)

	assert.ErrorIs(t, b.Ack(ctx, task.ID, crashed.LeaseToken, domain.SucceededOutcome()), domain.ErrStaleLease)
	require.NoError(t, b.Ack(ctx, task.ID, again.LeaseToken, domain.SucceededOutcome()))

	failures, err := b.ListTaskFailures(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, domain.KindTimeout, failures[0].Kind)
	assert.Equal(t, 1, failures[0].Attempt)
}

func testTimeoutsDeadLetter(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(5))
	ctx := testutil.TestContext(t)

	task := enqueue(t, b, clock, epoch)
	for i := 0; i < 5; i++ {
		mustLease(t, b, "w1")
		clock.Advance(lease + time.Second)
		_, err := b.RequeueExpired(ctx, 100)
		require.NoError(t, err)
	}

	got, err := b.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskDeadLettered, got.Status)
	assert.Equal(t, 5, got.Attempts)
	assert.NotNil(t, got.CompletedAt)

	none, err := b.Lease(ctx, "w1", lease)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = b.GetRecord(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	failures, err := b.ListTaskFailures(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, failures, 5)

	st, err := b.Statistics(ctx)
	require.NoError(t, err)
	require.Len(t, st.DeadLetters, 1)
	assert.Equal(t, task.ID, st.DeadLetters[0].TaskID)
	assert.Equal(t, 5, st.DeadLetters[0].Attempts)
}

func testFailedAckRetries(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(2))
	ctx := testutil.TestContext(t)

	task := enqueue(t, b, clock, epoch)
	fail := domain.FailedOutcome(domain.NewExtractionError(domain.KindNetwork, "https://example.com", assert.AnError))

	leased := mustLease(t, b, "w1")
	require.NoError(t, b.Ack(ctx, leased.ID, leased.LeaseToken, fail))

	got, err := b.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, got.Status)
	assert.Contains(t, got.LastError, "network error")

	stats, err := b.RequeueExpired(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Requeued)

	leased = mustLease(t, b, "w1")
	assert.Equal(t, 1, leased.Attempts)
	require.NoError(t, b.Ack(ctx, leased.ID, leased.LeaseToken, fail))

	stats, err = b.RequeueExpired(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadLettered)

	got, err = b.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskDeadLettered, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Contains(t, got.LastError, "network error")

	failures, err := b.ListTaskFailures(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, domain.KindNetwork, failures[0].Kind)
	assert.Equal(t, 1, failures[0].Attempt)
	assert.Equal(t, 2, failures[1].Attempt)
}

func testBackoffDelaysLease(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, domain.RetryPolicy{MaxAttempts: 3, Backoff: time.Minute, MaxBackoff: time.Hour})
	ctx := testutil.TestContext(t)

	task := enqueue(t, b, clock, epoch)
	leased := mustLease(t, b, "w1")
	require.NoError(t, b.Ack(ctx, leased.ID, leased.LeaseToken, domain.FailedOutcome(assert.AnError)))
	_, err := b.RequeueExpired(ctx, 100)
	require.NoError(t, err)

	got, err := b.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.AvailableAt.Equal(epoch.Add(time.Minute)))

	none, err := b.Lease(ctx, "w1", lease)
	require.NoError(t, err)
	assert.Nil(t, none, "task must wait out its backoff")

	clock.Advance(time.Minute)
	mustLease(t, b, "w1")
}

func testExpiredLeaseTakeover(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	enqueue(t, b, clock, epoch)
	first := mustLease(t, b, "w1")

	clock.Advance(lease + time.Second)
	second := mustLease(t, b, "w2")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, second.Attempts, "taking over consumes the expired attempt")

	assert.ErrorIs(t, b.Ack(ctx, first.ID, first.LeaseToken, domain.SucceededOutcome()), domain.ErrStaleLease)
	require.NoError(t, b.Ack(ctx, second.ID, second.LeaseToken, domain.SucceededOutcome()))
}

func testDeleteJobKeepsTasks(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	job := newJob(clock)
	require.NoError(t, b.CreateJob(ctx, job))
	task := domain.NewTask(job, epoch, clock.Now())
	_, err := b.Enqueue(ctx, task)
	require.NoError(t, err)

	require.NoError(t, b.DeleteJob(ctx, job.ID))

	leased := mustLease(t, b, "w1")
	assert.Equal(t, task.ID, leased.ID)
	assert.Equal(t, job.Target, leased.Target)
}

func testRecordUpsert(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	rec := domain.Record{
		TaskID:    uuid.New(),
		JobID:     uuid.New(),
		Target:    "https://example.com",
		Fields:    map[string]string{"title": "first"},
		FetchedAt: epoch,
		RawSize:   512,
	}
	require.NoError(t, b.UpsertRecord(ctx, rec))

	rec.Fields = map[string]string{"title": "second"}
	rec.FetchedAt = epoch.Add(time.Minute)
	require.NoError(t, b.UpsertRecord(ctx, rec))
	require.NoError(t, b.UpsertRecord(ctx, rec))

	got, err := b.GetRecord(ctx, rec.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Fields["title"])
	assert.True(t, got.FetchedAt.Equal(rec.FetchedAt))
	assert.Equal(t, int64(512), got.RawSize)

	all, err := b.ListRecords(ctx, domain.RecordFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testListRecordsFilter(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	jobA, jobB := uuid.New(), uuid.New()
	for i, job := range []uuid.UUID{jobA, jobA, jobB} {
		require.NoError(t, b.UpsertRecord(ctx, domain.Record{
			TaskID:    uuid.New(),
			JobID:     job,
			Target:    "https://example.com",
			Fields:    map[string]string{"n": string(rune('a' + i))},
			FetchedAt: epoch.Add(time.Duration(i) * time.Hour),
		}))
	}

	byJob, err := b.ListRecords(ctx, domain.RecordFilter{JobID: &jobA}, 0)
	require.NoError(t, err)
	assert.Len(t, byJob, 2)

	since, err := b.ListRecords(ctx, domain.RecordFilter{Since: epoch.Add(time.Hour)}, 0)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "b", since[0].Fields["n"])

	window, err := b.ListRecords(ctx, domain.RecordFilter{Since: epoch, Until: epoch.Add(time.Hour)}, 0)
	require.NoError(t, err)
	assert.Len(t, window, 1)

	limited, err := b.ListRecords(ctx, domain.RecordFilter{}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testStatistics(t *testing.T, newBackend Factory) {
	clock := testutil.NewFakeClock(epoch)
	b := newBackend(t, clock, noBackoff(3))
	ctx := testutil.TestContext(t)

	job := newJob(clock)
	require.NoError(t, b.CreateJob(ctx, job))
	disabled := newJob(clock)
	disabled.Enabled = false
	require.NoError(t, b.CreateJob(ctx, disabled))

	for i := 0; i < 3; i++ {
		_, err := b.Enqueue(ctx, domain.NewTask(job, epoch.Add(time.Duration(i)*time.Hour), clock.Now()))
		require.NoError(t, err)
	}
	leased := mustLease(t, b, "w1")
	clock.Advance(time.Second)
	require.NoError(t, b.Ack(ctx, leased.ID, leased.LeaseToken, domain.SucceededOutcome()))
	mustLease(t, b, "w1")
	require.NoError(t, b.UpsertRecord(ctx, domain.Record{
		TaskID: leased.ID, JobID: job.ID, Target: "https://example.com",
		Fields: map[string]string{}, FetchedAt: clock.Now(),
	}))

	st, err := b.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Jobs)
	assert.Equal(t, 1, st.EnabledJobs)
	assert.Equal(t, 1, st.Records)
	assert.Equal(t, 1, st.TaskCounts[domain.TaskSucceeded])
	assert.Equal(t, 1, st.TaskCounts[domain.TaskLeased])
	assert.Equal(t, 1, st.TaskCounts[domain.TaskPending])
	assert.Equal(t, 2, st.QueueDepth)
	assert.Empty(t, st.DeadLetters)
	assert.True(t, st.LastSuccess[job.ID].Equal(epoch.Add(time.Second)))
}
