package reconciler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arun8573/codec-technology/internal/domain"
	"github.com/Arun8573/codec-technology/internal/store/sqlite"
	"github.com/Arun8573/codec-technology/internal/testutil"
)

func TestReconciler_CrashedWorkerTaskBecomesLeasableAgain(t *testing.T) {
	ctx := testutil.TestContext(t)
	clock := testutil.NewFakeClock(time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC))

	s, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	s.WithClock(clock.Now).WithRetryPolicy(domain.RetryPolicy{MaxAttempts: 4})

	job := domain.Job{
		ID:        uuid.New(),
		Target:    domain.TargetSpec{URLs: []string{"https://example.com"}},
		Mode:      domain.ModeStatic,
		CreatedAt: clock.Now(),
	}
	task := domain.NewTask(job, clock.Now(), clock.Now())
	_, err = s.Enqueue(ctx, task)
	require.NoError(t, err)

	leased, err := s.Lease(ctx, "worker-a", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, leased)

	// worker-a crashes; nothing acks.
	recon := New(Config{BatchSize: 10}, s).WithClock(clock.Now)

	c := recon.RunCycle(ctx)
	require.NoError(t, c.Err)
	assert.Zero(t, c.Stats.Requeued, "an unexpired lease must not be requeued")

	clock.Advance(31 * time.Second)
	c = recon.RunCycle(ctx)
	require.NoError(t, c.Err)
	assert.Equal(t, 1, c.Stats.Requeued)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, got.Status)
	assert.Equal(t, leased.Attempts+1, got.Attempts)

	again, err := s.Lease(ctx, "worker-b", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, task.ID, again.ID)
	assert.NotEqual(t, leased.LeaseToken, again.LeaseToken)
}

func TestReconciler_RepeatedTimeoutsDeadLetter(t *testing.T) {
	ctx := testutil.TestContext(t)
	clock := testutil.NewFakeClock(time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC))

	s, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	s.WithClock(clock.Now).WithRetryPolicy(domain.RetryPolicy{MaxAttempts: 5})

	job := domain.Job{ID: uuid.New(), Target: domain.TargetSpec{URLs: []string{"https://slow.example"}}, Mode: domain.ModeStatic}
	task := domain.NewTask(job, clock.Now(), clock.Now())
	_, err = s.Enqueue(ctx, task)
	require.NoError(t, err)

	recon := New(Config{BatchSize: 10}, s).WithClock(clock.Now)
	for i := 0; i < 5; i++ {
		leased, err := s.Lease(ctx, "w", 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, leased, "attempt %d", i+1)
		clock.Advance(31 * time.Second)
		require.NoError(t, recon.RunCycle(ctx).Err)
	}

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskDeadLettered, got.Status)
	assert.Equal(t, 5, got.Attempts)

	_, err = s.GetRecord(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	last, _ := recon.LastCycle()
	assert.Equal(t, 1, last.DeadLetters)
	assert.Zero(t, last.QueueDepth)
}
