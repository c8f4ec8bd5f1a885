package domain

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskID_DeterministicPerFireTime(t *testing.T) {
	job := uuid.New()
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, TaskID(job, at), TaskID(job, at))
	assert.Equal(t, TaskID(job, at), TaskID(job, at.In(time.FixedZone("X", 3600))))
	assert.NotEqual(t, TaskID(job, at), TaskID(job, at.Add(time.Hour)))
	assert.NotEqual(t, TaskID(job, at), TaskID(uuid.New(), at))
}

func TestNewTask_SnapshotsTarget(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 5, 0, time.UTC)
	job := Job{
		ID:     uuid.New(),
		Target: TargetSpec{URLs: []string{"https://example.com"}},
		Mode:   ModeStatic,
	}
	task := NewTask(job, now.Truncate(time.Minute), now)

	assert.Equal(t, TaskPending, task.Status)
	assert.Equal(t, job.Target, task.Target)
	assert.Equal(t, ModeStatic, task.Mode)
	assert.Equal(t, now, task.AvailableAt)
	assert.Zero(t, task.Attempts)
}

func TestJob_FireBase(t *testing.T) {
	created := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	job := Job{CreatedAt: created}
	assert.Equal(t, created, job.FireBase())

	fired := created.Add(30 * time.Minute)
	job.LastFiredAt = &fired
	assert.Equal(t, fired, job.FireBase())
}

func TestJob_FireBase_ImmediateOnce(t *testing.T) {
	created := time.Date(2024, 1, 1, 9, 30, 0, 400, time.UTC)
	at := created.Truncate(time.Second)
	job := Job{CreatedAt: created, Schedule: Schedule{Kind: ScheduleOnce, At: at}}

	base := job.FireBase()
	assert.True(t, base.Before(at), "an unfired immediate one-shot stays due")

	job.LastFiredAt = &at
	assert.Equal(t, at, job.FireBase())

	future := Job{CreatedAt: created, Schedule: Schedule{Kind: ScheduleOnce, At: created.Add(time.Hour)}}
	assert.Equal(t, created, future.FireBase())
}

func TestSchedule_RoundTripsCanonicalForm(t *testing.T) {
	at := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []Schedule{
		{Kind: ScheduleInterval, Interval: Hourly},
		{Kind: ScheduleCron, Expr: "*/15 * * * *", Timezone: "Europe/Berlin"},
		{Kind: ScheduleOnce, At: at},
	}
	for _, s := range cases {
		got, err := DecodeSchedule(s.String(), s.Timezone)
		require.NoError(t, err)
		assert.Equal(t, s, got, s.String())
	}
}

func TestDecodeSchedule_CorruptOnceTime(t *testing.T) {
	for _, spec := range []string{"once:", "once:tomorrow", "once:2030-05-01 12:00"} {
		_, err := DecodeSchedule(spec, "UTC")
		assert.Error(t, err, spec)
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, Backoff: time.Minute, MaxBackoff: 5 * time.Minute}

	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Minute, p.Delay(1))
	assert.Equal(t, 2*time.Minute, p.Delay(2))
	assert.Equal(t, 4*time.Minute, p.Delay(3))
	assert.Equal(t, 5*time.Minute, p.Delay(4))
	assert.Equal(t, 5*time.Minute, p.Delay(40))

	assert.False(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindParse, KindOf(errors.Wrap(NewExtractionError(KindParse, "u", nil), "ctx")))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.True(t, KindNetwork.Transient())
	assert.False(t, KindValidation.Transient())
}

func TestWrapStorage(t *testing.T) {
	require.NoError(t, WrapStorage("op", nil))
	assert.Equal(t, ErrJobNotFound, WrapStorage("get", ErrJobNotFound))

	err := WrapStorage("insert", errors.New("disk full"))
	assert.True(t, IsStorage(err))
	assert.Contains(t, err.Error(), "storage: insert: disk full")
}

func TestFailedOutcome(t *testing.T) {
	o := FailedOutcome(NewExtractionError(KindNetwork, "https://x", errors.New("refused")))
	require.NotNil(t, o.Err)
	assert.Equal(t, TaskFailed, o.Status)
	assert.Equal(t, KindNetwork, o.Err.Kind)
	assert.Contains(t, o.Err.Message, "refused")
}
