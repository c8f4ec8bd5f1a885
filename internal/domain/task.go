package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskPending      TaskStatus = "pending"
	TaskLeased       TaskStatus = "leased"
	TaskSucceeded    TaskStatus = "succeeded"
	TaskFailed       TaskStatus = "failed"
	TaskDeadLettered TaskStatus = "dead_lettered"
)

// Final reports whether no further transition is possible.
// A failed task is final only for its attempt; the requeue pass re-arms it.
func (s TaskStatus) Final() bool {
	return s == TaskSucceeded || s == TaskDeadLettered
}

// AllTaskStatuses lists statuses in lifecycle order.
var AllTaskStatuses = []TaskStatus{TaskPending, TaskLeased, TaskSucceeded, TaskFailed, TaskDeadLettered}

var taskNamespace = uuid.MustParse("6f1d3c8e-2b7a-4e59-9a0c-5d4e8f7b1a23")

// TaskID derives the task id for one (job, fire time) pair. Equal inputs
// always produce the same id, which is what makes enqueueing repeatable.
func TaskID(jobID uuid.UUID, fireAt time.Time) uuid.UUID {
	key := jobID.String() + "|" + strconv.FormatInt(fireAt.UTC().UnixNano(), 10)
	return uuid.NewSHA1(taskNamespace, []byte(key))
}

// Task is one execution attempt sequence of a Job at a specific fire time.
// Target and Mode are copied from the job so the task outlives job deletion.
type Task struct {
	ID     uuid.UUID
	JobID  uuid.UUID
	FireAt time.Time

	Target TargetSpec
	Mode   ExtractionMode

	Status   TaskStatus
	Attempts int

	LeasedBy       string
	LeaseToken     string
	LeaseExpiresAt *time.Time

	AvailableAt time.Time
	LastError   string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// NewTask materializes the pending task for job firing at fireAt.
func NewTask(job Job, fireAt, now time.Time) Task {
	fireAt = fireAt.UTC()
	return Task{
		ID:          TaskID(job.ID, fireAt),
		JobID:       job.ID,
		FireAt:      fireAt,
		Target:      job.Target,
		Mode:        job.Mode,
		Status:      TaskPending,
		AvailableAt: now.UTC(),
		CreatedAt:   now.UTC(),
	}
}

// TaskError is the persisted form of an attempt failure.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Outcome is what a lease holder reports when it acks a task.
type Outcome struct {
	Status TaskStatus
	Err    *TaskError
}

func SucceededOutcome() Outcome {
	return Outcome{Status: TaskSucceeded}
}

// FailedOutcome classifies err and wraps it into a failed outcome.
func FailedOutcome(err error) Outcome {
	return Outcome{
		Status: TaskFailed,
		Err:    &TaskError{Kind: KindOf(err), Message: err.Error()},
	}
}

// TaskFailure is one entry of a task's failure history.
type TaskFailure struct {
	TaskID  uuid.UUID
	Attempt int
	Kind    ErrorKind
	Message string
	At      time.Time
}

// RetryPolicy bounds how often a task is attempted and how long a re-armed
// task waits before it becomes leasable again.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy mirrors three retries after the first attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		Backoff:     time.Minute,
		MaxBackoff:  30 * time.Minute,
	}
}

// Exhausted reports whether a task with the given consumed attempts must be dead-lettered.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Delay returns the wait before attempt number attempts+1, doubling per attempt.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if p.Backoff <= 0 || attempts <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// RequeueStats summarizes one requeue pass.
type RequeueStats struct {
	Requeued     int
	DeadLettered int
}
