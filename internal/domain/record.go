package domain

import (
	"time"

	"github.com/google/uuid"
)

// Record is the structured result of a successful extraction, keyed by task id.
type Record struct {
	TaskID    uuid.UUID
	JobID     uuid.UUID
	Target    string
	Fields    map[string]string
	FetchedAt time.Time
	RawSize   int64
}

type RecordFilter struct {
	JobID *uuid.UUID
	Since time.Time // inclusive, zero means unbounded
	Until time.Time // exclusive, zero means unbounded
}

// DeadLetter summarizes a task that exhausted its attempts.
type DeadLetter struct {
	TaskID      uuid.UUID
	JobID       uuid.UUID
	FireAt      time.Time
	Attempts    int
	LastError   string
	CompletedAt time.Time
}

// Statistics is the aggregate view exposed to operators.
type Statistics struct {
	Jobs        int
	EnabledJobs int
	Records     int

	TaskCounts map[TaskStatus]int
	QueueDepth int // pending + leased

	DeadLetters []DeadLetter
	LastSuccess map[uuid.UUID]time.Time
}
