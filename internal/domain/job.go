package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExtractionMode string

const (
	ModeStatic  ExtractionMode = "static"
	ModeDynamic ExtractionMode = "dynamic"
)

// Valid reports whether m is a known extraction mode.
func (m ExtractionMode) Valid() bool {
	return m == ModeStatic || m == ModeDynamic
}

// TargetSpec describes what to extract: one or more URLs plus optional named
// selectors whose text is captured as record fields.
type TargetSpec struct {
	URLs      []string          `json:"urls" yaml:"urls"`
	Selectors map[string]string `json:"selectors,omitempty" yaml:"selectors,omitempty"`
}

// Job is a named, schedulable unit of extraction work.
type Job struct {
	ID   uuid.UUID
	Name string

	Target   TargetSpec
	Schedule Schedule
	Mode     ExtractionMode
	Enabled  bool

	CreatedAt   time.Time
	LastFiredAt *time.Time
}

// FireBase returns the instant the next fire time is computed after:
// the last fire time, or the creation time for a job that never fired.
// An unfired one-shot due at or before its creation uses the instant just
// before At, so its single fire is still ahead of the base.
func (j Job) FireBase() time.Time {
	if j.LastFiredAt != nil {
		return *j.LastFiredAt
	}
	if j.Schedule.Kind == ScheduleOnce && !j.Schedule.At.After(j.CreatedAt) {
		return j.Schedule.At.Add(-time.Nanosecond)
	}
	return j.CreatedAt
}
