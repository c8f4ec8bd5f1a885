package domain

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
	ScheduleOnce     ScheduleKind = "once"
)

type Interval string

const (
	Hourly Interval = "hourly"
	Daily  Interval = "daily"
	Weekly Interval = "weekly"
)

type Schedule struct {
	Kind     ScheduleKind
	Interval Interval  // set when Kind == ScheduleInterval
	Expr     string    // 5-field cron expression when Kind == ScheduleCron
	At       time.Time // single fire time when Kind == ScheduleOnce
	Timezone string    // IANA name, empty means UTC
}

// String returns the canonical schedule spec persisted by the stores.
func (s Schedule) String() string {
	switch s.Kind {
	case ScheduleInterval:
		return string(s.Interval)
	case ScheduleCron:
		return "cron:" + s.Expr
	case ScheduleOnce:
		return "once:" + s.At.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

// Location resolves the schedule timezone, falling back to UTC.
func (s Schedule) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "UTC" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// DecodeSchedule rebuilds a Schedule from its canonical String form.
// It performs no semantic validation; specs are validated once at creation.
func DecodeSchedule(spec, timezone string) (Schedule, error) {
	s := Schedule{Timezone: timezone}
	switch {
	case strings.HasPrefix(spec, "cron:"):
		s.Kind = ScheduleCron
		s.Expr = strings.TrimPrefix(spec, "cron:")
	case strings.HasPrefix(spec, "once:"):
		at, err := time.Parse(time.RFC3339, strings.TrimPrefix(spec, "once:"))
		if err != nil {
			return Schedule{}, errors.Wrapf(err, "decode schedule %q", spec)
		}
		s.Kind = ScheduleOnce
		s.At = at
	default:
		s.Kind = ScheduleInterval
		s.Interval = Interval(spec)
	}
	return s, nil
}
