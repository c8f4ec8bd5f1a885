// Package trigger evaluates job schedules. Every function here is pure:
// the same schedule and instant always yield the same next fire time.
package trigger

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"github.com/Arun8573/codec-technology/internal/domain"
)

var standard = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var intervalExprs = map[domain.Interval]string{
	domain.Hourly: "0 * * * *",
	domain.Daily:  "0 0 * * *",
	domain.Weekly: "0 0 * * 0",
}

// Parse turns a user-supplied schedule spec into a Schedule. Accepted forms:
//
//	hourly | daily | weekly
//	cron:<5 fields>        fields separated by spaces, or by commas as a whole
//	<5 fields>
//	once:<RFC3339>         must lie after now
//	now                    a one-shot firing at now
//
// Any rejection is a *domain.ScheduleError.
func Parse(spec, timezone string, now time.Time) (domain.Schedule, error) {
	raw := strings.TrimSpace(spec)
	if timezone == "" {
		timezone = "UTC"
	}
	sched := domain.Schedule{Timezone: timezone}
	loc, err := sched.Location()
	if err != nil {
		return domain.Schedule{}, &domain.ScheduleError{Spec: spec, Reason: "unknown timezone " + timezone}
	}

	switch lower := strings.ToLower(raw); {
	case lower == "":
		return domain.Schedule{}, &domain.ScheduleError{Spec: spec, Reason: "empty schedule"}

	case lower == "now":
		sched.Kind = domain.ScheduleOnce
		sched.At = now.UTC().Truncate(time.Second)
		return sched, nil

	case strings.HasPrefix(lower, "once:"):
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(raw[len("once:"):]))
		if err != nil {
			return domain.Schedule{}, &domain.ScheduleError{Spec: spec, Reason: "one-shot time must be RFC3339"}
		}
		at = at.UTC().Truncate(time.Second)
		if !at.After(now) {
			return domain.Schedule{}, &domain.ScheduleError{Spec: spec, Reason: "one-shot time is in the past"}
		}
		sched.Kind = domain.ScheduleOnce
		sched.At = at
		return sched, nil

	case lower == string(domain.Hourly), lower == string(domain.Daily), lower == string(domain.Weekly):
		sched.Kind = domain.ScheduleInterval
		sched.Interval = domain.Interval(lower)
		return sched, nil
	}

	expr := normalizeExpr(strings.TrimPrefix(raw, "cron:"))
	cs, err := standard.Parse(expr)
	if err != nil {
		return domain.Schedule{}, &domain.ScheduleError{Spec: spec, Reason: err.Error()}
	}
	// robfig returns the zero time when nothing matches within its search horizon.
	if cs.Next(now.In(loc)).IsZero() {
		return domain.Schedule{}, &domain.ScheduleError{Spec: spec, Reason: "expression never fires"}
	}
	sched.Kind = domain.ScheduleCron
	sched.Expr = expr
	return sched, nil
}

// normalizeExpr accepts "0,9,*,*,1" as a comma-separated field list when the
// expression carries no spaces and splits into exactly five parts.
func normalizeExpr(expr string) string {
	expr = strings.TrimSpace(expr)
	if !strings.ContainsAny(expr, " \t") {
		if parts := strings.Split(expr, ","); len(parts) == 5 {
			return strings.Join(parts, " ")
		}
	}
	return strings.Join(strings.Fields(expr), " ")
}

// NextFire returns the earliest fire time strictly after after, or false
// when the schedule will never fire again.
func NextFire(s domain.Schedule, after time.Time) (time.Time, bool) {
	switch s.Kind {
	case domain.ScheduleOnce:
		if s.At.After(after) {
			return s.At, true
		}
		return time.Time{}, false
	case domain.ScheduleInterval, domain.ScheduleCron:
		cs, loc, err := compile(s)
		if err != nil {
			return time.Time{}, false
		}
		next := cs.Next(after.In(loc))
		if next.IsZero() {
			return time.Time{}, false
		}
		return next.UTC(), true
	default:
		return time.Time{}, false
	}
}

func compile(s domain.Schedule) (cron.Schedule, *time.Location, error) {
	expr := s.Expr
	if s.Kind == domain.ScheduleInterval {
		var ok bool
		if expr, ok = intervalExprs[s.Interval]; !ok {
			return nil, nil, errors.Newf("unknown interval %q", s.Interval)
		}
	}
	cs, err := standard.Parse(expr)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse cron")
	}
	loc, err := s.Location()
	if err != nil {
		return nil, nil, errors.Wrap(err, "load timezone")
	}
	return cs, loc, nil
}

// Validate re-checks a decoded schedule, e.g. one read from a job file.
func Validate(s domain.Schedule) error {
	switch s.Kind {
	case domain.ScheduleOnce:
		if s.At.IsZero() {
			return &domain.ScheduleError{Spec: s.String(), Reason: "missing one-shot time"}
		}
		return nil
	case domain.ScheduleInterval, domain.ScheduleCron:
		if _, _, err := compile(s); err != nil {
			return &domain.ScheduleError{Spec: s.String(), Reason: err.Error()}
		}
		return nil
	default:
		return &domain.ScheduleError{Spec: s.String(), Reason: "unknown schedule kind"}
	}
}
