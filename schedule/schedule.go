// Package schedule provides recurring-trigger definitions, the pure due-time
// evaluator, and the scheduler loop that fires due schedules through the
// batch executor.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/finledger/batchcore/errors"
)

// CadenceKind selects how a schedule's due times are derived.
type CadenceKind string

const (
	// CadenceInterval fires a fixed duration after the last fire.
	CadenceInterval CadenceKind = "interval"
	// CadenceCron fires on cron field expressions (minute, hour,
	// day-of-month, month, day-of-week) in the schedule's time zone.
	CadenceCron CadenceKind = "cron"
)

// cronParser accepts the five standard cron fields.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is a recurring trigger definition: fire task TaskName on the given
// cadence. Definitions come from configuration; LastFiredAt, NextDueAt and
// LastJobID are mutated by the scheduler only.
type Schedule struct {
	ID       string
	TaskName string
	Cadence  CadenceKind

	// Every is the fixed interval for CadenceInterval.
	Every time.Duration

	// Expr is the cron expression for CadenceCron.
	Expr string

	// Timezone names the IANA zone the cron fields are evaluated in.
	// Empty means UTC.
	Timezone string

	Enabled bool

	// CatchUp anchors the next due time to the previous due time instead of
	// the actual fire time, so a late fire does not drift the cadence.
	// Missed firings are never replayed retroactively either way.
	CatchUp bool

	LastFiredAt *time.Time
	NextDueAt   *time.Time
	LastJobID   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the definition is well formed: a malformed schedule is a
// configuration error surfaced before the scheduler starts.
func (s *Schedule) Validate() error {
	if s.ID == "" {
		return errors.Wrap(errors.ErrScheduleInvalid, "schedule id cannot be empty")
	}
	if s.TaskName == "" {
		return errors.Wrapf(errors.ErrScheduleInvalid, "schedule %s: task name cannot be empty", s.ID)
	}

	switch s.Cadence {
	case CadenceInterval:
		if s.Every <= 0 {
			return errors.Wrapf(errors.ErrScheduleInvalid, "schedule %s: interval must be positive, got %s", s.ID, s.Every)
		}
	case CadenceCron:
		if _, err := cronParser.Parse(s.Expr); err != nil {
			return errors.Wrapf(errors.ErrScheduleInvalid, "schedule %s: bad cron expression %q: %v", s.ID, s.Expr, err)
		}
	default:
		return errors.Wrapf(errors.ErrScheduleInvalid, "schedule %s: unknown cadence kind %q", s.ID, s.Cadence)
	}

	if _, err := s.Location(); err != nil {
		return errors.Wrapf(errors.ErrScheduleInvalid, "schedule %s: bad timezone %q: %v", s.ID, s.Timezone, err)
	}
	return nil
}

// Location resolves the schedule's time zone. Empty means UTC.
func (s *Schedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}
