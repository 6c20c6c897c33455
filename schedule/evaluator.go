package schedule

import (
	"time"
)

// NextDue computes the schedule's next due time relative to ref. Pure: the
// same schedule and reference time always produce the same answer, and no
// ambient clock is read. Returns nil for a disabled schedule.
//
// A never-fired interval schedule is due immediately. A never-fired cron
// schedule is due at the first cron boundary after ref, so enabling an
// hourly cron at 10:23 fires at 11:00, not instantly.
func NextDue(s *Schedule, ref time.Time) (*time.Time, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if !s.Enabled {
		return nil, nil
	}

	loc, err := s.Location()
	if err != nil {
		return nil, err
	}

	// Without catch-up, a stored next-due earlier than the last fire means
	// the clock moved backward or the definition was edited underneath us.
	// Due immediately, once: the fire re-anchors last-fired and clears the
	// condition, so there is no retroactive storm. Catch-up schedules
	// instead treat a stale next-due as the anchor below.
	if !s.CatchUp && s.LastFiredAt != nil && s.NextDueAt != nil && s.NextDueAt.Before(*s.LastFiredAt) {
		due := ref
		return &due, nil
	}

	switch s.Cadence {
	case CadenceInterval:
		if s.LastFiredAt == nil {
			due := ref
			return &due, nil
		}
		anchor := *s.LastFiredAt
		if s.CatchUp && s.NextDueAt != nil && !s.NextDueAt.After(anchor) {
			// Anchored cadence: a late fire does not drift subsequent due
			// times, and an outage is worked off one fire per pass.
			anchor = *s.NextDueAt
		}
		due := anchor.Add(s.Every)
		return &due, nil

	case CadenceCron:
		spec, err := cronParser.Parse(s.Expr)
		if err != nil {
			return nil, err
		}
		anchor := ref
		if s.LastFiredAt != nil {
			anchor = *s.LastFiredAt
		}
		if s.CatchUp && s.NextDueAt != nil && !s.NextDueAt.After(anchor) {
			// Same anchoring as the interval cadence: the next due time is
			// the boundary after the missed one, so an outage drains one
			// fire per pass along the cron grid.
			anchor = *s.NextDueAt
		}
		due := spec.Next(anchor.In(loc))
		return &due, nil
	}

	return nil, nil
}

// IsDue reports whether the schedule should fire at ref. A disabled schedule
// is never due. A next-due time at or before ref is due, which covers the
// clock-moved-backward case: such a schedule fires once per evaluation pass,
// never in a retroactive storm.
func IsDue(s *Schedule, ref time.Time) (bool, error) {
	due, err := NextDue(s, ref)
	if err != nil {
		return false, err
	}
	if due == nil {
		return false, nil
	}
	return !due.After(ref), nil
}
