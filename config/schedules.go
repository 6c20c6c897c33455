package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/finledger/batchcore/errors"
	"github.com/finledger/batchcore/schedule"
)

// ScheduleDefinition is one schedule entry in the YAML schedules file.
// Exactly one of Interval and Cron must be set.
type ScheduleDefinition struct {
	ID       string `yaml:"id"`
	Task     string `yaml:"task"`
	Interval string `yaml:"interval"` // Go duration string, e.g. "1h30m"
	Cron     string `yaml:"cron"`     // five-field cron expression
	Timezone string `yaml:"timezone"`
	Enabled  *bool  `yaml:"enabled"` // defaults to true
	CatchUp  bool   `yaml:"catch_up"`
}

type schedulesFile struct {
	Schedules []ScheduleDefinition `yaml:"schedules"`
}

// LoadSchedules reads and validates schedule definitions from a YAML file.
func LoadSchedules(path string) ([]*schedule.Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read schedules file %s", path)
	}
	return ParseSchedules(data)
}

// ParseSchedules parses schedule definitions from YAML bytes.
func ParseSchedules(data []byte) ([]*schedule.Schedule, error) {
	var file schedulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to parse schedules YAML")
	}

	seen := make(map[string]bool, len(file.Schedules))
	schedules := make([]*schedule.Schedule, 0, len(file.Schedules))
	for _, def := range file.Schedules {
		if seen[def.ID] {
			return nil, errors.Wrapf(errors.ErrScheduleInvalid, "duplicate schedule id %q", def.ID)
		}
		seen[def.ID] = true

		sched, err := def.toSchedule()
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, nil
}

func (d ScheduleDefinition) toSchedule() (*schedule.Schedule, error) {
	sched := &schedule.Schedule{
		ID:       d.ID,
		TaskName: d.Task,
		Timezone: d.Timezone,
		Enabled:  d.Enabled == nil || *d.Enabled,
		CatchUp:  d.CatchUp,
	}

	switch {
	case d.Interval != "" && d.Cron != "":
		return nil, errors.Wrapf(errors.ErrScheduleInvalid, "schedule %s: interval and cron are mutually exclusive", d.ID)
	case d.Interval != "":
		every, err := time.ParseDuration(d.Interval)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrScheduleInvalid, "schedule %s: bad interval %q: %v", d.ID, d.Interval, err)
		}
		sched.Cadence = schedule.CadenceInterval
		sched.Every = every
	case d.Cron != "":
		sched.Cadence = schedule.CadenceCron
		sched.Expr = d.Cron
	default:
		return nil, errors.Wrapf(errors.ErrScheduleInvalid, "schedule %s: either interval or cron is required", d.ID)
	}

	if err := sched.Validate(); err != nil {
		return nil, err
	}
	return sched, nil
}
