package schedule

import (
	"database/sql"
	"time"

	"github.com/finledger/batchcore/errors"
)

// Store handles persistence of schedule definitions and their fire state.
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const scheduleSelectColumns = `id, task_name, cadence_kind, interval_seconds,
	cron_expr, timezone, enabled, catch_up,
	last_fired_at, next_due_at, last_job_id, created_at, updated_at`

// Upsert inserts or updates a schedule definition. Fire state (last fired,
// next due, last job) is preserved on update: configuration reloads must not
// reset a schedule's history.
func (s *Store) Upsert(sched *Schedule, now time.Time) error {
	if err := sched.Validate(); err != nil {
		return err
	}

	var intervalSeconds sql.NullInt64
	if sched.Cadence == CadenceInterval {
		intervalSeconds = sql.NullInt64{Int64: int64(sched.Every / time.Second), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO schedules (
			id, task_name, cadence_kind, interval_seconds, cron_expr,
			timezone, enabled, catch_up, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_name = excluded.task_name,
			cadence_kind = excluded.cadence_kind,
			interval_seconds = excluded.interval_seconds,
			cron_expr = excluded.cron_expr,
			timezone = excluded.timezone,
			enabled = excluded.enabled,
			catch_up = excluded.catch_up,
			updated_at = excluded.updated_at`,
		sched.ID,
		sched.TaskName,
		sched.Cadence,
		intervalSeconds,
		nullString(sched.Expr),
		timezoneOrUTC(sched.Timezone),
		sched.Enabled,
		sched.CatchUp,
		formatTime(now),
		formatTime(now))
	if err != nil {
		return errors.Wrapf(err, "failed to upsert schedule %s", sched.ID)
	}
	return nil
}

// Get retrieves a schedule by id.
func (s *Store) Get(id string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleSelectColumns+` FROM schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf("schedule not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get schedule")
	}
	return sched, nil
}

// List returns all schedules ordered by id.
func (s *Store) List() ([]*Schedule, error) {
	return s.query(`SELECT ` + scheduleSelectColumns + ` FROM schedules ORDER BY id`)
}

// ListEnabled returns all enabled schedules ordered by id. This is the set
// the scheduler evaluates every tick.
func (s *Store) ListEnabled() ([]*Schedule, error) {
	return s.query(`SELECT ` + scheduleSelectColumns + ` FROM schedules WHERE enabled = 1 ORDER BY id`)
}

// MarkFired records a fire: when, what job it created, and the next due time.
func (s *Store) MarkFired(id string, firedAt time.Time, nextDue *time.Time, jobID string) error {
	result, err := s.db.Exec(`
		UPDATE schedules
		SET last_fired_at = ?,
		    next_due_at = ?,
		    last_job_id = ?,
		    updated_at = ?
		WHERE id = ?`,
		formatTime(firedAt), formatTimePtr(nextDue), nullString(jobID), formatTime(firedAt), id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark schedule %s fired", id)
	}
	return requireScheduleAffected(result, id)
}

// SetEnabled flips a schedule on or off.
func (s *Store) SetEnabled(id string, enabled bool, now time.Time) error {
	result, err := s.db.Exec(`
		UPDATE schedules SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, formatTime(now), id)
	if err != nil {
		return errors.Wrapf(err, "failed to set enabled for schedule %s", id)
	}
	return requireScheduleAffected(result, id)
}

// Delete removes a schedule definition.
func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete schedule %s", id)
	}
	return nil
}

func (s *Store) query(q string, args ...any) ([]*Schedule, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schedules")
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sched Schedule
	var intervalSeconds sql.NullInt64
	var cronExpr, lastFiredAt, nextDueAt, lastJobID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&sched.ID,
		&sched.TaskName,
		&sched.Cadence,
		&intervalSeconds,
		&cronExpr,
		&sched.Timezone,
		&sched.Enabled,
		&sched.CatchUp,
		&lastFiredAt,
		&nextDueAt,
		&lastJobID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if intervalSeconds.Valid {
		sched.Every = time.Duration(intervalSeconds.Int64) * time.Second
	}
	if cronExpr.Valid {
		sched.Expr = cronExpr.String
	}
	if lastJobID.Valid {
		sched.LastJobID = lastJobID.String
	}
	if sched.LastFiredAt, err = parseTimePtr(lastFiredAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse last_fired_at for schedule %s", sched.ID)
	}
	if sched.NextDueAt, err = parseTimePtr(nextDueAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse next_due_at for schedule %s", sched.ID)
	}
	if sched.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for schedule %s", sched.ID)
	}
	if sched.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for schedule %s", sched.ID)
	}

	return &sched, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timezoneOrUTC(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}

func requireScheduleAffected(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Newf("schedule not found: %s", id)
	}
	return nil
}
