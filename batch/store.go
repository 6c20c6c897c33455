package batch

import (
	"database/sql"
	"encoding/json"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/finledger/batchcore/errors"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx. Item
// bookkeeping methods take it so they can run inside the executor's item
// transaction or directly against the connection.
type DBTX interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store handles persistence of batch jobs and their items.
type Store struct {
	db *sql.DB
}

// NewStore creates a new batch job store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for the executor's item transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

const jobSelectColumns = `id, task_name, idempotency_key, status,
	total_items, succeeded, failed, skipped, max_attempts,
	created_at, started_at, completed_at, updated_at`

const itemSelectColumns = `job_id, seq, input, status, attempts,
	error_kind, error_message, error_retryable, result, updated_at`

// CreateJobWithItems persists a job and all of its items in one transaction.
// The job row and every item row become visible together or not at all.
func (s *Store) CreateJobWithItems(job *Job, items []*Item) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin job creation")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO batch_jobs (
			id, task_name, idempotency_key, status,
			total_items, succeeded, failed, skipped, max_attempts,
			created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.TaskName,
		job.IdempotencyKey,
		job.Status,
		job.TotalItems,
		job.Succeeded,
		job.Failed,
		job.Skipped,
		job.MaxAttempts,
		formatTime(job.CreatedAt),
		formatTimePtr(job.StartedAt),
		formatTimePtr(job.CompletedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(errors.ErrDuplicateJob, "idempotency key %q", job.IdempotencyKey)
		}
		return errors.Wrap(err, "failed to create job")
	}

	for _, item := range items {
		input := sql.NullString{String: string(item.Input), Valid: len(item.Input) > 0}
		_, err = tx.Exec(`
			INSERT INTO batch_items (
				job_id, seq, input, status, attempts,
				error_kind, error_message, error_retryable, result, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.JobID,
			item.Seq,
			input,
			item.Status,
			item.Attempts,
			nullString(item.ErrorKind),
			nullString(item.ErrorMessage),
			item.ErrorRetryable,
			nullString(string(item.Result)),
			formatTime(item.UpdatedAt),
		)
		if err != nil {
			return errors.Wrapf(err, "failed to create item %d", item.Seq)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit job creation")
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobSelectColumns+` FROM batch_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrJobNotFound, "%s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// FindJobByIdempotencyKey returns the job holding the key exclusively: one
// that is non-terminal or completed successfully. Returns nil if no such job
// exists (a failed job releases its key for resubmission).
func (s *Store) FindJobByIdempotencyKey(key string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT `+jobSelectColumns+`
		FROM batch_jobs
		WHERE idempotency_key = ?
		  AND status IN ('created', 'running', 'completed')
		LIMIT 1`, key)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find job by idempotency key")
	}
	return job, nil
}

// MarkJobRunning transitions a job to running, setting started_at on the
// first run only (crash-recovery re-entry keeps the original start time).
func (s *Store) MarkJobRunning(jobID string, now time.Time) error {
	result, err := s.db.Exec(`
		UPDATE batch_jobs
		SET status = ?,
		    started_at = COALESCE(started_at, ?),
		    updated_at = ?
		WHERE id = ?`,
		JobStatusRunning, formatTime(now), formatTime(now), jobID)
	if err != nil {
		return errors.Wrap(err, "failed to mark job running")
	}
	return requireRowsAffected(result, jobID)
}

// FinalizeJob persists the job's terminal status and final counts.
func (s *Store) FinalizeJob(jobID string, status JobStatus, succeeded, failed, skipped int, now time.Time) error {
	result, err := s.db.Exec(`
		UPDATE batch_jobs
		SET status = ?,
		    succeeded = ?,
		    failed = ?,
		    skipped = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?`,
		status, succeeded, failed, skipped, formatTime(now), formatTime(now), jobID)
	if err != nil {
		return errors.Wrap(err, "failed to finalize job")
	}
	return requireRowsAffected(result, jobID)
}

// UpdateJobCounts persists intermediate progress counters during a run.
func (s *Store) UpdateJobCounts(jobID string, succeeded, failed, skipped int, now time.Time) error {
	result, err := s.db.Exec(`
		UPDATE batch_jobs
		SET succeeded = ?,
		    failed = ?,
		    skipped = ?,
		    updated_at = ?
		WHERE id = ?`,
		succeeded, failed, skipped, formatTime(now), jobID)
	if err != nil {
		return errors.Wrap(err, "failed to update job counts")
	}
	return requireRowsAffected(result, jobID)
}

// ListPendingItems returns a job's pending items in ascending sequence
// order, so partial-progress resumption is deterministic.
func (s *Store) ListPendingItems(jobID string) ([]*Item, error) {
	rows, err := s.db.Query(`
		SELECT `+itemSelectColumns+`
		FROM batch_items
		WHERE job_id = ? AND status = ?
		ORDER BY seq ASC`, jobID, ItemStatusPending)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending items")
	}
	defer rows.Close()

	return scanItems(rows)
}

// ListItems returns all items of a job in sequence order.
func (s *Store) ListItems(jobID string) ([]*Item, error) {
	rows, err := s.db.Query(`
		SELECT `+itemSelectColumns+`
		FROM batch_items
		WHERE job_id = ?
		ORDER BY seq ASC`, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list items")
	}
	defer rows.Close()

	return scanItems(rows)
}

// ListFailedItems returns a job's terminally failed items in sequence order.
func (s *Store) ListFailedItems(jobID string) ([]*Item, error) {
	rows, err := s.db.Query(`
		SELECT `+itemSelectColumns+`
		FROM batch_items
		WHERE job_id = ? AND status = ?
		ORDER BY seq ASC`, jobID, ItemStatusFailed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list failed items")
	}
	defer rows.Close()

	return scanItems(rows)
}

// GetItem retrieves one item by job id and sequence number.
func (s *Store) GetItem(jobID string, seq int) (*Item, error) {
	row := s.db.QueryRow(`
		SELECT `+itemSelectColumns+`
		FROM batch_items
		WHERE job_id = ? AND seq = ?`, jobID, seq)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf("item not found: job %s seq %d", jobID, seq)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get item")
	}
	return item, nil
}

// ResetRunningItems returns items left running by a crashed runner to
// pending. Their attempt counts are preserved; the interrupted attempt
// already incremented them.
func (s *Store) ResetRunningItems(jobID string, now time.Time) (int, error) {
	result, err := s.db.Exec(`
		UPDATE batch_items
		SET status = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`,
		ItemStatusPending, formatTime(now), jobID, ItemStatusRunning)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reset running items")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// MarkItemRunning transitions an item to running and increments its attempt
// count. This runs outside the item's task transaction and is always
// committed, so retry bookkeeping survives a rollback of the task's work.
func (s *Store) MarkItemRunning(jobID string, seq int, now time.Time) error {
	result, err := s.db.Exec(`
		UPDATE batch_items
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE job_id = ? AND seq = ?`,
		ItemStatusRunning, formatTime(now), jobID, seq)
	if err != nil {
		return errors.Wrap(err, "failed to mark item running")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Newf("item not found: job %s seq %d", jobID, seq)
	}
	return nil
}

// UpdateItemOutcome records the item's post-execution state. It takes a DBTX
// so the executor can issue it inside the item transaction, after the task's
// savepoint has been released or rolled back.
func (s *Store) UpdateItemOutcome(dbtx DBTX, jobID string, seq int, status ItemStatus, errorKind, errorMessage string, retryable bool, result json.RawMessage, now time.Time) error {
	res, err := dbtx.Exec(`
		UPDATE batch_items
		SET status = ?,
		    error_kind = ?,
		    error_message = ?,
		    error_retryable = ?,
		    result = ?,
		    updated_at = ?
		WHERE job_id = ? AND seq = ?`,
		status,
		nullString(errorKind),
		nullString(errorMessage),
		retryable,
		nullString(string(result)),
		formatTime(now),
		jobID, seq)
	if err != nil {
		return errors.Wrap(err, "failed to update item outcome")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Newf("item not found: job %s seq %d", jobID, seq)
	}
	return nil
}

// CountItemStatuses returns the per-status item counts for a job.
func (s *Store) CountItemStatuses(jobID string) (pending, succeeded, failed, skipped int, err error) {
	rows, err := s.db.Query(`
		SELECT status, COUNT(*)
		FROM batch_items
		WHERE job_id = ?
		GROUP BY status`, jobID)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "failed to count item statuses")
	}
	defer rows.Close()

	for rows.Next() {
		var status ItemStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return 0, 0, 0, 0, errors.Wrap(err, "failed to scan item counts")
		}
		switch status {
		case ItemStatusPending, ItemStatusRunning:
			pending += count
		case ItemStatusSucceeded:
			succeeded = count
		case ItemStatusFailed:
			failed = count
		case ItemStatusSkipped:
			skipped = count
		}
	}
	return pending, succeeded, failed, skipped, rows.Err()
}

// RequeueRetryableFailed returns terminally failed items whose failure was
// marked retryable to pending with a fresh attempt budget. The next run is
// bounded by the job's max-attempts ceiling again. Returns the number of
// items re-queued.
func (s *Store) RequeueRetryableFailed(jobID string, now time.Time) (int, error) {
	result, err := s.db.Exec(`
		UPDATE batch_items
		SET status = ?, attempts = 0, updated_at = ?
		WHERE job_id = ?
		  AND status = ?
		  AND error_retryable = 1`,
		ItemStatusPending, formatTime(now), jobID, ItemStatusFailed)
	if err != nil {
		return 0, errors.Wrap(err, "failed to requeue retryable items")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// ReopenJob returns a terminal job to created so a retry run can proceed.
func (s *Store) ReopenJob(jobID string, now time.Time) error {
	result, err := s.db.Exec(`
		UPDATE batch_jobs
		SET status = ?, completed_at = NULL, updated_at = ?
		WHERE id = ?`,
		JobStatusCreated, formatTime(now), jobID)
	if err != nil {
		return errors.Wrap(err, "failed to reopen job")
	}
	return requireRowsAffected(result, jobID)
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var createdAt, updatedAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(
		&job.ID,
		&job.TaskName,
		&job.IdempotencyKey,
		&job.Status,
		&job.TotalItems,
		&job.Succeeded,
		&job.Failed,
		&job.Skipped,
		&job.MaxAttempts,
		&createdAt,
		&startedAt,
		&completedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", job.ID)
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", job.ID)
	}
	if job.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse started_at for job %s", job.ID)
	}
	if job.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse completed_at for job %s", job.ID)
	}

	return &job, nil
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var input, errorKind, errorMessage, result sql.NullString
	var updatedAt string

	err := row.Scan(
		&item.JobID,
		&item.Seq,
		&input,
		&item.Status,
		&item.Attempts,
		&errorKind,
		&errorMessage,
		&item.ErrorRetryable,
		&result,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if input.Valid {
		item.Input = []byte(input.String)
	}
	if errorKind.Valid {
		item.ErrorKind = errorKind.String
	}
	if errorMessage.Valid {
		item.ErrorMessage = errorMessage.String
	}
	if result.Valid {
		item.Result = []byte(result.String)
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for item %s/%d", item.JobID, item.Seq)
	}

	return &item, nil
}

func scanItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// formatTime renders a fixed-width UTC timestamp. RFC3339Nano trims trailing
// zeros, which breaks lexicographic ordering across a whole-second boundary
// ("…00Z" sorts after "…00.5Z"); the lease upsert compares these strings in
// SQL, so every fractional digit is always written.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
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

func requireRowsAffected(result sql.Result, jobID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrJobNotFound, "%s", jobID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
