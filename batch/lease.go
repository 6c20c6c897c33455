package batch

import (
	"database/sql"
	"time"

	"github.com/finledger/batchcore/errors"
)

// Lease is a time-bounded exclusive claim on a job id. It is the sole
// mutual-exclusion primitive for run_job: a crashed runner's lease simply
// expires instead of wedging the job.
type Lease struct {
	JobID      string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// LeaseStore persists execution leases.
type LeaseStore struct {
	db *sql.DB
}

// NewLeaseStore creates a new lease store.
func NewLeaseStore(db *sql.DB) *LeaseStore {
	return &LeaseStore{db: db}
}

// Acquire claims the job's lease for holder until now+ttl. The claim is a
// single atomic insert-if-absent-or-expired statement: the upsert only
// replaces a row whose expiry has passed, so exactly one of two concurrent
// callers proceeds. Returns ErrJobAlreadyRunning if a live lease is held.
func (s *LeaseStore) Acquire(jobID, holder string, ttl time.Duration, now time.Time) error {
	result, err := s.db.Exec(`
		INSERT INTO batch_job_leases (job_id, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE batch_job_leases.expires_at <= excluded.acquired_at`,
		jobID, holder, formatTime(now), formatTime(now.Add(ttl)))
	if err != nil {
		return errors.Wrap(err, "failed to acquire lease")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrJobAlreadyRunning, "lease held on job %s", jobID)
	}
	return nil
}

// Extend pushes the lease's expiry to now+ttl. Used as a heartbeat between
// items so a long job outlives its initial TTL. Fails if the lease was lost
// to another holder.
func (s *LeaseStore) Extend(jobID, holder string, ttl time.Duration, now time.Time) error {
	result, err := s.db.Exec(`
		UPDATE batch_job_leases
		SET expires_at = ?
		WHERE job_id = ? AND holder = ?`,
		formatTime(now.Add(ttl)), jobID, holder)
	if err != nil {
		return errors.Wrap(err, "failed to extend lease")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrJobAlreadyRunning, "lease on job %s lost to another holder", jobID)
	}
	return nil
}

// Release drops the lease if still held by holder. Releasing a lease that
// was already taken over is a no-op.
func (s *LeaseStore) Release(jobID, holder string) error {
	_, err := s.db.Exec(`
		DELETE FROM batch_job_leases
		WHERE job_id = ? AND holder = ?`, jobID, holder)
	if err != nil {
		return errors.Wrap(err, "failed to release lease")
	}
	return nil
}

// Get retrieves the current lease for a job, or nil if none exists.
func (s *LeaseStore) Get(jobID string) (*Lease, error) {
	var lease Lease
	var acquiredAt, expiresAt string

	err := s.db.QueryRow(`
		SELECT job_id, holder, acquired_at, expires_at
		FROM batch_job_leases
		WHERE job_id = ?`, jobID).
		Scan(&lease.JobID, &lease.Holder, &acquiredAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get lease")
	}

	if lease.AcquiredAt, err = parseTime(acquiredAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse acquired_at for lease %s", jobID)
	}
	if lease.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse expires_at for lease %s", jobID)
	}
	return &lease, nil
}
