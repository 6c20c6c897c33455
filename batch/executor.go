package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finledger/batchcore/audit"
	"github.com/finledger/batchcore/errors"
)

// JobSpec describes one requested batch run.
type JobSpec struct {
	TaskName       string
	IdempotencyKey string
	Items          []json.RawMessage
	MaxAttempts    int
}

// ItemFailure describes one terminally failed item in a JobResult.
type ItemFailure struct {
	Seq       int    `json:"seq"`
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// JobResult carries a job's final counts. Partial failure is an expected,
// first-class outcome: RunJob returns a result, never an error, for "some
// items failed".
type JobResult struct {
	JobID       string        `json:"job_id"`
	Status      JobStatus     `json:"status"`
	TotalItems  int           `json:"total_items"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	FailedItems []ItemFailure `json:"failed_items,omitempty"`
}

// ExecutorConfig contains tunables for the batch executor.
type ExecutorConfig struct {
	// LeaseTTL bounds how long a silent runner keeps its exclusive claim on
	// a job. The executor heartbeats the lease after every item.
	LeaseTTL time.Duration

	// DefaultMaxAttempts applies when a JobSpec leaves MaxAttempts unset.
	DefaultMaxAttempts int
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		LeaseTTL:           60 * time.Second,
		DefaultMaxAttempts: DefaultMaxAttempts,
	}
}

// Executor runs batch jobs: each item under an isolated sub-transaction,
// retries bounded by the job's max-attempts, every state transition recorded
// through the audit interface.
type Executor struct {
	db       *sql.DB
	store    *Store
	leases   *LeaseStore
	registry *Registry
	recorder audit.Recorder
	cfg      ExecutorConfig
	logger   *zap.SugaredLogger
	timeNow  func() time.Time // Injectable for testing
}

// NewExecutor creates an executor with the real clock.
func NewExecutor(db *sql.DB, registry *Registry, recorder audit.Recorder, cfg ExecutorConfig, logger *zap.SugaredLogger) *Executor {
	return NewExecutorWithClock(db, registry, recorder, cfg, logger, time.Now)
}

// NewExecutorWithClock creates an executor with an injectable clock (for
// testing lease expiry and timestamps deterministically).
func NewExecutorWithClock(db *sql.DB, registry *Registry, recorder audit.Recorder, cfg ExecutorConfig, logger *zap.SugaredLogger, timeNow func() time.Time) *Executor {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultExecutorConfig().LeaseTTL
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = DefaultMaxAttempts
	}
	return &Executor{
		db:       db,
		store:    NewStore(db),
		leases:   NewLeaseStore(db),
		registry: registry,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger.Named("executor"),
		timeNow:  timeNow,
	}
}

// Store exposes the executor's job store for read-side callers.
func (e *Executor) Store() *Store {
	return e.store
}

// CreateJob persists a job and its items atomically. If a non-terminal or
// successfully completed job already holds the idempotency key, that job is
// returned instead of creating a new one, so re-submission by upstream
// callers (a scheduler tick firing twice across a restart) is safe.
func (e *Executor) CreateJob(ctx context.Context, spec JobSpec) (*Job, error) {
	// A job is never partially started against a missing task.
	if _, err := e.registry.Get(spec.TaskName); err != nil {
		return nil, err
	}

	existing, err := e.store.FindJobByIdempotencyKey(spec.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		e.logger.Debugw("Returning existing job for idempotency key",
			"job_id", existing.ID,
			"idempotency_key", spec.IdempotencyKey,
			"status", existing.Status)
		return existing, nil
	}

	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.cfg.DefaultMaxAttempts
	}

	now := e.timeNow()
	job, items, err := NewJob(spec.TaskName, spec.IdempotencyKey, spec.Items, maxAttempts, now)
	if err != nil {
		return nil, err
	}

	if err := e.store.CreateJobWithItems(job, items); err != nil {
		// Lost a creation race on the idempotency key: the winner's job is
		// the one the caller asked for.
		if errors.Is(err, errors.ErrDuplicateJob) {
			winner, findErr := e.store.FindJobByIdempotencyKey(spec.IdempotencyKey)
			if findErr == nil && winner != nil {
				return winner, nil
			}
		}
		return nil, err
	}

	e.record(ctx, job.ID, audit.EventJobCreated, map[string]any{
		"task_name":       job.TaskName,
		"total_items":     job.TotalItems,
		"max_attempts":    job.MaxAttempts,
		"idempotency_key": job.IdempotencyKey,
	})

	e.logger.Infow("Job created",
		"job_id", job.ID,
		"task_name", job.TaskName,
		"total_items", job.TotalItems)

	return job, nil
}

// RunJob executes all pending items of the job to completion or exhaustion
// and returns the final counts. Items are attempted in ascending sequence
// order; a retryable failure returns the item to pending for a later pass.
// Returns ErrJobNotFound for unknown jobs and ErrJobAlreadyRunning when
// another runner holds the job's lease.
func (e *Executor) RunJob(ctx context.Context, jobID string) (*JobResult, error) {
	job, err := e.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}

	// A terminal job is never mutated again; re-running returns its result.
	if job.Status.IsTerminal() {
		return e.buildResult(job)
	}

	task, err := e.registry.Get(job.TaskName)
	if err != nil {
		return nil, err
	}

	holder := uuid.NewString()
	if err := e.leases.Acquire(jobID, holder, e.cfg.LeaseTTL, e.timeNow()); err != nil {
		return nil, err
	}
	defer func() {
		if err := e.leases.Release(jobID, holder); err != nil {
			e.logger.Warnw("Failed to release job lease", "job_id", jobID, "error", err)
		}
	}()

	// Crash recovery: items left running by a dead runner were never
	// recorded as finished. Their task effects died with that runner's open
	// transaction, so re-attempting them is safe.
	reset, err := e.store.ResetRunningItems(jobID, e.timeNow())
	if err != nil {
		return nil, err
	}
	if reset > 0 {
		e.logger.Infow("Reset items left running by a previous runner",
			"job_id", jobID, "count", reset)
	}

	if err := e.store.MarkJobRunning(jobID, e.timeNow()); err != nil {
		return nil, err
	}

	for {
		items, err := e.store.ListPendingItems(jobID)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			if err := e.runItem(ctx, job, task, item); err != nil {
				return nil, err
			}
			// Heartbeat so a long job outlives its initial lease TTL.
			if err := e.leases.Extend(jobID, holder, e.cfg.LeaseTTL, e.timeNow()); err != nil {
				return nil, err
			}
			if err := e.persistCounts(jobID); err != nil {
				return nil, err
			}
		}
	}

	return e.finalize(ctx, jobID)
}

// RetryJob re-queues terminally failed items whose failure was marked
// retryable, granting them a fresh attempt budget bounded by the job's
// original max-attempts ceiling. Returns the number of items re-queued;
// zero means nothing qualified and the job is untouched.
func (e *Executor) RetryJob(ctx context.Context, jobID string) (int, error) {
	job, err := e.store.GetJob(jobID)
	if err != nil {
		return 0, err
	}

	count, err := e.store.RequeueRetryableFailed(jobID, e.timeNow())
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	if job.Status.IsTerminal() {
		if err := e.store.ReopenJob(jobID, e.timeNow()); err != nil {
			return 0, err
		}
	}

	e.logger.Infow("Re-queued retryable items", "job_id", jobID, "count", count)
	return count, nil
}

// runItem executes one item inside its own isolation scope. The task's
// domain writes live under a savepoint that is rolled back on failure or
// skip; the item's own bookkeeping commits regardless, so attempt counts
// and statuses survive a rollback of the task's work.
func (e *Executor) runItem(ctx context.Context, job *Job, task Task, item *Item) error {
	// Always-committed step: mark running, count the attempt. A crash after
	// this point leaves a running item the next runner resets to pending.
	if err := e.store.MarkItemRunning(job.ID, item.Seq, e.timeNow()); err != nil {
		return err
	}
	attempt := item.Attempts + 1

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin item transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec("SAVEPOINT task_scope"); err != nil {
		return errors.Wrap(err, "failed to open task savepoint")
	}

	outcome := invokeTask(ctx, task, &ItemContext{
		JobID:   job.ID,
		Seq:     item.Seq,
		Attempt: attempt,
		Input:   item.Input,
		Tx:      tx,
	})

	now := e.timeNow()
	switch outcome.Kind {
	case OutcomeSuccess:
		if _, err := tx.Exec("RELEASE task_scope"); err != nil {
			return errors.Wrap(err, "failed to release task savepoint")
		}
		if err := e.store.UpdateItemOutcome(tx, job.ID, item.Seq, ItemStatusSucceeded, "", "", false, outcome.Result, now); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrap(err, "failed to commit item success")
		}
		e.record(ctx, job.ID, audit.EventItemSucceeded, map[string]any{
			"seq": item.Seq, "attempt": attempt,
		})

	case OutcomeSkip:
		// A skipped item leaves no domain writes behind.
		if err := rollbackTaskScope(tx); err != nil {
			return err
		}
		if err := e.store.UpdateItemOutcome(tx, job.ID, item.Seq, ItemStatusSkipped, "", outcome.Reason, false, nil, now); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrap(err, "failed to commit item skip")
		}
		e.record(ctx, job.ID, audit.EventItemSkipped, map[string]any{
			"seq": item.Seq, "reason": outcome.Reason,
		})

	case OutcomeFailure:
		if err := rollbackTaskScope(tx); err != nil {
			return err
		}
		if outcome.Retryable && attempt < job.MaxAttempts {
			// Back to pending: a later pass retries it. The status and
			// attempt-count update commits even though the task's side
			// effects were just rolled back.
			if err := e.store.UpdateItemOutcome(tx, job.ID, item.Seq, ItemStatusPending, outcome.ErrorKind, outcome.Message, true, nil, now); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return errors.Wrap(err, "failed to commit item retry")
			}
			e.record(ctx, job.ID, audit.EventItemRetry, map[string]any{
				"seq":          item.Seq,
				"attempt":      attempt,
				"max_attempts": job.MaxAttempts,
				"error_kind":   outcome.ErrorKind,
				"message":      outcome.Message,
			})
			e.logger.Warnw("Item failed, will retry",
				"job_id", job.ID,
				"seq", item.Seq,
				"attempt", attempt,
				"max_attempts", job.MaxAttempts,
				"error_kind", outcome.ErrorKind)
		} else {
			if err := e.store.UpdateItemOutcome(tx, job.ID, item.Seq, ItemStatusFailed, outcome.ErrorKind, outcome.Message, outcome.Retryable, nil, now); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return errors.Wrap(err, "failed to commit item failure")
			}
			e.record(ctx, job.ID, audit.EventItemFailed, map[string]any{
				"seq":        item.Seq,
				"attempt":    attempt,
				"error_kind": outcome.ErrorKind,
				"message":    outcome.Message,
				"retryable":  outcome.Retryable,
			})
			e.logger.Warnw("Item failed permanently",
				"job_id", job.ID,
				"seq", item.Seq,
				"attempt", attempt,
				"error_kind", outcome.ErrorKind)
		}

	default:
		return errors.AssertionFailedf("unknown outcome kind %q from task %s", outcome.Kind, task.Name())
	}

	return nil
}

// finalize computes and persists the job-level status from the item counts.
func (e *Executor) finalize(ctx context.Context, jobID string) (*JobResult, error) {
	pending, succeeded, failed, skipped, err := e.store.CountItemStatuses(jobID)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, errors.AssertionFailedf("job %s finalized with %d pending items", jobID, pending)
	}

	var status JobStatus
	switch {
	case failed == 0:
		status = JobStatusCompleted
	case succeeded+skipped > 0:
		status = JobStatusCompletedWithErrors
	default:
		status = JobStatusFailed
	}

	if err := e.store.FinalizeJob(jobID, status, succeeded, failed, skipped, e.timeNow()); err != nil {
		return nil, err
	}

	e.record(ctx, jobID, audit.EventJobCompleted, map[string]any{
		"status":    status,
		"succeeded": succeeded,
		"failed":    failed,
		"skipped":   skipped,
	})

	e.logger.Infow("Job completed",
		"job_id", jobID,
		"status", status,
		"succeeded", succeeded,
		"failed", failed,
		"skipped", skipped)

	job, err := e.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	return e.buildResult(job)
}

// buildResult assembles a JobResult, including failed item details.
func (e *Executor) buildResult(job *Job) (*JobResult, error) {
	result := &JobResult{
		JobID:      job.ID,
		Status:     job.Status,
		TotalItems: job.TotalItems,
		Succeeded:  job.Succeeded,
		Failed:     job.Failed,
		Skipped:    job.Skipped,
	}

	if job.Failed > 0 {
		failedItems, err := e.store.ListFailedItems(job.ID)
		if err != nil {
			return nil, err
		}
		for _, item := range failedItems {
			result.FailedItems = append(result.FailedItems, ItemFailure{
				Seq:       item.Seq,
				ErrorKind: item.ErrorKind,
				Message:   item.ErrorMessage,
			})
		}
	}

	return result, nil
}

// persistCounts writes intermediate progress so observers see counts that
// never exceed the fixed total.
func (e *Executor) persistCounts(jobID string) error {
	_, succeeded, failed, skipped, err := e.store.CountItemStatuses(jobID)
	if err != nil {
		return err
	}
	return e.store.UpdateJobCounts(jobID, succeeded, failed, skipped, e.timeNow())
}

// record emits one audit event; audit failures are logged, never allowed to
// abort execution.
func (e *Executor) record(ctx context.Context, jobID string, kind audit.EventKind, payload any) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(ctx, jobID, kind, payload); err != nil {
		e.logger.Warnw("Failed to record audit event",
			"job_id", jobID,
			"kind", kind,
			"error", err)
	}
}

// invokeTask calls the task with panic isolation: an unhandled panic is
// treated as a retryable failure, never allowed to escape the item scope.
func invokeTask(ctx context.Context, task Task, item *ItemContext) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Fail("panic", fmt.Sprintf("task panicked: %v", r), true)
		}
	}()
	return task.Execute(ctx, item)
}

// rollbackTaskScope undoes the task's domain writes while keeping the item
// transaction open for the bookkeeping update that follows.
func rollbackTaskScope(tx *sql.Tx) error {
	if _, err := tx.Exec("ROLLBACK TO task_scope"); err != nil {
		return errors.Wrap(err, "failed to roll back task savepoint")
	}
	if _, err := tx.Exec("RELEASE task_scope"); err != nil {
		return errors.Wrap(err, "failed to release task savepoint")
	}
	return nil
}
