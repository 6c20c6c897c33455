package batch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finledger/batchcore/errors"
)

// JobStatus represents the current state of a batch job.
type JobStatus string

const (
	JobStatusCreated             JobStatus = "created"
	JobStatusRunning             JobStatus = "running"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusFailed              JobStatus = "failed"
)

// IsTerminal reports whether the job status is final. A job is never mutated
// after reaching a terminal status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed:
		return true
	default:
		return false
	}
}

// ItemStatus represents the current state of one item within a job.
type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusRunning   ItemStatus = "running"
	ItemStatusSucceeded ItemStatus = "succeeded"
	ItemStatusFailed    ItemStatus = "failed"
	ItemStatusSkipped   ItemStatus = "skipped"
)

// IsTerminal reports whether the item status is final. A failed item that
// still has attempts remaining goes back to pending instead of failed.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemStatusSucceeded, ItemStatusFailed, ItemStatusSkipped:
		return true
	default:
		return false
	}
}

// Job is one invocation of a task over an ordered set of items.
// Total item count is fixed at creation; succeeded+failed+skipped never
// exceeds it and equals it exactly when the status is terminal.
type Job struct {
	ID             string
	TaskName       string
	IdempotencyKey string
	Status         JobStatus
	TotalItems     int
	Succeeded      int
	Failed         int
	Skipped        int
	MaxAttempts    int
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// Item is one unit of work inside a job. Sequence numbers are 1-based,
// contiguous, assigned at job creation, and never reused.
type Item struct {
	JobID          string
	Seq            int
	Input          json.RawMessage
	Status         ItemStatus
	Attempts       int
	ErrorKind      string
	ErrorMessage   string
	ErrorRetryable bool
	Result         json.RawMessage
	UpdatedAt      time.Time
}

// DefaultMaxAttempts is used when a job spec leaves max attempts unset.
const DefaultMaxAttempts = 3

// NewJob builds a job and its items from raw inputs. The caller persists
// both atomically via Store.CreateJobWithItems.
func NewJob(taskName, idempotencyKey string, inputs []json.RawMessage, maxAttempts int, now time.Time) (*Job, []*Item, error) {
	if taskName == "" {
		return nil, nil, errors.New("task name cannot be empty")
	}
	if idempotencyKey == "" {
		return nil, nil, errors.New("idempotency key cannot be empty")
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	job := &Job{
		ID:             fmt.Sprintf("BJ_%s", uuid.NewString()),
		TaskName:       taskName,
		IdempotencyKey: idempotencyKey,
		Status:         JobStatusCreated,
		TotalItems:     len(inputs),
		MaxAttempts:    maxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	items := make([]*Item, 0, len(inputs))
	for i, input := range inputs {
		items = append(items, &Item{
			JobID:     job.ID,
			Seq:       i + 1,
			Input:     input,
			Status:    ItemStatusPending,
			UpdatedAt: now,
		})
	}

	return job, items, nil
}
