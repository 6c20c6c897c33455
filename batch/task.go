// Package batch provides the batch-execution core: the task protocol, the
// task registry, job/item domain types, and the executor that runs jobs with
// per-item isolation and bounded retry.
package batch

import (
	"context"
	"database/sql"
	"encoding/json"
)

// OutcomeKind classifies the result of a single task invocation.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeSkip    OutcomeKind = "skip"
)

// Outcome is the uniform result a task reports for one item.
type Outcome struct {
	Kind OutcomeKind

	// Result carries the task's output payload on success.
	Result json.RawMessage

	// ErrorKind and Message describe a failure. Retryable marks the failure
	// as transient, eligible for re-attempt up to the job's max-attempts.
	ErrorKind string
	Message   string
	Retryable bool

	// Reason explains a skip.
	Reason string
}

// Success builds a successful outcome with an optional result payload.
func Success(result json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeSuccess, Result: result}
}

// Fail builds a failure outcome. A task that wants "this item failed, do not
// retry" passes retryable=false; "transient, try again" passes retryable=true.
func Fail(errorKind, message string, retryable bool) Outcome {
	return Outcome{Kind: OutcomeFailure, ErrorKind: errorKind, Message: message, Retryable: retryable}
}

// Skip builds a skip outcome with a human-readable reason.
func Skip(reason string) Outcome {
	return Outcome{Kind: OutcomeSkip, Reason: reason}
}

// ItemContext carries everything a task needs to execute one item. Domain
// writes issued through Tx join the item's savepoint scope and are rolled
// back by the executor on failure; the task never commits or rolls back.
type ItemContext struct {
	JobID   string
	Seq     int
	Attempt int
	Input   json.RawMessage

	// Tx is the item's transaction scope. Tasks must not call Commit or
	// Rollback on it; the executor owns the transaction boundary.
	Tx *sql.Tx
}

// Task is the contract every batch task implements. Tasks are registered
// once, by name, at process initialization.
//
// Execute performs the operation for one item and reports the outcome. It
// may perform arbitrary domain work through item.Tx but must not manage the
// transaction boundary. A panic inside Execute is caught by the executor and
// treated as a retryable failure.
type Task interface {
	Name() string
	Execute(ctx context.Context, item *ItemContext) Outcome
}

// TaskFunc adapts a function to the Task interface under a fixed name.
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context, item *ItemContext) Outcome
}

func (t TaskFunc) Name() string { return t.TaskName }

func (t TaskFunc) Execute(ctx context.Context, item *ItemContext) Outcome {
	return t.Fn(ctx, item)
}
