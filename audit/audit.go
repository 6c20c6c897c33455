// Package audit defines the narrow recording interface the batch core calls
// for every state transition. Storage and hash-chaining live behind this
// interface in the surrounding platform; the core only guarantees that each
// transition produces exactly one Record call.
package audit

import (
	"context"
)

// EventKind classifies an audit event emitted by the executor or scheduler.
type EventKind string

const (
	EventJobCreated    EventKind = "job_created"
	EventItemSucceeded EventKind = "item_succeeded"
	EventItemRetry     EventKind = "item_retry"
	EventItemFailed    EventKind = "item_failed"
	EventItemSkipped   EventKind = "item_skipped"
	EventJobCompleted  EventKind = "job_completed"
	EventScheduleFired EventKind = "schedule_fired"
)

// Recorder receives one call per state transition. Implementations must not
// mutate the payload; it may be shared with the caller.
type Recorder interface {
	Record(ctx context.Context, jobID string, kind EventKind, payload any) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, jobID string, kind EventKind, payload any) error

func (f RecorderFunc) Record(ctx context.Context, jobID string, kind EventKind, payload any) error {
	return f(ctx, jobID, kind, payload)
}
