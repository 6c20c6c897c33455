package audit

import (
	"context"
	"sync"
)

// Event is one recorded audit entry, captured in arrival order.
type Event struct {
	JobID   string
	Kind    EventKind
	Payload any
}

// MemoryRecorder captures events in order for tests and local inspection.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(ctx context.Context, jobID string, kind EventKind, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{JobID: jobID, Kind: kind, Payload: payload})
	return nil
}

// Events returns a copy of all recorded events in arrival order.
func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// EventsForJob returns recorded events for one job id, in arrival order.
func (r *MemoryRecorder) EventsForJob(jobID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.JobID == jobID {
			out = append(out, ev)
		}
	}
	return out
}

// Kinds returns just the event kinds for one job, in arrival order.
func (r *MemoryRecorder) Kinds(jobID string) []EventKind {
	events := r.EventsForJob(jobID)
	kinds := make([]EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}
