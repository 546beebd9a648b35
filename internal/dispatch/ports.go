package dispatch

import (
	"context"
	"errors"
	"time"
)

// ErrTaskNotFound is returned when no task matches the requested id.
var ErrTaskNotFound = errors.New("task not found")

// Handle identifies an accepted task.
type Handle struct {
	JobID         int64     `json:"job_id"`
	CorrelationID string    `json:"correlation_id"`
	Operation     Operation `json:"operation"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// TaskStatus is the observable progress of a task.
type TaskStatus struct {
	CorrelationID string    `json:"correlation_id"`
	Operation     Operation `json:"operation"`
	State         State     `json:"state"`
	Attempt       int       `json:"attempt"`
	// Envelope is set once the task is terminal.
	Envelope *Envelope `json:"envelope,omitempty"`
}

// Submitter enqueues tasks for background execution.
type Submitter interface {
	Submit(ctx context.Context, op Operation, payload []byte, replyTo string) (Handle, error)
}

// Tracker reports the progress of submitted tasks.
type Tracker interface {
	Status(ctx context.Context, correlationID string) (TaskStatus, error)
}

// TaskRecord is what the result store knows about a task.
type TaskRecord struct {
	Handle
	// Envelope is nil until the task is terminal.
	Envelope *Envelope
}

// ResultStore keeps submitted tasks and their terminal envelopes for polling.
type ResultStore interface {
	Sink
	Register(ctx context.Context, h Handle) error
	Lookup(ctx context.Context, correlationID string) (TaskRecord, error)
}
