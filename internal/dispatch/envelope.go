// Package dispatch runs order lifecycle operations as named, retryable tasks
// and normalizes every outcome into one response envelope.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/neomorfeo/orderdesk/internal/domain"
)

// State is the lifecycle state of one task.
type State string

const (
	StateSubmitted      State = "submitted"
	StateExecuting      State = "executing"
	StateRetrying       State = "retrying"
	StateSucceeded      State = "succeeded"
	StateFailedDomain   State = "failed_domain"
	StateFailedTerminal State = "failed_terminal"
)

// Terminal reports whether no further attempt will follow.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailedDomain || s == StateFailedTerminal
}

// Task is one submitted unit of work.
type Task struct {
	// ID correlates the task with its response envelope.
	ID          string          `json:"correlation_id"`
	Operation   Operation       `json:"operation"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ReplyTo     string          `json:"reply_to,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// ErrorBody is the structured error carried by a failed envelope.
type ErrorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// Envelope is the uniform response for every finished task.
type Envelope struct {
	Operation     Operation       `json:"operation"`
	Success       bool            `json:"success"`
	Result        json.RawMessage `json:"result"`
	Error         *ErrorBody      `json:"error"`
	CorrelationID string          `json:"correlation_id"`
	State         State           `json:"state"`
	Attempts      int             `json:"attempts"`
	ReplyTo       string          `json:"reply_to,omitempty"`
	CompletedAt   time.Time       `json:"completed_at"`
}

// Sink receives terminal envelopes. Implementations must tolerate the same
// envelope being delivered more than once.
type Sink interface {
	Deliver(ctx context.Context, env Envelope) error
}
