package river

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/orderdesk/internal/dispatch"
)

// TaskArgs carries one dispatch task through the River queue.
// River serializes it as JSON into its job table, so a worker needs nothing
// beyond the job row to run the task.
type TaskArgs struct {
	CorrelationID string          `json:"correlation_id"`
	Operation     string          `json:"operation"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ReplyTo       string          `json:"reply_to,omitempty"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (TaskArgs) Kind() string { return "order.task" }

// Task converts the job arguments back into a dispatch task.
func (a TaskArgs) Task() dispatch.Task {
	return dispatch.Task{
		ID:          a.CorrelationID,
		Operation:   dispatch.Operation(a.Operation),
		Payload:     a.Payload,
		ReplyTo:     a.ReplyTo,
		SubmittedAt: a.SubmittedAt,
	}
}

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]
