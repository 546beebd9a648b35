package river

import (
	"context"
	"errors"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/neomorfeo/orderdesk/internal/dispatch"
)

// Compile-time check: Tracker implements dispatch.Tracker.
var _ dispatch.Tracker = (*Tracker)(nil)

// Tracker reports task progress from the result store, falling back to the
// River job row while the task is still in flight.
type Tracker struct {
	client *Client
	store  dispatch.ResultStore
}

// NewTracker creates a tracker over the River client and result store.
func NewTracker(client *Client, store dispatch.ResultStore) *Tracker {
	return &Tracker{client: client, store: store}
}

// Status implements dispatch.Tracker.
func (t *Tracker) Status(ctx context.Context, correlationID string) (dispatch.TaskStatus, error) {
	rec, err := t.store.Lookup(ctx, correlationID)
	if err != nil {
		return dispatch.TaskStatus{}, err
	}

	status := dispatch.TaskStatus{CorrelationID: rec.CorrelationID, Operation: rec.Operation}
	if rec.Envelope != nil {
		status.State = rec.Envelope.State
		status.Attempt = rec.Envelope.Attempts
		status.Envelope = rec.Envelope
		return status, nil
	}

	job, err := t.client.JobGet(ctx, rec.JobID)
	if errors.Is(err, river.ErrNotFound) {
		return dispatch.TaskStatus{}, dispatch.ErrTaskNotFound
	}
	if err != nil {
		return dispatch.TaskStatus{}, fmt.Errorf("reading job %d: %w", rec.JobID, err)
	}

	status.State = stateOf(job.State)
	status.Attempt = job.Attempt
	return status, nil
}

// stateOf maps River job states onto task states.
func stateOf(s rivertype.JobState) dispatch.State {
	switch s {
	case rivertype.JobStateRunning:
		return dispatch.StateExecuting
	case rivertype.JobStateRetryable:
		return dispatch.StateRetrying
	case rivertype.JobStateCompleted:
		return dispatch.StateSucceeded
	case rivertype.JobStateCancelled:
		return dispatch.StateFailedDomain
	case rivertype.JobStateDiscarded:
		return dispatch.StateFailedTerminal
	default:
		return dispatch.StateSubmitted
	}
}
