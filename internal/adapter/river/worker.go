package river

import (
	"context"
	"time"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/orderdesk/internal/dispatch"
)

// TaskWorker runs dispatch tasks from the River queue. River owns attempt
// counting and scheduling; the dispatcher decides what each outcome means.
type TaskWorker struct {
	river.WorkerDefaults[TaskArgs]
	dispatcher *dispatch.Dispatcher
}

// NewTaskWorker creates a worker that hands jobs to dispatcher.
func NewTaskWorker(dispatcher *dispatch.Dispatcher) *TaskWorker {
	return &TaskWorker{dispatcher: dispatcher}
}

// Work processes a single task job.
func (w *TaskWorker) Work(ctx context.Context, job *river.Job[TaskArgs]) error {
	out, err := w.dispatcher.Attempt(ctx, job.Args.Task(), job.Attempt)
	if err != nil {
		// The response was not delivered. A snooze runs the task again without
		// spending an attempt, so this holds on the last attempt too.
		return river.JobSnooze(w.redeliveryDelay(job))
	}

	switch out.State {
	case dispatch.StateSucceeded:
		return nil
	case dispatch.StateFailedDomain:
		return river.JobCancel(out.Err)
	default:
		return out.Err
	}
}

// NextRetry schedules the next attempt after the operation's fixed delay.
// Unknown operations fall back to River's default schedule.
func (w *TaskWorker) NextRetry(job *river.Job[TaskArgs]) time.Time {
	desc, ok := w.dispatcher.Registry().Lookup(dispatch.Operation(job.Args.Operation))
	if !ok {
		return time.Time{}
	}
	return time.Now().Add(desc.Retry.Delay)
}

// minRedeliveryDelay keeps a sink that keeps failing from spinning the queue.
const minRedeliveryDelay = time.Second

func (w *TaskWorker) redeliveryDelay(job *river.Job[TaskArgs]) time.Duration {
	delay := minRedeliveryDelay
	if desc, ok := w.dispatcher.Registry().Lookup(dispatch.Operation(job.Args.Operation)); ok && desc.Retry.Delay > delay {
		delay = desc.Retry.Delay
	}
	return delay
}
