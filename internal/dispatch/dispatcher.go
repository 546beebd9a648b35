package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/orderdesk/internal/domain"
)

// Outcome is the result of one attempt.
type Outcome struct {
	State State
	// Envelope is set for terminal states only.
	Envelope Envelope
	// Err is the handler failure, nil on success.
	Err error
	// RetryAfter is the wait before the next attempt when State is StateRetrying.
	RetryAfter time.Duration
}

// Dispatcher applies descriptor policies uniformly to every task.
type Dispatcher struct {
	registry *Registry
	sink     Sink
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher that delivers terminal envelopes to sink.
func NewDispatcher(registry *Registry, sink Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// Registry returns the descriptor table the dispatcher runs.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Attempt executes the attempt-th try (1-based) of task. Terminal outcomes are
// delivered to the sink before Attempt returns; the returned error reports a
// delivery failure only.
func (d *Dispatcher) Attempt(ctx context.Context, task Task, attempt int) (Outcome, error) {
	log := d.logger.With(
		"operation", task.Operation,
		"correlation_id", task.ID,
		"attempt", attempt,
	)

	desc, ok := d.registry.Lookup(task.Operation)
	if !ok {
		err := fmt.Errorf("%w: unknown operation %q", domain.ErrInvalidRequest, task.Operation)
		return d.finish(ctx, log, task, attempt, StateFailedDomain, nil, err)
	}

	log.DebugContext(ctx, "executing task")

	result, err := d.execute(ctx, desc, task)
	if err == nil {
		encoded, mErr := json.Marshal(result)
		if mErr == nil {
			return d.finish(ctx, log, task, attempt, StateSucceeded, encoded, nil)
		}
		err = fmt.Errorf("encoding result: %w", mErr)
	}

	if !domain.IsTransient(err) {
		return d.finish(ctx, log, task, attempt, StateFailedDomain, nil, err)
	}

	if attempt < desc.Retry.MaxAttempts() {
		log.WarnContext(ctx, "task failed, will retry",
			"error", err,
			"retry_after", desc.Retry.Delay,
		)
		return Outcome{State: StateRetrying, Err: err, RetryAfter: desc.Retry.Delay}, nil
	}

	return d.finish(ctx, log, task, attempt, StateFailedTerminal, nil,
		fmt.Errorf("giving up after %d attempts: %w", attempt, err))
}

// execute runs the handler under the descriptor's timeout.
func (d *Dispatcher) execute(ctx context.Context, desc Descriptor, task Task) (any, error) {
	if desc.Timeout <= 0 {
		return desc.Handler(ctx, task)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, desc.Timeout)
	defer cancel()

	result, err := desc.Handler(attemptCtx, task)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("attempt exceeded %s: %w: %w", desc.Timeout, context.DeadlineExceeded, err)
	}
	return result, err
}

// Run executes task in-process until it reaches a terminal state, waiting the
// descriptor's delay between attempts.
func (d *Dispatcher) Run(ctx context.Context, task Task) (Envelope, error) {
	for attempt := 1; ; attempt++ {
		out, err := d.Attempt(ctx, task, attempt)
		if err != nil || out.State != StateRetrying {
			return out.Envelope, err
		}

		timer := time.NewTimer(out.RetryAfter)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			log := d.logger.With("operation", task.Operation, "correlation_id", task.ID, "attempt", attempt)
			stopped, err := d.finish(context.WithoutCancel(ctx), log, task, attempt, StateFailedTerminal, nil,
				fmt.Errorf("stopped before retry: %w", errors.Join(ctx.Err(), out.Err)))
			return stopped.Envelope, err
		}
	}
}

// finish builds the terminal envelope and hands it to the sink.
func (d *Dispatcher) finish(ctx context.Context, log *slog.Logger, task Task, attempt int, state State, result json.RawMessage, cause error) (Outcome, error) {
	env := Envelope{
		Operation:     task.Operation,
		Success:       state == StateSucceeded,
		Result:        result,
		CorrelationID: task.ID,
		State:         state,
		Attempts:      attempt,
		ReplyTo:       task.ReplyTo,
		CompletedAt:   d.now().UTC(),
	}

	switch state {
	case StateFailedTerminal:
		env.Error = &ErrorBody{Kind: domain.KindFailedTerminal, Message: cause.Error()}
		log.ErrorContext(ctx, "task failed permanently", "error", cause)
	case StateFailedDomain:
		env.Error = &ErrorBody{Kind: domain.KindOf(cause), Message: cause.Error()}
		log.InfoContext(ctx, "task rejected", "kind", env.Error.Kind, "error", cause)
	default:
		log.InfoContext(ctx, "task succeeded")
	}

	out := Outcome{State: state, Envelope: env, Err: cause}
	if err := d.sink.Deliver(ctx, env); err != nil {
		log.ErrorContext(ctx, "delivering response failed", "error", err)
		return out, fmt.Errorf("delivering response: %w", err)
	}
	return out, nil
}
