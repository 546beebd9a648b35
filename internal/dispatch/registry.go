package dispatch

import (
	"context"
	"fmt"
	"time"
)

// Operation names a registered task.
type Operation string

// Handler executes one attempt of a task and returns its JSON-encodable result.
type Handler func(ctx context.Context, task Task) (any, error)

// RetryPolicy controls how transient failures are retried.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
}

// MaxAttempts is the total number of executions the policy allows.
func (p RetryPolicy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// DefaultRetryPolicy retries once after ten seconds.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 1, Delay: 10 * time.Second}

// Descriptor declares a task: its name, handler and execution policy.
type Descriptor struct {
	Name    Operation
	Handler Handler
	Retry   RetryPolicy
	// Timeout bounds a single attempt. Zero disables the bound.
	Timeout time.Duration
	// Idempotent must be true for any task that may be retried or redelivered.
	Idempotent bool
}

// Registry maps operation names to descriptors. It is immutable after construction.
type Registry struct {
	descriptors map[Operation]Descriptor
	names       []Operation
}

// NewRegistry validates and indexes descriptors.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{descriptors: make(map[Operation]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("registering task: empty name")
		}
		if d.Handler == nil {
			return nil, fmt.Errorf("registering task %q: nil handler", d.Name)
		}
		if d.Retry.MaxRetries < 0 {
			return nil, fmt.Errorf("registering task %q: negative max retries", d.Name)
		}
		if !d.Idempotent {
			return nil, fmt.Errorf("registering task %q: tasks are delivered at least once and must be idempotent", d.Name)
		}
		if _, dup := r.descriptors[d.Name]; dup {
			return nil, fmt.Errorf("registering task %q: duplicate name", d.Name)
		}
		r.descriptors[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	return r, nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name Operation) (Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Names returns the registered operations in registration order.
func (r *Registry) Names() []Operation {
	out := make([]Operation, len(r.names))
	copy(out, r.names)
	return out
}
