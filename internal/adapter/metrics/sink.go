// Package metrics exposes task outcomes as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/neomorfeo/orderdesk/internal/dispatch"
)

// Compile-time check: Sink implements dispatch.Sink.
var _ dispatch.Sink = (*Sink)(nil)

// Sink counts every terminal envelope before passing it on.
type Sink struct {
	next     dispatch.Sink
	outcomes *prometheus.CounterVec
	attempts *prometheus.HistogramVec
}

// NewSink registers the task metrics with reg and wraps next.
func NewSink(next dispatch.Sink, reg prometheus.Registerer) (*Sink, error) {
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderdesk",
		Name:      "task_outcomes_total",
		Help:      "Finished tasks by operation, final state and error kind.",
	}, []string{"operation", "state", "kind"})

	attempts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orderdesk",
		Name:      "task_attempts",
		Help:      "Attempts a task took to reach its final state.",
		Buckets:   []float64{1, 2, 3, 5, 8},
	}, []string{"operation"})

	for _, c := range []prometheus.Collector{outcomes, attempts} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &Sink{next: next, outcomes: outcomes, attempts: attempts}, nil
}

// Deliver implements dispatch.Sink.
func (s *Sink) Deliver(ctx context.Context, env dispatch.Envelope) error {
	kind := ""
	if env.Error != nil {
		kind = string(env.Error.Kind)
	}
	op := string(env.Operation)
	s.outcomes.WithLabelValues(op, string(env.State), kind).Inc()
	s.attempts.WithLabelValues(op).Observe(float64(env.Attempts))

	return s.next.Deliver(ctx, env)
}
