package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/orderdesk/internal/dispatch"
)

// TracingSink wraps a dispatch.Sink with OpenTelemetry tracing.
type TracingSink struct {
	next   dispatch.Sink
	tracer trace.Tracer
}

// Compile-time check: TracingSink implements dispatch.Sink.
var _ dispatch.Sink = (*TracingSink)(nil)

// NewTracingSink creates a tracing decorator around the given sink.
func NewTracingSink(next dispatch.Sink) *TracingSink {
	return &TracingSink{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (s *TracingSink) Deliver(ctx context.Context, env dispatch.Envelope) error {
	ctx, span := s.tracer.Start(ctx, "Sink.Deliver",
		trace.WithAttributes(
			attribute.String("task.operation", string(env.Operation)),
			attribute.String("task.correlation_id", env.CorrelationID),
			attribute.String("task.state", string(env.State)),
			attribute.Int("task.attempts", env.Attempts),
			attribute.Bool("task.success", env.Success),
		),
	)
	defer span.End()

	if env.ReplyTo != "" {
		span.SetAttributes(attribute.String("task.reply_to", env.ReplyTo))
	}

	err := s.next.Deliver(ctx, env)
	if err != nil {
		recordError(span, err)
	}
	return err
}
