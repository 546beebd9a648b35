package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/orderdesk/internal/domain"
)

const tracerName = "github.com/neomorfeo/orderdesk/internal/adapter/otel"

// TracingRepository wraps a domain.OrderRepository with OpenTelemetry tracing.
// Each method creates a span with semantic attributes and records errors.
type TracingRepository struct {
	next   domain.OrderRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.OrderRepository.
var _ domain.OrderRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.OrderRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) FindByID(ctx context.Context, id string) (domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.FindByID",
		trace.WithAttributes(attribute.String("order.id", id)),
	)
	defer span.End()

	order, err := r.next.FindByID(ctx, id)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.String("order.status", string(order.Status)))
	}
	return order, err
}

func (r *TracingRepository) FindAll(ctx context.Context, filter domain.ListFilter) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.FindAll",
		trace.WithAttributes(
			attribute.Int("filter.limit", filter.Limit),
			attribute.Int("filter.offset", filter.Offset),
		),
	)
	defer span.End()

	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}
	if filter.CustomerID != "" {
		span.SetAttributes(attribute.String("filter.customer_id", filter.CustomerID))
	}

	orders, err := r.next.FindAll(ctx, filter)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(orders)))
	}
	return orders, err
}

func (r *TracingRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Insert",
		trace.WithAttributes(
			attribute.String("order.id", order.ID),
			attribute.String("order.service", string(order.Service)),
		),
	)
	defer span.End()

	stored, err := r.next.Insert(ctx, order)
	if err != nil {
		recordError(span, err)
	}
	return stored, err
}

func (r *TracingRepository) CompareAndUpdate(ctx context.Context, id string, expected domain.Status, order domain.Order) (domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.CompareAndUpdate",
		trace.WithAttributes(
			attribute.String("order.id", id),
			attribute.String("order.expected_status", string(expected)),
			attribute.String("order.status", string(order.Status)),
		),
	)
	defer span.End()

	stored, err := r.next.CompareAndUpdate(ctx, id, expected, order)
	if err != nil {
		recordError(span, err)
	}
	return stored, err
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.kind", string(domain.KindOf(err))))
}
