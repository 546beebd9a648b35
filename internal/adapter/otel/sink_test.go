package otel_test

import (
	"context"
	"fmt"
	"testing"

	"go.opentelemetry.io/otel/codes"

	adapter "github.com/neomorfeo/orderdesk/internal/adapter/otel"
	"github.com/neomorfeo/orderdesk/internal/dispatch"
)

type mockSink struct {
	envelopes []dispatch.Envelope
}

func (m *mockSink) Deliver(_ context.Context, env dispatch.Envelope) error {
	m.envelopes = append(m.envelopes, env)
	return nil
}

type failingSink struct{}

func (failingSink) Deliver(context.Context, dispatch.Envelope) error {
	return fmt.Errorf("broker unreachable")
}

func TestTracingSink_Deliver_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := &mockSink{}
	sink := adapter.NewTracingSink(inner)

	env := dispatch.Envelope{
		Operation:     dispatch.OpValidate,
		Success:       true,
		CorrelationID: "corr-1",
		State:         dispatch.StateSucceeded,
		Attempts:      2,
		ReplyTo:       "amqp",
	}
	if err := sink.Deliver(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "Sink.Deliver" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "Sink.Deliver")
	}

	assertAttribute(t, spans[0], "task.operation", "validate")
	assertAttribute(t, spans[0], "task.correlation_id", "corr-1")
	assertAttribute(t, spans[0], "task.attempts", "2")
	assertAttribute(t, spans[0], "task.reply_to", "amqp")

	if len(inner.envelopes) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(inner.envelopes))
	}
}

func TestTracingSink_Deliver_RecordsError(t *testing.T) {
	exporter := setupTestTracer(t)
	sink := adapter.NewTracingSink(failingSink{})

	if err := sink.Deliver(context.Background(), dispatch.Envelope{CorrelationID: "corr-1"}); err == nil {
		t.Fatal("expected error")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want %v", spans[0].Status.Code, codes.Error)
	}
}
