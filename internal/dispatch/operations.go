package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neomorfeo/orderdesk/internal/app"
	"github.com/neomorfeo/orderdesk/internal/domain"
)

// Order operations.
const (
	OpCreate   Operation = "create"
	OpRead     Operation = "read"
	OpList     Operation = "list"
	OpCancel   Operation = Operation(domain.EventCancel)
	OpValidate Operation = Operation(domain.EventValidate)
	OpReject   Operation = Operation(domain.EventReject)
	OpSchedule Operation = Operation(domain.EventSchedule)
	OpStart    Operation = Operation(domain.EventStart)
	OpComplete Operation = Operation(domain.EventComplete)
)

// transitionTargets maps state-changing operations to the status they request.
var transitionTargets = map[Operation]domain.Status{
	OpValidate: domain.StatusAccepted,
	OpReject:   domain.StatusRejected,
	OpCancel:   domain.StatusCancelled,
	OpSchedule: domain.StatusScheduled,
	OpStart:    domain.StatusStarted,
	OpComplete: domain.StatusCompleted,
}

// TransitionOperations lists the state-changing operations.
var TransitionOperations = []Operation{OpValidate, OpReject, OpCancel, OpSchedule, OpStart, OpComplete}

// OrderEngine is the lifecycle engine the order tasks drive.
type OrderEngine interface {
	Create(ctx context.Context, input app.CreateInput, actor domain.Actor) (domain.Order, error)
	Get(ctx context.Context, id string) (domain.Order, error)
	List(ctx context.Context, filter domain.ListFilter) ([]domain.Order, error)
	Transition(ctx context.Context, in app.TransitionInput) (domain.Order, error)
}

// ActorPayload identifies who requested an operation.
type ActorPayload struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
}

func (a ActorPayload) actor() domain.Actor {
	return domain.Actor{ID: a.ID, Role: a.Role}
}

// CreatePayload is the input of the create task.
type CreatePayload struct {
	CustomerID  string         `json:"customer_id"`
	Service     domain.Service `json:"service"`
	Description string         `json:"description"`
	Actor       ActorPayload   `json:"actor"`
}

// ReadPayload is the input of the read task.
type ReadPayload struct {
	OrderID string `json:"order_id"`
}

// ListPayload is the optional input of the list task.
type ListPayload struct {
	Status     string `json:"status,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// ChangePayload is the input of every state-changing task.
type ChangePayload struct {
	OrderID string       `json:"order_id"`
	Actor   ActorPayload `json:"actor"`
	Comment string       `json:"comment,omitempty"`
}

// StateUpdateResult is one history entry in a task result.
type StateUpdateResult struct {
	NewStatus domain.Status `json:"new_status"`
	When      time.Time     `json:"when"`
	By        string        `json:"by"`
	Comment   string        `json:"comment"`
}

// OrderResult is the task result representation of an order.
type OrderResult struct {
	ID            string              `json:"id"`
	CustomerID    string              `json:"customer_id"`
	Service       domain.Service      `json:"service"`
	ServiceTitle  string              `json:"service_title"`
	Price         int                 `json:"price"`
	Description   string              `json:"description"`
	Status        domain.Status       `json:"status"`
	Created       time.Time           `json:"created"`
	UpdateHistory []StateUpdateResult `json:"update_history"`
}

// NewOrderResult converts a domain order into its result form.
func NewOrderResult(o domain.Order) OrderResult {
	history := make([]StateUpdateResult, len(o.UpdateHistory))
	for i, u := range o.UpdateHistory {
		history[i] = StateUpdateResult{NewStatus: u.NewStatus, When: u.When, By: u.By, Comment: u.Comment}
	}
	return OrderResult{
		ID:            o.ID,
		CustomerID:    o.CustomerID,
		Service:       o.Service,
		ServiceTitle:  o.Service.Title(),
		Price:         o.Service.Price(),
		Description:   o.Description,
		Status:        o.Status,
		Created:       o.Created,
		UpdateHistory: history,
	}
}

// OrderOperations builds the descriptor table for every order task.
func OrderOperations(engine OrderEngine, retry RetryPolicy, timeout time.Duration) []Descriptor {
	describe := func(name Operation, h Handler) Descriptor {
		return Descriptor{Name: name, Handler: h, Retry: retry, Timeout: timeout, Idempotent: true}
	}

	out := []Descriptor{
		describe(OpCreate, createHandler(engine)),
		describe(OpRead, readHandler(engine)),
		describe(OpList, listHandler(engine)),
	}
	for _, op := range TransitionOperations {
		out = append(out, describe(op, transitionHandler(engine, transitionTargets[op])))
	}
	return out
}

func createHandler(engine OrderEngine) Handler {
	return func(ctx context.Context, task Task) (any, error) {
		var p CreatePayload
		if err := decodePayload(task.Payload, &p); err != nil {
			return nil, err
		}
		order, err := engine.Create(ctx, app.CreateInput{
			// Derived from the correlation id so a redelivered task finds its own order.
			ID:          app.DeriveOrderID(task.ID),
			CustomerID:  p.CustomerID,
			Service:     p.Service,
			Description: p.Description,
		}, p.Actor.actor())
		if err != nil {
			return nil, err
		}
		return NewOrderResult(order), nil
	}
}

func readHandler(engine OrderEngine) Handler {
	return func(ctx context.Context, task Task) (any, error) {
		var p ReadPayload
		if err := decodePayload(task.Payload, &p); err != nil {
			return nil, err
		}
		if p.OrderID == "" {
			return nil, fmt.Errorf("%w: order_id is required", domain.ErrInvalidRequest)
		}
		order, err := engine.Get(ctx, p.OrderID)
		if err != nil {
			return nil, err
		}
		return NewOrderResult(order), nil
	}
}

func listHandler(engine OrderEngine) Handler {
	return func(ctx context.Context, task Task) (any, error) {
		var p ListPayload
		if len(task.Payload) > 0 {
			if err := decodePayload(task.Payload, &p); err != nil {
				return nil, err
			}
		}

		filter := domain.ListFilter{CustomerID: p.CustomerID, Limit: p.Limit, Offset: p.Offset}
		if p.Status != "" {
			s := domain.Status(p.Status)
			if !s.Valid() {
				return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, p.Status)
			}
			filter.Status = &s
		}

		orders, err := engine.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		out := make([]OrderResult, len(orders))
		for i, o := range orders {
			out[i] = NewOrderResult(o)
		}
		return out, nil
	}
}

func transitionHandler(engine OrderEngine, target domain.Status) Handler {
	return func(ctx context.Context, task Task) (any, error) {
		var p ChangePayload
		if err := decodePayload(task.Payload, &p); err != nil {
			return nil, err
		}
		if p.OrderID == "" {
			return nil, fmt.Errorf("%w: order_id is required", domain.ErrInvalidRequest)
		}
		order, err := engine.Transition(ctx, app.TransitionInput{
			OrderID:   p.OrderID,
			Requested: target,
			Actor:     p.Actor.actor(),
			Comment:   p.Comment,
			When:      task.SubmittedAt,
		})
		if err != nil {
			return nil, err
		}
		return NewOrderResult(order), nil
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decoding payload: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}
