package domain

import "context"

// OrderRepository defines the persistence contract for orders.
type OrderRepository interface {
	FindByID(ctx context.Context, id string) (Order, error)
	FindAll(ctx context.Context, filter ListFilter) ([]Order, error)
	Insert(ctx context.Context, order Order) (Order, error)
	// CompareAndUpdate stores order only if the persisted status still equals expected.
	// It returns a *ConflictError when the status has moved, and ErrOrderNotFound when
	// the order is absent.
	CompareAndUpdate(ctx context.Context, id string, expected Status, order Order) (Order, error)
}

// ListFilter holds optional criteria for listing orders.
type ListFilter struct {
	Status     *Status
	CustomerID string
	Limit      int
	Offset     int
}

// TransitionValidator checks an event against the transition table.
type TransitionValidator interface {
	Apply(ctx context.Context, current Status, event Event) (Status, error)
}

// Authorizer decides whether an actor may trigger an event.
type Authorizer interface {
	Authorize(ctx context.Context, actor Actor, event Event) error
}
