package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/orderdesk/internal/domain"
)

// OrderService orchestrates order lifecycle operations.
type OrderService struct {
	repo       domain.OrderRepository
	validator  domain.TransitionValidator
	authorizer domain.Authorizer
	logger     *slog.Logger
	now        func() time.Time
}

// Option customizes an OrderService.
type Option func(*OrderService)

// WithLogger sets the logger used for lifecycle decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(s *OrderService) { s.logger = logger }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

// NewOrderService creates a service with the given adapters.
func NewOrderService(repo domain.OrderRepository, validator domain.TransitionValidator, authorizer domain.Authorizer, opts ...Option) *OrderService {
	s := &OrderService{
		repo:       repo,
		validator:  validator,
		authorizer: authorizer,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput is the data a customer supplies for a new order.
type CreateInput struct {
	// ID is optional. When set, creating twice with the same ID returns the
	// first order instead of failing.
	ID          string
	CustomerID  string
	Service     domain.Service
	Description string
}

// Create persists a new order in the "underReview" state.
func (s *OrderService) Create(ctx context.Context, input CreateInput, actor domain.Actor) (domain.Order, error) {
	if input.CustomerID == "" {
		return domain.Order{}, fmt.Errorf("%w: customer id is required", domain.ErrInvalidRequest)
	}
	if !input.Service.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown service %q", domain.ErrInvalidRequest, input.Service)
	}
	if err := s.authorizer.Authorize(ctx, actor, domain.EventCreate); err != nil {
		return domain.Order{}, err
	}

	id := input.ID
	if id == "" {
		id = generateID()
	}

	order := domain.NewOrder(id, input.CustomerID, input.Service, input.Description, s.now())

	stored, err := s.repo.Insert(ctx, order)
	if errors.Is(err, domain.ErrOrderExists) && input.ID != "" {
		s.logger.InfoContext(ctx, "order already created", "order_id", id)
		return s.repo.FindByID(ctx, id)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("creating order: %w", err)
	}

	return stored, nil
}

// Get returns an order by its unique identifier.
func (s *OrderService) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns orders matching the given filter.
func (s *OrderService) List(ctx context.Context, filter domain.ListFilter) ([]domain.Order, error) {
	return s.repo.FindAll(ctx, filter)
}

// TransitionInput describes one requested status change.
type TransitionInput struct {
	OrderID   string
	Requested domain.Status
	Actor     domain.Actor
	Comment   string
	// When is recorded in the history entry; zero means now.
	When time.Time
}

// Transition validates and applies a status change. Requesting the status the
// order is already in, after it was reached through a transition, succeeds
// without appending anything, so a redelivered request is harmless.
func (s *OrderService) Transition(ctx context.Context, in TransitionInput) (domain.Order, error) {
	order, err := s.repo.FindByID(ctx, in.OrderID)
	if err != nil {
		return domain.Order{}, err
	}

	event, reachable := domain.EventFor(in.Requested)

	if reachable && order.Status == in.Requested {
		if err := s.authorizer.Authorize(ctx, in.Actor, event); err != nil {
			return domain.Order{}, err
		}
		s.logger.InfoContext(ctx, "transition already applied",
			"order_id", order.ID,
			"status", order.Status,
		)
		return order, nil
	}

	if !reachable {
		return domain.Order{}, &domain.TransitionError{Current: order.Status, Requested: in.Requested}
	}

	if _, err := s.validator.Apply(ctx, order.Status, event); err != nil {
		return domain.Order{}, err
	}

	if err := s.authorizer.Authorize(ctx, in.Actor, event); err != nil {
		return domain.Order{}, err
	}

	when := in.When
	if when.IsZero() {
		when = s.now()
	}

	updated := order.WithStatus(in.Requested, in.Actor.ID, in.Comment, when)

	stored, err := s.repo.CompareAndUpdate(ctx, order.ID, order.Status, updated)
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		return s.resolveConflict(ctx, in, conflict)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("updating order: %w", err)
	}

	s.logger.InfoContext(ctx, "order transitioned",
		"order_id", stored.ID,
		"event", event,
		"from", order.Status,
		"to", stored.Status,
		"by", in.Actor.ID,
	)

	return stored, nil
}

// resolveConflict re-reads an order that moved during a transition. If it moved to the
// requested status, a concurrent duplicate of this request won and the call succeeds.
func (s *OrderService) resolveConflict(ctx context.Context, in TransitionInput, conflict *domain.ConflictError) (domain.Order, error) {
	current, err := s.repo.FindByID(ctx, in.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if current.Status == in.Requested {
		s.logger.InfoContext(ctx, "transition applied concurrently", "order_id", current.ID, "status", current.Status)
		return current, nil
	}
	return domain.Order{}, conflict
}
