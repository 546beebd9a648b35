package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/neomorfeo/orderdesk/internal/adapter/fsm"
	"github.com/neomorfeo/orderdesk/internal/app"
	"github.com/neomorfeo/orderdesk/internal/domain"
)

// --- Mocks ---

type mockRepo struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	// beforeUpdate runs inside CompareAndUpdate before the status check.
	beforeUpdate func(m *mockRepo)
	insertErr    error
}

func newMockRepo() *mockRepo {
	return &mockRepo{orders: make(map[string]domain.Order)}
}

func (m *mockRepo) FindByID(_ context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (m *mockRepo) FindAll(_ context.Context, _ domain.ListFilter) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out, nil
}

func (m *mockRepo) Insert(_ context.Context, o domain.Order) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return domain.Order{}, m.insertErr
	}
	if _, ok := m.orders[o.ID]; ok {
		return domain.Order{}, domain.ErrOrderExists
	}
	m.orders[o.ID] = o
	return o, nil
}

func (m *mockRepo) CompareAndUpdate(_ context.Context, id string, expected domain.Status, o domain.Order) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beforeUpdate != nil {
		hook := m.beforeUpdate
		m.beforeUpdate = nil
		hook(m)
	}
	current, ok := m.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.Status != expected {
		return domain.Order{}, &domain.ConflictError{OrderID: id, Expected: expected, Actual: current.Status}
	}
	m.orders[id] = o
	return o, nil
}

// roleAuthorizer grants creation to customers and everything else to operators.
type roleAuthorizer struct{}

func (roleAuthorizer) Authorize(_ context.Context, actor domain.Actor, event domain.Event) error {
	want := domain.RoleOperator
	if event == domain.EventCreate {
		want = domain.RoleCustomer
	}
	if actor.Role != want {
		return &domain.ForbiddenError{Actor: actor, Event: event}
	}
	return nil
}

var (
	customer = domain.Actor{ID: "c-1", Role: domain.RoleCustomer}
	operator = domain.Actor{ID: "op-1", Role: domain.RoleOperator}
)

func newService(repo *mockRepo) *app.OrderService {
	return app.NewOrderService(repo, fsm.New(), roleAuthorizer{})
}

func mustCreate(t *testing.T, svc *app.OrderService) domain.Order {
	t.Helper()
	order, err := svc.Create(context.Background(), app.CreateInput{
		CustomerID:  customer.ID,
		Service:     domain.ServiceWebSite,
		Description: "company site",
	}, customer)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return order
}

func mustTransition(t *testing.T, svc *app.OrderService, id string, status domain.Status) domain.Order {
	t.Helper()
	order, err := svc.Transition(context.Background(), app.TransitionInput{
		OrderID:   id,
		Requested: status,
		Actor:     operator,
	})
	if err != nil {
		t.Fatalf("transition to %q failed: %v", status, err)
	}
	return order
}

// --- Tests ---

func TestCreate_Success(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)

	order := mustCreate(t, svc)

	if order.Status != domain.StatusUnderReview {
		t.Errorf("Status = %q, want %q", order.Status, domain.StatusUnderReview)
	}
	if len(order.UpdateHistory) != 0 {
		t.Errorf("history has %d entries, want 0", len(order.UpdateHistory))
	}
	if order.ID == "" {
		t.Error("ID should not be empty")
	}

	stored, err := repo.FindByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("order not found in repo: %v", err)
	}
	if stored.Service != domain.ServiceWebSite {
		t.Errorf("stored Service = %q, want %q", stored.Service, domain.ServiceWebSite)
	}
}

func TestCreate_FreshIDs(t *testing.T) {
	svc := newService(newMockRepo())

	a := mustCreate(t, svc)
	b := mustCreate(t, svc)
	if a.ID == b.ID {
		t.Errorf("two creations share id %q", a.ID)
	}
}

func TestCreate_ReplayWithSameID(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	ctx := context.Background()

	input := app.CreateInput{
		ID:         app.DeriveOrderID("task-1"),
		CustomerID: customer.ID,
		Service:    domain.ServiceDesktopApp,
	}

	first, err := svc.Create(ctx, input, customer)
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	second, err := svc.Create(ctx, input, customer)
	if err != nil {
		t.Fatalf("replayed create failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("replay created a different order: %q vs %q", first.ID, second.ID)
	}
	if len(repo.orders) != 1 {
		t.Errorf("repo has %d orders, want 1", len(repo.orders))
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := newService(newMockRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, app.CreateInput{CustomerID: "c-1", Service: "game"}, customer)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("unknown service: expected ErrInvalidRequest, got %v", err)
	}

	_, err = svc.Create(ctx, app.CreateInput{Service: domain.ServiceWebSite}, customer)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("missing customer: expected ErrInvalidRequest, got %v", err)
	}
}

func TestCreate_RequiresCustomer(t *testing.T) {
	svc := newService(newMockRepo())

	_, err := svc.Create(context.Background(), app.CreateInput{
		CustomerID: "c-1",
		Service:    domain.ServiceWebSite,
	}, operator)
	var forbidden *domain.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}

func TestCreate_StorageUnavailable(t *testing.T) {
	repo := newMockRepo()
	repo.insertErr = domain.ErrStorageUnavailable
	svc := newService(repo)

	_, err := svc.Create(context.Background(), app.CreateInput{CustomerID: "c-1", Service: domain.ServiceWebSite}, customer)
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := newService(newMockRepo())

	_, err := svc.Get(context.Background(), "nonexistent")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestTransition_NotFound(t *testing.T) {
	svc := newService(newMockRepo())

	_, err := svc.Transition(context.Background(), app.TransitionInput{
		OrderID:   "nonexistent",
		Requested: domain.StatusAccepted,
		Actor:     operator,
	})
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestTransition_RecordsHistoryEntry(t *testing.T) {
	when := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
	repo := newMockRepo()
	svc := app.NewOrderService(repo, fsm.New(), roleAuthorizer{})
	order := mustCreate(t, svc)

	updated, err := svc.Transition(context.Background(), app.TransitionInput{
		OrderID:   order.ID,
		Requested: domain.StatusAccepted,
		Actor:     operator,
		Comment:   "approved",
		When:      when,
	})
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	if len(updated.UpdateHistory) != 1 {
		t.Fatalf("history has %d entries, want 1", len(updated.UpdateHistory))
	}
	entry := updated.UpdateHistory[0]
	if entry.NewStatus != domain.StatusAccepted {
		t.Errorf("NewStatus = %q, want %q", entry.NewStatus, domain.StatusAccepted)
	}
	if entry.By != operator.ID {
		t.Errorf("By = %q, want %q", entry.By, operator.ID)
	}
	if entry.Comment != "approved" {
		t.Errorf("Comment = %q, want %q", entry.Comment, "approved")
	}
	if !entry.When.Equal(when) {
		t.Errorf("When = %v, want %v", entry.When, when)
	}
}

func TestTransition_DefaultsWhenToClock(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newMockRepo()
	svc := app.NewOrderService(repo, fsm.New(), roleAuthorizer{}, app.WithClock(func() time.Time { return now }))
	order := mustCreate(t, svc)

	updated := mustTransition(t, svc, order.ID, domain.StatusRejected)
	if !updated.UpdateHistory[0].When.Equal(now) {
		t.Errorf("When = %v, want %v", updated.UpdateHistory[0].When, now)
	}
	if updated.UpdateHistory[0].Comment != "" {
		t.Errorf("Comment = %q, want empty", updated.UpdateHistory[0].Comment)
	}
}

// Every pair outside the table fails with IllegalTransition and leaves the record untouched.
func TestTransition_IllegalPairsLeaveRecordUnchanged(t *testing.T) {
	paths := map[domain.Status][]domain.Status{
		domain.StatusUnderReview: nil,
		domain.StatusAccepted:    {domain.StatusAccepted},
		domain.StatusRejected:    {domain.StatusRejected},
		domain.StatusCancelled:   {domain.StatusCancelled},
		domain.StatusScheduled:   {domain.StatusAccepted, domain.StatusScheduled},
		domain.StatusStarted:     {domain.StatusAccepted, domain.StatusScheduled, domain.StatusStarted},
		domain.StatusCompleted:   {domain.StatusAccepted, domain.StatusScheduled, domain.StatusStarted, domain.StatusCompleted},
	}

	for current, path := range paths {
		allowed := domain.AllowedNext(current)
		for _, requested := range domain.Statuses {
			if requested == current || containsStatus(allowed, requested) {
				continue
			}

			repo := newMockRepo()
			svc := newService(repo)
			order := mustCreate(t, svc)
			for _, step := range path {
				order = mustTransition(t, svc, order.ID, step)
			}

			_, err := svc.Transition(context.Background(), app.TransitionInput{
				OrderID:   order.ID,
				Requested: requested,
				Actor:     operator,
			})
			var trErr *domain.TransitionError
			if !errors.As(err, &trErr) {
				t.Errorf("%q -> %q: expected TransitionError, got %v", current, requested, err)
				continue
			}

			after, _ := repo.FindByID(context.Background(), order.ID)
			if after.Status != current {
				t.Errorf("%q -> %q: status changed to %q", current, requested, after.Status)
			}
			if len(after.UpdateHistory) != len(order.UpdateHistory) {
				t.Errorf("%q -> %q: history grew from %d to %d", current, requested, len(order.UpdateHistory), len(after.UpdateHistory))
			}
		}
	}
}

func TestTransition_SuccessGrowsHistoryByOne(t *testing.T) {
	for _, tr := range domain.Transitions {
		repo := newMockRepo()
		svc := newService(repo)
		order := mustCreate(t, svc)

		steps := pathTo(tr.Src)
		if tr.Src != domain.StatusUnderReview {
			steps = append(steps, tr.Src)
		}
		for _, step := range steps {
			order = mustTransition(t, svc, order.ID, step)
		}

		before := len(order.UpdateHistory)
		updated := mustTransition(t, svc, order.ID, tr.Dst)

		if len(updated.UpdateHistory) != before+1 {
			t.Errorf("%q -> %q: history %d -> %d, want +1", tr.Src, tr.Dst, before, len(updated.UpdateHistory))
		}
		if last := updated.UpdateHistory[len(updated.UpdateHistory)-1]; last.NewStatus != tr.Dst {
			t.Errorf("%q -> %q: last entry status %q", tr.Src, tr.Dst, last.NewStatus)
		}
	}
}

func TestTransition_IdempotentReapply(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	order := mustCreate(t, svc)

	first := mustTransition(t, svc, order.ID, domain.StatusCancelled)
	second := mustTransition(t, svc, order.ID, domain.StatusCancelled)

	if second.Status != domain.StatusCancelled {
		t.Errorf("Status = %q, want %q", second.Status, domain.StatusCancelled)
	}
	if len(second.UpdateHistory) != len(first.UpdateHistory) {
		t.Errorf("re-apply appended history: %d -> %d", len(first.UpdateHistory), len(second.UpdateHistory))
	}
}

func TestTransition_InitialStatusIsNotReapplicable(t *testing.T) {
	svc := newService(newMockRepo())
	order := mustCreate(t, svc)

	_, err := svc.Transition(context.Background(), app.TransitionInput{
		OrderID:   order.ID,
		Requested: domain.StatusUnderReview,
		Actor:     operator,
	})
	var trErr *domain.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestTransition_Forbidden(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	order := mustCreate(t, svc)

	_, err := svc.Transition(context.Background(), app.TransitionInput{
		OrderID:   order.ID,
		Requested: domain.StatusAccepted,
		Actor:     customer,
	})
	var forbidden *domain.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	if forbidden.Event != domain.EventValidate {
		t.Errorf("event = %q, want %q", forbidden.Event, domain.EventValidate)
	}

	after, _ := repo.FindByID(context.Background(), order.ID)
	if after.Status != domain.StatusUnderReview {
		t.Errorf("Status = %q, want %q", after.Status, domain.StatusUnderReview)
	}
}

func TestTransition_TerminalStatesRejectEverything(t *testing.T) {
	for _, terminal := range []domain.Status{domain.StatusRejected, domain.StatusCancelled, domain.StatusCompleted} {
		svc := newService(newMockRepo())
		order := mustCreate(t, svc)
		for _, step := range pathTo(terminal) {
			order = mustTransition(t, svc, order.ID, step)
		}
		order = mustTransition(t, svc, order.ID, terminal)

		for _, requested := range domain.Statuses {
			if requested == terminal {
				continue
			}
			_, err := svc.Transition(context.Background(), app.TransitionInput{
				OrderID:   order.ID,
				Requested: requested,
				Actor:     operator,
			})
			if domain.KindOf(err) != domain.KindIllegalTransition {
				t.Errorf("%q -> %q: got %v, want IllegalTransition", terminal, requested, err)
			}
		}
	}
}

func TestTransition_FullScenario(t *testing.T) {
	svc := newService(newMockRepo())
	ctx := context.Background()

	order := mustCreate(t, svc)
	if order.Status != domain.StatusUnderReview || len(order.UpdateHistory) != 0 {
		t.Fatalf("new order = %q with %d entries", order.Status, len(order.UpdateHistory))
	}

	order = mustTransition(t, svc, order.ID, domain.StatusAccepted)
	if len(order.UpdateHistory) != 1 {
		t.Fatalf("history = %d entries, want 1", len(order.UpdateHistory))
	}

	// Starting requires scheduling first.
	_, err := svc.Transition(ctx, app.TransitionInput{OrderID: order.ID, Requested: domain.StatusStarted, Actor: operator})
	if domain.KindOf(err) != domain.KindIllegalTransition {
		t.Fatalf("accepted -> started: got %v, want IllegalTransition", err)
	}

	mustTransition(t, svc, order.ID, domain.StatusScheduled)
	mustTransition(t, svc, order.ID, domain.StatusStarted)
	order = mustTransition(t, svc, order.ID, domain.StatusCompleted)

	if order.Status != domain.StatusCompleted {
		t.Errorf("Status = %q, want %q", order.Status, domain.StatusCompleted)
	}
	if len(order.UpdateHistory) != 4 {
		t.Errorf("history = %d entries, want 4", len(order.UpdateHistory))
	}

	_, err = svc.Transition(ctx, app.TransitionInput{OrderID: order.ID, Requested: domain.StatusCancelled, Actor: operator})
	if domain.KindOf(err) != domain.KindIllegalTransition {
		t.Errorf("completed -> cancelled: got %v, want IllegalTransition", err)
	}
}

func TestTransition_ConcurrentRequestsOnCancelledOrder(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	order := mustCreate(t, svc)
	order = mustTransition(t, svc, order.ID, domain.StatusCancelled)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, requested := range []domain.Status{domain.StatusAccepted, domain.StatusScheduled} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Transition(context.Background(), app.TransitionInput{
				OrderID:   order.ID,
				Requested: requested,
				Actor:     operator,
			})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if domain.KindOf(err) != domain.KindIllegalTransition {
			t.Errorf("request %d: got %v, want IllegalTransition", i, err)
		}
	}

	after, _ := repo.FindByID(context.Background(), order.ID)
	if after.Status != domain.StatusCancelled || len(after.UpdateHistory) != 1 {
		t.Errorf("order changed: %q with %d entries", after.Status, len(after.UpdateHistory))
	}
}

func TestTransition_ConflictSurfacedWhenStatusMovedElsewhere(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	order := mustCreate(t, svc)
	order = mustTransition(t, svc, order.ID, domain.StatusAccepted)

	// Another worker cancels the order between our read and our write.
	repo.beforeUpdate = func(m *mockRepo) {
		m.orders[order.ID] = m.orders[order.ID].WithStatus(domain.StatusCancelled, "op-2", "", time.Now())
	}

	_, err := svc.Transition(context.Background(), app.TransitionInput{
		OrderID:   order.ID,
		Requested: domain.StatusScheduled,
		Actor:     operator,
	})
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Expected != domain.StatusAccepted || conflict.Actual != domain.StatusCancelled {
		t.Errorf("conflict = %+v", conflict)
	}

	after, _ := repo.FindByID(context.Background(), order.ID)
	if after.Status != domain.StatusCancelled || len(after.UpdateHistory) != 2 {
		t.Errorf("order = %q with %d entries, want cancelled with 2", after.Status, len(after.UpdateHistory))
	}
}

func TestTransition_ConflictWithDuplicateIsNoop(t *testing.T) {
	repo := newMockRepo()
	svc := newService(repo)
	order := mustCreate(t, svc)

	// A redelivered copy of the same request lands first.
	repo.beforeUpdate = func(m *mockRepo) {
		m.orders[order.ID] = m.orders[order.ID].WithStatus(domain.StatusAccepted, operator.ID, "", time.Now())
	}

	got := mustTransition(t, svc, order.ID, domain.StatusAccepted)
	if got.Status != domain.StatusAccepted || len(got.UpdateHistory) != 1 {
		t.Errorf("order = %q with %d entries, want accepted with 1", got.Status, len(got.UpdateHistory))
	}
}

// pathTo returns the happy-path statuses leading from underReview to target,
// excluding target itself.
func pathTo(target domain.Status) []domain.Status {
	switch target {
	case domain.StatusAccepted:
		return nil
	case domain.StatusScheduled:
		return []domain.Status{domain.StatusAccepted}
	case domain.StatusStarted:
		return []domain.Status{domain.StatusAccepted, domain.StatusScheduled}
	case domain.StatusCompleted:
		return []domain.Status{domain.StatusAccepted, domain.StatusScheduled, domain.StatusStarted}
	default:
		// underReview, rejected, cancelled are one step from creation.
		return nil
	}
}

func containsStatus(list []domain.Status, s domain.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
