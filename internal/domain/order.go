package domain

import "time"

// Status represents the lifecycle state of a service order.
type Status string

const (
	StatusUnderReview Status = "underReview"
	StatusAccepted    Status = "orderAccepted"
	StatusRejected    Status = "orderRejected"
	StatusCancelled   Status = "orderCancelled"
	StatusScheduled   Status = "realisationScheduled"
	StatusStarted     Status = "realisationStarted"
	StatusCompleted   Status = "realisationCompleted"
)

// Statuses lists every valid lifecycle state.
var Statuses = []Status{
	StatusUnderReview,
	StatusAccepted,
	StatusRejected,
	StatusCancelled,
	StatusScheduled,
	StatusStarted,
	StatusCompleted,
}

// Valid reports whether s belongs to the closed set of lifecycle states.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Service is one of the offered service kinds.
type Service string

const (
	ServiceWebSite    Service = "web_site"
	ServiceMobileApp  Service = "mobile_app"
	ServiceDesktopApp Service = "desktop_app"
)

type serviceInfo struct {
	title string
	price int
}

var catalog = map[Service]serviceInfo{
	ServiceWebSite:    {title: "Make a web site", price: 5000},
	ServiceMobileApp:  {title: "Make a mobile app", price: 8000},
	ServiceDesktopApp: {title: "Make a desktop app", price: 10000},
}

// Valid reports whether s is an offered service.
func (s Service) Valid() bool {
	_, ok := catalog[s]
	return ok
}

// Title returns the human readable service name.
func (s Service) Title() string {
	return catalog[s].title
}

// Price returns the list price of the service, or 0 for an unknown service.
func (s Service) Price() int {
	return catalog[s].price
}

// StateUpdate records one status change of an order.
type StateUpdate struct {
	NewStatus Status
	When      time.Time
	By        string
	Comment   string
}

// Order is the core domain entity representing one customer service order.
type Order struct {
	ID            string
	CustomerID    string
	Service       Service
	Description   string
	Status        Status
	Created       time.Time
	UpdateHistory []StateUpdate
}

// NewOrder creates an order in the initial "underReview" state with an empty history.
func NewOrder(id, customerID string, service Service, description string, created time.Time) Order {
	return Order{
		ID:            id,
		CustomerID:    customerID,
		Service:       service,
		Description:   description,
		Status:        StatusUnderReview,
		Created:       created.UTC(),
		UpdateHistory: []StateUpdate{},
	}
}

// Terminal reports whether the order can no longer change state.
func (o Order) Terminal() bool {
	return IsTerminal(o.Status)
}

// WithStatus returns a copy of the order moved to status, with a new history entry appended.
// The receiver's history slice is never shared with the copy.
func (o Order) WithStatus(status Status, by, comment string, when time.Time) Order {
	history := make([]StateUpdate, len(o.UpdateHistory), len(o.UpdateHistory)+1)
	copy(history, o.UpdateHistory)

	o.UpdateHistory = append(history, StateUpdate{
		NewStatus: status,
		When:      when.UTC(),
		By:        by,
		Comment:   comment,
	})
	o.Status = status
	return o
}

// Role identifies the kind of actor requesting an operation.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
)

// Actor is whoever asked for an operation.
type Actor struct {
	ID   string
	Role Role
}
