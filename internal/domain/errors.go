package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderExists        = errors.New("order already exists")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidRequest     = errors.New("invalid request")
)

// TransitionError is returned when a status change is not permitted by the transition table.
type TransitionError struct {
	Current   Status
	Requested Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("status %q is not reachable from %q", e.Requested, e.Current)
}

// ForbiddenError is returned when the actor's role is not granted the event.
type ForbiddenError struct {
	Actor Actor
	Event Event
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("actor %q with role %q may not %s orders", e.Actor.ID, e.Actor.Role, e.Event)
}

// ConflictError is returned when an order moved away from the expected status
// between read and write.
type ConflictError struct {
	OrderID  string
	Expected Status
	Actual   Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %q changed concurrently: expected status %q, found %q", e.OrderID, e.Expected, e.Actual)
}

// ErrorKind names an error class in the response envelope.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "NotFound"
	KindIllegalTransition  ErrorKind = "IllegalTransition"
	KindForbidden          ErrorKind = "Forbidden"
	KindConflict           ErrorKind = "Conflict"
	KindInvalidRequest     ErrorKind = "InvalidRequest"
	KindStorageUnavailable ErrorKind = "StorageUnavailable"
	KindFailedTerminal     ErrorKind = "FailedTerminal"
)

// KindOf classifies err. Unknown errors are treated as storage/infrastructure failures.
func KindOf(err error) ErrorKind {
	var (
		trErr       *TransitionError
		forbidden   *ForbiddenError
		conflictErr *ConflictError
	)
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return KindNotFound
	case errors.As(err, &trErr):
		return KindIllegalTransition
	case errors.As(err, &forbidden):
		return KindForbidden
	case errors.As(err, &conflictErr):
		return KindConflict
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	default:
		return KindStorageUnavailable
	}
}

// IsTransient reports whether err is worth retrying: anything that is not a domain failure,
// including attempt timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return KindOf(err) == KindStorageUnavailable
}
