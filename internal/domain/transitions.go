package domain

// Event represents an action that triggers a state transition.
type Event string

const (
	EventCreate   Event = "create"
	EventValidate Event = "validate"
	EventReject   Event = "reject"
	EventCancel   Event = "cancel"
	EventSchedule Event = "schedule"
	EventStart    Event = "start"
	EventComplete Event = "complete"
)

// Transition defines a valid state change: an event moves an order from Src to Dst.
type Transition struct {
	Event Event
	Src   Status
	Dst   Status
}

// Transitions defines all valid state changes in the order lifecycle.
// This is domain knowledge consumed by the FSM adapter.
var Transitions = []Transition{
	{Event: EventValidate, Src: StatusUnderReview, Dst: StatusAccepted},
	{Event: EventReject, Src: StatusUnderReview, Dst: StatusRejected},
	{Event: EventCancel, Src: StatusUnderReview, Dst: StatusCancelled},
	{Event: EventCancel, Src: StatusAccepted, Dst: StatusCancelled},
	{Event: EventCancel, Src: StatusScheduled, Dst: StatusCancelled},
	{Event: EventSchedule, Src: StatusAccepted, Dst: StatusScheduled},
	{Event: EventStart, Src: StatusScheduled, Dst: StatusStarted},
	{Event: EventComplete, Src: StatusStarted, Dst: StatusCompleted},
}

// AllowedNext returns the statuses reachable in one step from current.
func AllowedNext(current Status) []Status {
	var out []Status
	for _, t := range Transitions {
		if t.Src == current {
			out = append(out, t.Dst)
		}
	}
	return out
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	return len(AllowedNext(s)) == 0
}

// EventFor returns the event whose transitions end in dst.
// Every destination is reached by exactly one event.
func EventFor(dst Status) (Event, bool) {
	for _, t := range Transitions {
		if t.Dst == dst {
			return t.Event, true
		}
	}
	return "", false
}
