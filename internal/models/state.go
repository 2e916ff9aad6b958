package models

import "fmt"

// EventState is the lifecycle state of an accepted event.
type EventState string

const (
	EventDraft    EventState = "draft"
	EventActive   EventState = "active"
	EventLocked   EventState = "locked"
	EventResolved EventState = "resolved"
	EventCanceled EventState = "canceled"
	EventArchived EventState = "archived"
)

// ParseEventState validates an event state string.
func ParseEventState(s string) (EventState, error) {
	switch st := EventState(s); st {
	case EventDraft, EventActive, EventLocked, EventResolved, EventCanceled, EventArchived:
		return st, nil
	}
	return "", fmt.Errorf("unknown event state %q", s)
}

// IsTerminal reports whether the event can no longer change state.
func (s EventState) IsTerminal() bool {
	switch s {
	case EventResolved, EventCanceled, EventArchived:
		return true
	case EventDraft, EventActive, EventLocked:
		return false
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
// The forward path is draft -> active -> locked -> resolved; any
// non-terminal state may also be canceled or archived.
func (s EventState) CanTransitionTo(next EventState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == EventCanceled || next == EventArchived {
		return true
	}
	switch s {
	case EventDraft:
		return next == EventActive
	case EventActive:
		return next == EventLocked
	case EventLocked:
		return next == EventResolved
	}
	return false
}
