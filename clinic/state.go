/*
state.go - Appointment state machine

PURPOSE:
  Every state change of an appointment goes through a TransitionTable.
  The table is data, not scattered if-statements, so a clinic can run
  the permissive reference rules or a strict variant without touching
  any call site.

STATES & EVENTS:
  pending --attend--> attended --bill--> billed
  pending --cancel--> cancelled

  Each event has exactly one target state (attend -> attended, bill ->
  billed, cancel -> cancelled). A table only decides which source states
  accept the event.

TABLE INVARIANTS (checked by NewTransitionTable):
  - cancelled is terminal: no edge leaves it, so a second cancel is an
    InvalidTransition rather than a no-op
  - billed is reachable only from attended

SEE ALSO:
  - book.go: Applies the table
  - factory/transitions.go: Builds tables from JSON
*/
package clinic

import (
	"fmt"
	"sort"
)

// Event drives an appointment transition.
type Event string

const (
	EventAttend Event = "attend"
	EventBill   Event = "bill"
	EventCancel Event = "cancel"
)

// Target returns the state an event moves to.
func (e Event) Target() (AppointmentState, bool) {
	switch e {
	case EventAttend:
		return StateAttended, true
	case EventBill:
		return StateBilled, true
	case EventCancel:
		return StateCancelled, true
	}
	return "", false
}

// Edge allows Event when the appointment is in From.
type Edge struct {
	From  AppointmentState
	Event Event
}

// TransitionTable is an immutable set of allowed edges.
type TransitionTable struct {
	name  string
	edges map[Edge]AppointmentState
}

// NewTransitionTable validates edges and builds a table.
func NewTransitionTable(name string, edges []Edge) (TransitionTable, error) {
	t := TransitionTable{name: name, edges: make(map[Edge]AppointmentState, len(edges))}
	for _, e := range edges {
		if !e.From.Valid() {
			return TransitionTable{}, fmt.Errorf("transition table %q: unknown state %q", name, e.From)
		}
		to, ok := e.Event.Target()
		if !ok {
			return TransitionTable{}, fmt.Errorf("transition table %q: unknown event %q", name, e.Event)
		}
		if e.From == StateCancelled {
			return TransitionTable{}, fmt.Errorf("transition table %q: cancelled is terminal", name)
		}
		if to == StateBilled && e.From != StateAttended {
			return TransitionTable{}, fmt.Errorf("transition table %q: billed is reachable only from attended", name)
		}
		t.edges[e] = to
	}
	return t, nil
}

func mustTable(name string, edges []Edge) TransitionTable {
	t, err := NewTransitionTable(name, edges)
	if err != nil {
		panic(err)
	}
	return t
}

// ReferenceTransitions mirrors the clinic's historical behaviour: a second
// encounter on an attended appointment is accepted, and cancelling is
// possible until the appointment is cancelled.
func ReferenceTransitions() TransitionTable {
	return mustTable("reference", []Edge{
		{From: StatePending, Event: EventAttend},
		{From: StateAttended, Event: EventAttend},
		{From: StateAttended, Event: EventBill},
		{From: StatePending, Event: EventCancel},
		{From: StateAttended, Event: EventCancel},
		{From: StateBilled, Event: EventCancel},
	})
}

// StrictTransitions allows only the forward lifecycle plus cancelling a
// pending appointment.
func StrictTransitions() TransitionTable {
	return mustTable("strict", []Edge{
		{From: StatePending, Event: EventAttend},
		{From: StateAttended, Event: EventBill},
		{From: StatePending, Event: EventCancel},
	})
}

// Name identifies the table in logs.
func (t TransitionTable) Name() string {
	if t.name == "" {
		return "reference"
	}
	return t.name
}

// Transition returns the next state for event, or an InvalidTransitionError.
// A zero TransitionTable behaves like ReferenceTransitions.
func (t TransitionTable) Transition(from AppointmentState, event Event) (AppointmentState, error) {
	edges := t.edges
	if edges == nil {
		edges = ReferenceTransitions().edges
	}
	to, ok := edges[Edge{From: from, Event: event}]
	if !ok {
		return "", &InvalidTransitionError{From: from, Event: event}
	}
	return to, nil
}

// Allows reports whether event is accepted in state from.
func (t TransitionTable) Allows(from AppointmentState, event Event) bool {
	_, err := t.Transition(from, event)
	return err == nil
}

// Edges returns the table's edges in a stable order.
func (t TransitionTable) Edges() []Edge {
	out := make([]Edge, 0, len(t.edges))
	for e := range t.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].Event < out[j].Event
	})
	return out
}
