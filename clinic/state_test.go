package clinic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/clinic"
)

var allStates = []clinic.AppointmentState{
	clinic.StatePending, clinic.StateAttended, clinic.StateBilled, clinic.StateCancelled,
}

var allEvents = []clinic.Event{clinic.EventAttend, clinic.EventBill, clinic.EventCancel}

// checkTable asserts that exactly the edges in allowed are accepted.
func checkTable(t *testing.T, table clinic.TransitionTable, allowed map[clinic.Edge]clinic.AppointmentState) {
	t.Helper()
	for _, from := range allStates {
		for _, ev := range allEvents {
			to, err := table.Transition(from, ev)
			want, ok := allowed[clinic.Edge{From: from, Event: ev}]
			if ok {
				assert.NoError(t, err, "%s --%s--> should be allowed", from, ev)
				assert.Equal(t, want, to)
				continue
			}
			assert.ErrorIs(t, err, clinic.ErrInvalidTransition, "%s --%s--> should be rejected", from, ev)
		}
	}
}

func TestReferenceTransitions(t *testing.T) {
	// GIVEN: The default table
	// THEN: Attend repeats on attended, bill needs attended, cancel works
	//       from every state except cancelled

	checkTable(t, clinic.ReferenceTransitions(), map[clinic.Edge]clinic.AppointmentState{
		{From: clinic.StatePending, Event: clinic.EventAttend}:  clinic.StateAttended,
		{From: clinic.StateAttended, Event: clinic.EventAttend}: clinic.StateAttended,
		{From: clinic.StateAttended, Event: clinic.EventBill}:   clinic.StateBilled,
		{From: clinic.StatePending, Event: clinic.EventCancel}:  clinic.StateCancelled,
		{From: clinic.StateAttended, Event: clinic.EventCancel}: clinic.StateCancelled,
		{From: clinic.StateBilled, Event: clinic.EventCancel}:   clinic.StateCancelled,
	})
}

func TestStrictTransitions(t *testing.T) {
	checkTable(t, clinic.StrictTransitions(), map[clinic.Edge]clinic.AppointmentState{
		{From: clinic.StatePending, Event: clinic.EventAttend}: clinic.StateAttended,
		{From: clinic.StateAttended, Event: clinic.EventBill}:  clinic.StateBilled,
		{From: clinic.StatePending, Event: clinic.EventCancel}: clinic.StateCancelled,
	})
}

func TestZeroTable_BehavesAsReference(t *testing.T) {
	var zero clinic.TransitionTable

	assert.Equal(t, "reference", zero.Name())
	for _, from := range allStates {
		for _, ev := range allEvents {
			assert.Equal(t,
				clinic.ReferenceTransitions().Allows(from, ev),
				zero.Allows(from, ev),
				"%s --%s-->", from, ev)
		}
	}
}

func TestTransition_ErrorCarriesEdge(t *testing.T) {
	_, err := clinic.StrictTransitions().Transition(clinic.StateBilled, clinic.EventAttend)

	var te *clinic.InvalidTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, clinic.StateBilled, te.From)
	assert.Equal(t, clinic.EventAttend, te.Event)
}

func TestNewTransitionTable_Invariants(t *testing.T) {
	tests := []struct {
		name  string
		edges []clinic.Edge
	}{
		{"edge out of cancelled", []clinic.Edge{{From: clinic.StateCancelled, Event: clinic.EventAttend}}},
		{"billed from pending", []clinic.Edge{{From: clinic.StatePending, Event: clinic.EventBill}}},
		{"billed from billed", []clinic.Edge{{From: clinic.StateBilled, Event: clinic.EventBill}}},
		{"unknown state", []clinic.Edge{{From: "archived", Event: clinic.EventCancel}}},
		{"unknown event", []clinic.Edge{{From: clinic.StatePending, Event: "postpone"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := clinic.NewTransitionTable("custom", tt.edges)
			assert.Error(t, err)
		})
	}
}

func TestNewTransitionTable_Custom(t *testing.T) {
	// GIVEN: A table allowing attended appointments to be cancelled on top
	//        of the strict lifecycle
	table, err := clinic.NewTransitionTable("front-desk", append(
		clinic.StrictTransitions().Edges(),
		clinic.Edge{From: clinic.StateAttended, Event: clinic.EventCancel},
	))
	require.NoError(t, err)

	assert.Equal(t, "front-desk", table.Name())
	assert.True(t, table.Allows(clinic.StateAttended, clinic.EventCancel))
	assert.False(t, table.Allows(clinic.StateBilled, clinic.EventCancel))
	assert.Len(t, table.Edges(), 4)
}

func TestEdges_StableOrder(t *testing.T) {
	edges := clinic.StrictTransitions().Edges()

	assert.Equal(t, []clinic.Edge{
		{From: clinic.StateAttended, Event: clinic.EventBill},
		{From: clinic.StatePending, Event: clinic.EventAttend},
		{From: clinic.StatePending, Event: clinic.EventCancel},
	}, edges)
}
