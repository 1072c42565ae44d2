/*
Package factory provides JSON to Go transition table conversion.

PURPOSE:
  Converts JSON definitions of the appointment state machine into
  clinic.TransitionTable values. A clinic can tighten or relax which
  states accept attend, bill and cancel without a code change.

JSON SCHEMA:
  {
    "name": "front-desk",
    "extends": "strict",
    "edges": [
      {"from": "attended", "event": "cancel"}
    ]
  }

  "extends" is optional and names a preset ("reference" or "strict")
  whose edges are included before "edges". Each event has a fixed
  target state; tables that reach billed from anywhere but attended, or
  leave cancelled, are rejected.

USAGE:
  f := NewTransitionFactory()
  table, err := f.ParseTransitions(jsonString)
  svc := clinic.NewServices(store, clinic.Options{Transitions: table})

SEE ALSO:
  - clinic/state.go: TransitionTable and its invariants
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/warp/clinic-engine/clinic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TransitionsJSON is the JSON representation of a transition table.
type TransitionsJSON struct {
	Name    string     `json:"name"`
	Extends string     `json:"extends,omitempty"`
	Edges   []EdgeJSON `json:"edges"`
}

// EdgeJSON allows Event in state From.
type EdgeJSON struct {
	From  string `json:"from"`
	Event string `json:"event"`
}

// =============================================================================
// FACTORY
// =============================================================================

// TransitionFactory builds transition tables from JSON and presets.
type TransitionFactory struct {
	presets map[string]clinic.TransitionTable
}

func NewTransitionFactory() *TransitionFactory {
	return &TransitionFactory{
		presets: map[string]clinic.TransitionTable{
			"reference": clinic.ReferenceTransitions(),
			"strict":    clinic.StrictTransitions(),
		},
	}
}

// Preset returns a named built-in table.
func (f *TransitionFactory) Preset(name string) (clinic.TransitionTable, error) {
	t, ok := f.presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return clinic.TransitionTable{}, fmt.Errorf("unknown transition preset %q", name)
	}
	return t, nil
}

// ParseTransitions parses a JSON definition.
func (f *TransitionFactory) ParseTransitions(jsonStr string) (clinic.TransitionTable, error) {
	var def TransitionsJSON
	if err := json.Unmarshal([]byte(jsonStr), &def); err != nil {
		return clinic.TransitionTable{}, fmt.Errorf("invalid transitions JSON: %w", err)
	}
	return f.FromJSON(def)
}

// LoadFile parses the JSON definition stored at path.
func (f *TransitionFactory) LoadFile(path string) (clinic.TransitionTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return clinic.TransitionTable{}, fmt.Errorf("failed to read transitions file: %w", err)
	}
	return f.ParseTransitions(string(data))
}

// FromJSON converts a parsed definition.
func (f *TransitionFactory) FromJSON(def TransitionsJSON) (clinic.TransitionTable, error) {
	if def.Name == "" {
		return clinic.TransitionTable{}, fmt.Errorf("transition table name is required")
	}

	var edges []clinic.Edge
	if def.Extends != "" {
		base, err := f.Preset(def.Extends)
		if err != nil {
			return clinic.TransitionTable{}, err
		}
		edges = append(edges, base.Edges()...)
	}
	for i, e := range def.Edges {
		from := clinic.AppointmentState(strings.ToLower(strings.TrimSpace(e.From)))
		event := clinic.Event(strings.ToLower(strings.TrimSpace(e.Event)))
		if !from.Valid() {
			return clinic.TransitionTable{}, fmt.Errorf("edges[%d]: unknown state %q", i, e.From)
		}
		if _, ok := event.Target(); !ok {
			return clinic.TransitionTable{}, fmt.Errorf("edges[%d]: unknown event %q", i, e.Event)
		}
		edges = append(edges, clinic.Edge{From: from, Event: event})
	}
	if len(edges) == 0 {
		return clinic.TransitionTable{}, fmt.Errorf("transition table %q has no edges", def.Name)
	}

	return clinic.NewTransitionTable(def.Name, edges)
}

// ToJSON renders a table back to its JSON form.
func ToJSON(t clinic.TransitionTable) TransitionsJSON {
	out := TransitionsJSON{Name: t.Name()}
	for _, e := range t.Edges() {
		out.Edges = append(out.Edges, EdgeJSON{From: string(e.From), Event: string(e.Event)})
	}
	return out
}
