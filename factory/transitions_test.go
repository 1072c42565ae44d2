package factory_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/clinic"
	"github.com/warp/clinic-engine/factory"
)

func TestPreset(t *testing.T) {
	f := factory.NewTransitionFactory()

	table, err := f.Preset(" Strict ")
	require.NoError(t, err)
	assert.Equal(t, "strict", table.Name())
	assert.False(t, table.Allows(clinic.StateAttended, clinic.EventCancel))

	table, err = f.Preset("reference")
	require.NoError(t, err)
	assert.True(t, table.Allows(clinic.StateBilled, clinic.EventCancel))

	_, err = f.Preset("lenient")
	assert.Error(t, err)
}

func TestParseTransitions_ExtendsPreset(t *testing.T) {
	// GIVEN: The strict table plus cancelling an attended appointment
	// THEN: Attended appointments can be cancelled, billed ones still cannot

	f := factory.NewTransitionFactory()
	table, err := f.ParseTransitions(`{
		"name": "front-desk",
		"extends": "strict",
		"edges": [{"from": "Attended", "event": "CANCEL"}]
	}`)
	require.NoError(t, err)

	assert.Equal(t, "front-desk", table.Name())
	assert.True(t, table.Allows(clinic.StatePending, clinic.EventAttend))
	assert.False(t, table.Allows(clinic.StateAttended, clinic.EventAttend))
	assert.True(t, table.Allows(clinic.StateAttended, clinic.EventCancel))
	assert.False(t, table.Allows(clinic.StateBilled, clinic.EventCancel))
}

func TestParseTransitions_Errors(t *testing.T) {
	f := factory.NewTransitionFactory()

	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"name":`},
		{"missing name", `{"edges":[{"from":"pending","event":"attend"}]}`},
		{"unknown preset", `{"name":"x","extends":"lenient"}`},
		{"unknown state", `{"name":"x","edges":[{"from":"waiting","event":"attend"}]}`},
		{"unknown event", `{"name":"x","edges":[{"from":"pending","event":"archive"}]}`},
		{"no edges", `{"name":"x","edges":[]}`},
		{"bill from pending", `{"name":"x","edges":[{"from":"pending","event":"bill"}]}`},
		{"leaves cancelled", `{"name":"x","edges":[{"from":"cancelled","event":"attend"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseTransitions(tt.json)
			assert.Error(t, err)
		})
	}
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := factory.NewTransitionFactory()
	def := factory.ToJSON(clinic.StrictTransitions())

	assert.Equal(t, "strict", def.Name)
	assert.Equal(t, []factory.EdgeJSON{
		{From: "attended", Event: "bill"},
		{From: "pending", Event: "attend"},
		{From: "pending", Event: "cancel"},
	}, def.Edges)

	data, err := json.Marshal(def)
	require.NoError(t, err)
	table, err := f.ParseTransitions(string(data))
	require.NoError(t, err)
	assert.Equal(t, clinic.StrictTransitions().Edges(), table.Edges())
}

func TestLoadFile(t *testing.T) {
	f := factory.NewTransitionFactory()
	path := filepath.Join(t.TempDir(), "transitions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"file","extends":"reference","edges":[]}`), 0o600))

	table, err := f.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file", table.Name())
	assert.Equal(t, clinic.ReferenceTransitions().Edges(), table.Edges())

	_, err = f.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
