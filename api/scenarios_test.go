/*
scenarios_test.go - Tests for the demo scenario loaders
*/
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_List(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[[]ScenarioDTO](t, rec)
	ids := make([]string, len(list))
	for i, sc := range list {
		ids[i] = sc.ID
	}
	assert.Equal(t, []string{"dental-catalog", "busy-day", "billed-visit", "low-stock"}, ids)
}

func TestScenario_BusyDay(t *testing.T) {
	s := setupTestServer(t)
	s.loadScenario(t, "busy-day")

	rec := s.do(t, http.MethodGet, "/api/appointments/pending-billing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	attended := decode[[]AppointmentDTO](t, rec)
	require.Len(t, attended, 1)
	assert.Equal(t, "dr-rivera", attended[0].PractitionerID)

	rec = s.do(t, http.MethodGet, "/api/appointments/search?patient=09", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AppointmentDTO](t, rec), 5)

	rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "busy-day", decode[ScenarioDTO](t, rec).ID)
}

func TestScenario_BilledVisit(t *testing.T) {
	s := setupTestServer(t)
	s.loadScenario(t, "billed-visit")

	rec := s.do(t, http.MethodGet, "/api/appointments/search?patient=0967890123&exact=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]AppointmentDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "billed", list[0].State)

	rec = s.do(t, http.MethodGet, "/api/appointments/"+list[0].ID+"/invoice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inv := decode[InvoiceDTO](t, rec)
	assert.Equal(t, "39.00", inv.Subtotal)
	assert.Equal(t, "44.85", inv.Total)
	assert.Equal(t, "full-mouth", inv.Lines[0].Zone)
}

func TestScenario_ReloadIsIdempotent(t *testing.T) {
	s := setupTestServer(t)

	for i := 0; i < 2; i++ {
		for _, id := range []string{"dental-catalog", "busy-day", "billed-visit", "low-stock"} {
			s.loadScenario(t, id)
		}
	}

	rec := s.do(t, http.MethodGet, "/api/appointments/search?patient=09", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AppointmentDTO](t, rec), 6)
}

func TestScenario_Unknown(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "year-end"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())
}
