/*
scenarios.go - Demo scenario loaders for manual exploration

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	dental clinic data. Each scenario seeds the catalog and then drives the
	real services (schedule, record encounter, issue invoice) so the data
	obeys every rule the API enforces.

AVAILABLE SCENARIOS:

	dental-catalog:  Services and products only
	busy-day:        Tomorrow's agenda for two dentists, one visit attended
	billed-visit:    A full visit closed by an invoice that consumes stock
	low-stock:       Products sitting at or below their minimum stock

HOW SCENARIOS WORK:
 1. Upsert catalog services and products
 2. Schedule appointments through the AppointmentBook
 3. Optionally record encounters and issue invoices

Catalog rows are upserts. Appointments whose slot is already taken are
skipped, so loading a scenario twice leaves the first load in place.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "billed-visit"}

SEE ALSO:
  - handlers.go: Error mapping
  - clinic/services.go: Wired services
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/clinic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "dental-catalog",
		Name:        "Dental Catalog",
		Description: "Standard dental services and retail products",
	},
	{
		ID:          "busy-day",
		Name:        "Busy Day",
		Description: "Tomorrow's agenda for two dentists with one visit already attended",
	},
	{
		ID:          "billed-visit",
		Name:        "Billed Visit",
		Description: "Cleaning plus toothpaste, invoiced with tax and stock decremented",
	},
	{
		ID:          "low-stock",
		Name:        "Low Stock",
		Description: "Products at or below their minimum stock for the reorder monitor",
	},
}

var demoServices = []clinic.Service{
	{ID: "svc-cleaning", Name: "Dental cleaning", Price: decimal.RequireFromString("30.00"), Active: true},
	{ID: "svc-filling", Name: "Composite filling", Price: decimal.RequireFromString("45.00"), Active: true},
	{ID: "svc-extraction", Name: "Simple extraction", Price: decimal.RequireFromString("60.00"), Active: true},
	{ID: "svc-xray", Name: "Periapical x-ray", Price: decimal.RequireFromString("12.50"), Active: true},
}

var demoProducts = []clinic.Product{
	{ID: "prd-toothpaste", Name: "Fluoride toothpaste", Brand: "Colgate", Price: decimal.RequireFromString("4.50"), Stock: 40, MinStock: 5, Active: true},
	{ID: "prd-floss", Name: "Dental floss", Brand: "Oral-B", Price: decimal.RequireFromString("3.25"), Stock: 25, MinStock: 5, Active: true},
	{ID: "prd-mouthwash", Name: "Mouthwash 500ml", Brand: "Listerine", Price: decimal.RequireFromString("7.80"), Stock: 12, MinStock: 3, Active: true},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario seeds a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if h.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "Scenarios need a catalog store", nil)
		return
	}

	ctx := r.Context()

	var err error
	switch req.ScenarioID {
	case "dental-catalog":
		err = h.seedCatalog(ctx)
	case "busy-day":
		err = h.loadBusyDayScenario(ctx)
	case "billed-visit":
		err = h.loadBilledVisitScenario(ctx)
	case "low-stock":
		err = h.loadLowStockScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) seedCatalog(ctx context.Context) error {
	for _, s := range demoServices {
		if err := h.Catalog.SaveService(ctx, s); err != nil {
			return fmt.Errorf("save service %s: %w", s.ID, err)
		}
	}
	for _, p := range demoProducts {
		if err := h.Catalog.SaveProduct(ctx, p); err != nil {
			return fmt.Errorf("save product %s: %w", p.ID, err)
		}
	}
	return nil
}

func (h *Handler) loadBusyDayScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}

	day := h.tomorrow()
	visits := []struct {
		practitioner string
		patient      string
		hour, minute int
		reason       string
	}{
		{"dr-rivera", "0912345678", 9, 0, "Routine cleaning"},
		{"dr-rivera", "0923456789", 9, 30, "Toothache lower left"},
		{"dr-rivera", "0934567890", 11, 0, "Filling follow-up"},
		{"dr-mendez", "0945678901", 9, 0, "Extraction consult"},
		{"dr-mendez", "0956789012", 10, 15, "X-ray review"},
	}

	var first *clinic.Appointment
	for _, v := range visits {
		appt, err := h.scheduleDemo(ctx, v.practitioner, v.patient, day.Add(time.Duration(v.hour)*time.Hour+time.Duration(v.minute)*time.Minute), v.reason)
		if err != nil {
			return err
		}
		if first == nil {
			first = appt
		}
	}
	if first == nil {
		return nil
	}

	_, err := h.Services.Encounters.RecordEncounter(ctx, clinic.EncounterRequest{
		AppointmentID: first.ID,
		Diagnosis:     "Mild gingivitis",
		Treatment:     "Scaling and polishing",
		Notes:         "Recommend floss daily",
	})
	return err
}

func (h *Handler) loadBilledVisitScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}

	appt, err := h.scheduleDemo(ctx, "dr-rivera", "0967890123", h.tomorrow().Add(14*time.Hour), "Six-month cleaning")
	if err != nil || appt == nil {
		return err
	}

	if _, err := h.Services.Encounters.RecordEncounter(ctx, clinic.EncounterRequest{
		AppointmentID: appt.ID,
		Diagnosis:     "Healthy gums, light tartar",
		Treatment:     "Cleaning",
	}); err != nil {
		return err
	}

	_, err = h.Services.Billing.IssueInvoice(ctx, clinic.InvoiceRequest{
		AppointmentID: appt.ID,
		Client:        clinic.Client{ID: "0967890123", Name: "Lucia Paredes", Address: "Av. Amazonas 123"},
		PaymentMethod: "cash",
		Lines: []clinic.InvoiceLineRequest{
			{Item: clinic.ServiceItem{ServiceID: "svc-cleaning"}, Quantity: 1, Zone: "full-mouth"},
			{Item: clinic.ProductItem{ProductID: "prd-toothpaste"}, Quantity: 2},
		},
	})
	return err
}

func (h *Handler) loadLowStockScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx); err != nil {
		return err
	}
	low := []clinic.Product{
		{ID: "prd-brush-soft", Name: "Soft toothbrush", Brand: "Oral-B", Price: decimal.RequireFromString("2.90"), Stock: 2, MinStock: 5, Active: true},
		{ID: "prd-wax", Name: "Orthodontic wax", Brand: "GUM", Price: decimal.RequireFromString("3.60"), Stock: 4, MinStock: 4, Active: true},
		{ID: "prd-whitening", Name: "Whitening kit", Brand: "Crest", Price: decimal.RequireFromString("29.99"), Stock: 0, MinStock: 2, Active: false},
	}
	for _, p := range low {
		if err := h.Catalog.SaveProduct(ctx, p); err != nil {
			return fmt.Errorf("save product %s: %w", p.ID, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// scheduleDemo books an appointment and returns nil without error when
// the slot is already taken by an earlier load.
func (h *Handler) scheduleDemo(ctx context.Context, practitioner, patient string, at time.Time, reason string) (*clinic.Appointment, error) {
	appt, err := h.Services.Book.Schedule(ctx, clinic.ScheduleRequest{
		PractitionerID: clinic.PractitionerID(practitioner),
		PatientID:      clinic.PatientID(patient),
		When:           at,
		Reason:         reason,
	})
	if errors.Is(err, clinic.ErrSlotConflict) {
		h.Logger.Debug().Str("practitioner_id", practitioner).Time("at", at).Msg("demo slot already booked, skipping")
		return nil, nil
	}
	return appt, err
}

// tomorrow is midnight of the next calendar day in the clinic's time zone.
func (h *Handler) tomorrow() time.Time {
	loc := h.Services.Book.Location()
	y, m, d := time.Now().In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
