/*
handlers.go - HTTP API handlers for the clinic engine

PURPOSE:
  Exposes the appointment book, encounter recorder, inventory ledger and
  billing engine via REST. Handles HTTP request/response and JSON, and
  delegates every decision to the clinic package.

ENDPOINTS:
  Appointments:
    POST   /api/appointments                    Schedule
    GET    /api/appointments?date=&state=&practitioner=  Day view
    GET    /api/appointments/agenda?date=       Pending + attended for a day
    GET    /api/appointments/search?patient=    Search by patient identifier
    GET    /api/appointments/pending-billing    Attended, not yet invoiced
    GET    /api/appointments/{id}               Get
    PUT    /api/appointments/{id}               Reschedule
    POST   /api/appointments/{id}/cancel        Cancel
    POST   /api/appointments/{id}/encounters    Record encounter (-> attended)
    GET    /api/appointments/{id}/encounters    List encounters
    GET    /api/appointments/{id}/invoice       Invoice closing the appointment

  Practitioners:
    GET    /api/practitioners/{id}/worklist?date=  Pending appointments

  Invoices:
    GET    /api/invoices                        History, newest first
    POST   /api/invoices                        Issue (-> billed)
    GET    /api/invoices/{id}                   Get with lines

  Products:
    POST   /api/products/{id}/stock             Adjust stock
    GET    /api/products/low-stock              At or below minimum

  Scenarios:
    GET    /api/scenarios                       List demo scenarios
    POST   /api/scenarios/load                  Seed a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the error kind:
  - 400: Validation errors, appointment in the past
  - 404: Resource not found
  - 409: Slot conflict, invalid transition, already invoiced
  - 422: Insufficient stock (with shortage details)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization here; the front door is expected
  to sit in front of this service.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/clinic-engine/clinic"
	"github.com/warp/clinic-engine/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Services *clinic.Services
	Catalog  clinic.CatalogStore
	Metrics  *metrics.ClinicMetrics
	Logger   zerolog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the wired services. catalog is
// used by the demo scenarios to seed products and services.
func NewHandler(svc *clinic.Services, catalog clinic.CatalogStore) *Handler {
	return &Handler{
		Services: svc,
		Catalog:  catalog,
		Logger:   zerolog.Nop(),
	}
}

// =============================================================================
// APPOINTMENT HANDLERS
// =============================================================================

// ScheduleAppointment books a new appointment.
func (h *Handler) ScheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req ScheduleAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	when, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scheduled_at, expected RFC3339", err)
		return
	}

	appt, err := h.Services.Book.Schedule(r.Context(), clinic.ScheduleRequest{
		PractitionerID: clinic.PractitionerID(req.PractitionerID),
		PatientID:      clinic.PatientID(req.PatientID),
		When:           when,
		Reason:         req.Reason,
	})
	if err != nil {
		writeDomainError(w, "Failed to schedule appointment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentDTO(*appt))
}

// GetAppointment returns a single appointment.
func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id := clinic.AppointmentID(chi.URLParam(r, "id"))
	appt, err := h.Services.Book.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTO(*appt))
}

// RescheduleAppointment updates time, reason or participants.
func (h *Handler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id := clinic.AppointmentID(chi.URLParam(r, "id"))

	var req RescheduleAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	var when time.Time
	if req.ScheduledAt != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid scheduled_at, expected RFC3339", err)
			return
		}
		when = t
	}

	appt, err := h.Services.Book.Reschedule(r.Context(), id, clinic.RescheduleRequest{
		When:           when,
		Reason:         req.Reason,
		PractitionerID: clinic.PractitionerID(req.PractitionerID),
		PatientID:      clinic.PatientID(req.PatientID),
	})
	if err != nil {
		writeDomainError(w, "Failed to reschedule appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTO(*appt))
}

// CancelAppointment cancels an appointment.
func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id := clinic.AppointmentID(chi.URLParam(r, "id"))
	appt, err := h.Services.Book.Cancel(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to cancel appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTO(*appt))
}

// ListAppointments returns the appointments of a day, optionally filtered
// by state (?state=pending&state=attended or ?state=pending,attended).
func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	day, ok := h.parseDay(w, r)
	if !ok {
		return
	}
	list, err := h.Services.Book.ListByDay(r.Context(), day, parseStates(r)...)
	if err != nil {
		writeDomainError(w, "Failed to list appointments", err)
		return
	}
	if p := r.URL.Query().Get("practitioner"); p != "" {
		filtered := list[:0]
		for _, a := range list {
			if a.PractitionerID == clinic.PractitionerID(p) {
				filtered = append(filtered, a)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, toAppointmentDTOs(list))
}

// GetAgenda returns pending and attended appointments of a day.
func (h *Handler) GetAgenda(w http.ResponseWriter, r *http.Request) {
	day, ok := h.parseDay(w, r)
	if !ok {
		return
	}
	list, err := h.Services.Book.Agenda(r.Context(), day)
	if err != nil {
		writeDomainError(w, "Failed to load agenda", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTOs(list))
}

// SearchAppointments finds appointments by patient identifier.
func (h *Handler) SearchAppointments(w http.ResponseWriter, r *http.Request) {
	exact, _ := strconv.ParseBool(r.URL.Query().Get("exact"))
	list, err := h.Services.Book.ListByPatient(r.Context(), r.URL.Query().Get("patient"), exact)
	if err != nil {
		writeDomainError(w, "Failed to search appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTOs(list))
}

// ListPendingBilling returns attended appointments awaiting an invoice.
func (h *Handler) ListPendingBilling(w http.ResponseWriter, r *http.Request) {
	list, err := h.Services.Book.PendingBilling(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list appointments pending billing", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTOs(list))
}

// GetWorklist returns a practitioner's pending appointments for a day.
func (h *Handler) GetWorklist(w http.ResponseWriter, r *http.Request) {
	day, ok := h.parseDay(w, r)
	if !ok {
		return
	}
	practitioner := clinic.PractitionerID(chi.URLParam(r, "id"))
	list, err := h.Services.Book.Worklist(r.Context(), practitioner, day)
	if err != nil {
		writeDomainError(w, "Failed to load worklist", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTOs(list))
}

// =============================================================================
// ENCOUNTER HANDLERS
// =============================================================================

// RecordEncounter stores the clinical note and marks the appointment attended.
func (h *Handler) RecordEncounter(w http.ResponseWriter, r *http.Request) {
	id := clinic.AppointmentID(chi.URLParam(r, "id"))

	var req RecordEncounterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	enc, err := h.Services.Encounters.RecordEncounter(r.Context(), clinic.EncounterRequest{
		AppointmentID: id,
		Diagnosis:     req.Diagnosis,
		Treatment:     req.Treatment,
		Notes:         req.Notes,
	})
	if err != nil {
		writeDomainError(w, "Failed to record encounter", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEncounterDTO(*enc))
}

// ListEncounters returns the notes of an appointment.
func (h *Handler) ListEncounters(w http.ResponseWriter, r *http.Request) {
	id := clinic.AppointmentID(chi.URLParam(r, "id"))
	list, err := h.Services.Encounters.Encounters(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list encounters", err)
		return
	}
	out := make([]EncounterDTO, len(list))
	for i, e := range list {
		out[i] = toEncounterDTO(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// IssueInvoice bills an attended appointment.
func (h *Handler) IssueInvoice(w http.ResponseWriter, r *http.Request) {
	var req IssueInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	lines := make([]clinic.InvoiceLineRequest, len(req.Lines))
	for i, l := range req.Lines {
		item, err := lineItem(l)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid invoice line "+strconv.Itoa(i), err)
			return
		}
		lines[i] = clinic.InvoiceLineRequest{
			Item:      item,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Zone:      l.Zone,
		}
	}

	inv, err := h.Services.Billing.IssueInvoice(r.Context(), clinic.InvoiceRequest{
		AppointmentID: clinic.AppointmentID(req.AppointmentID),
		Client: clinic.Client{
			ID:      req.Client.ID,
			Name:    req.Client.Name,
			Address: req.Client.Address,
		},
		PaymentMethod: clinic.PaymentMethod(req.PaymentMethod),
		Lines:         lines,
	})
	if err != nil {
		writeDomainError(w, "Failed to issue invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(*inv))
}

// ListInvoices returns the invoice history, newest first.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	list, err := h.Services.Billing.List(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceSummaryDTOs(list))
}

// GetInvoice returns an invoice with its lines.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := clinic.InvoiceID(chi.URLParam(r, "id"))
	inv, err := h.Services.Billing.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// GetAppointmentInvoice returns the invoice that closed an appointment.
func (h *Handler) GetAppointmentInvoice(w http.ResponseWriter, r *http.Request) {
	id := clinic.AppointmentID(chi.URLParam(r, "id"))
	inv, err := h.Services.Billing.ForAppointment(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

func lineItem(l InvoiceLineRequest) (clinic.LineItem, error) {
	service := strings.TrimSpace(l.ServiceID)
	product := strings.TrimSpace(l.ProductID)
	switch {
	case service != "" && product != "":
		return nil, errors.New("exactly one of service_id and product_id must be set, got both")
	case service != "":
		return clinic.ServiceItem{ServiceID: clinic.ServiceID(service)}, nil
	case product != "":
		return clinic.ProductItem{ProductID: clinic.ProductID(product)}, nil
	}
	return nil, errors.New("exactly one of service_id and product_id must be set, got neither")
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

// AdjustStock applies a signed delta to a product's stock.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id := clinic.ProductID(chi.URLParam(r, "id"))

	var req AdjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	change, err := h.Services.Inventory.AdjustStock(r.Context(), id, req.Delta)
	if err != nil {
		writeDomainError(w, "Failed to adjust stock", err)
		return
	}
	writeJSON(w, http.StatusOK, StockChangeDTO{
		ProductID: string(change.ProductID),
		Before:    change.Before,
		After:     change.After,
		Delta:     change.Delta,
	})
}

// ListLowStock returns active products at or below their minimum stock.
func (h *Handler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.Services.Inventory.LowStock(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list low stock", err)
		return
	}
	h.Metrics.ObserveLowStock(products)

	out := make([]ProductDTO, len(products))
	for i, p := range products {
		out[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// parseDay reads ?date=YYYY-MM-DD in the clinic's time zone, defaulting to today.
func (h *Handler) parseDay(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	loc := h.Services.Book.Location()
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return time.Now().In(loc), true
	}
	day, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err)
		return time.Time{}, false
	}
	return day, true
}

func parseStates(r *http.Request) []clinic.AppointmentState {
	var out []clinic.AppointmentState
	for _, v := range r.URL.Query()["state"] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, clinic.AppointmentState(strings.ToLower(s)))
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a clinic error kind to a status code.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	resp := ErrorResponse{Error: message, Kind: clinic.Kind(err), Details: err.Error()}

	var short *clinic.InsufficientStockError
	if errors.As(err, &short) {
		resp.Shortage = &StockShortageDTO{
			ProductID: string(short.ProductID),
			Available: short.Available,
			Requested: short.Requested,
		}
	}
	writeJSON(w, statusFor(err), resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, clinic.ErrValidation), errors.Is(err, clinic.ErrInvalidSchedule):
		return http.StatusBadRequest
	case clinic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, clinic.ErrSlotConflict),
		errors.Is(err, clinic.ErrInvalidTransition),
		errors.Is(err, clinic.ErrAlreadyInvoiced),
		errors.Is(err, clinic.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, clinic.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
