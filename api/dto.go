/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the clinic domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are rendered as strings with two fractional digits ("34.50").
  Requests accept either JSON numbers or strings for prices.

VALIDATION:
  Validation is done in handlers and in the clinic package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/clinic"
)

// =============================================================================
// APPOINTMENTS
// =============================================================================

// AppointmentDTO represents an appointment in API responses.
type AppointmentDTO struct {
	ID             string `json:"id"`
	PractitionerID string `json:"practitioner_id"`
	PatientID      string `json:"patient_id"`
	ScheduledAt    string `json:"scheduled_at"`
	Reason         string `json:"reason,omitempty"`
	State          string `json:"state"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// ScheduleAppointmentRequest books a new appointment.
type ScheduleAppointmentRequest struct {
	PractitionerID string `json:"practitioner_id"`
	PatientID      string `json:"patient_id"`
	ScheduledAt    string `json:"scheduled_at"` // RFC3339
	Reason         string `json:"reason"`
}

// RescheduleAppointmentRequest changes an existing appointment. Empty
// fields are left unchanged.
type RescheduleAppointmentRequest struct {
	ScheduledAt    string `json:"scheduled_at,omitempty"`
	Reason         string `json:"reason,omitempty"`
	PractitionerID string `json:"practitioner_id,omitempty"`
	PatientID      string `json:"patient_id,omitempty"`
}

func toAppointmentDTO(a clinic.Appointment) AppointmentDTO {
	return AppointmentDTO{
		ID:             string(a.ID),
		PractitionerID: string(a.PractitionerID),
		PatientID:      string(a.PatientID),
		ScheduledAt:    a.ScheduledAt.Format(time.RFC3339),
		Reason:         a.Reason,
		State:          string(a.State),
		CreatedAt:      formatOptionalTime(a.CreatedAt),
		UpdatedAt:      formatOptionalTime(a.UpdatedAt),
	}
}

func toAppointmentDTOs(list []clinic.Appointment) []AppointmentDTO {
	out := make([]AppointmentDTO, len(list))
	for i, a := range list {
		out[i] = toAppointmentDTO(a)
	}
	return out
}

// =============================================================================
// ENCOUNTERS
// =============================================================================

// RecordEncounterRequest is the practitioner's note for a visit.
type RecordEncounterRequest struct {
	Diagnosis string `json:"diagnosis"`
	Treatment string `json:"treatment"`
	Notes     string `json:"notes,omitempty"`
}

// EncounterDTO represents a clinical note in API responses.
type EncounterDTO struct {
	ID            string `json:"id"`
	AppointmentID string `json:"appointment_id"`
	Diagnosis     string `json:"diagnosis"`
	Treatment     string `json:"treatment"`
	Notes         string `json:"notes,omitempty"`
	RecordedAt    string `json:"recorded_at"`
}

func toEncounterDTO(e clinic.Encounter) EncounterDTO {
	return EncounterDTO{
		ID:            string(e.ID),
		AppointmentID: string(e.AppointmentID),
		Diagnosis:     e.Diagnosis,
		Treatment:     e.Treatment,
		Notes:         e.Notes,
		RecordedAt:    e.RecordedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// INVOICES
// =============================================================================

// ClientDTO identifies who the invoice is issued to.
type ClientDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// InvoiceLineRequest is one requested line. Exactly one of ServiceID and
// ProductID must be set.
type InvoiceLineRequest struct {
	ServiceID string           `json:"service_id,omitempty"`
	ProductID string           `json:"product_id,omitempty"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Zone      string           `json:"zone,omitempty"`
}

// IssueInvoiceRequest closes an attended appointment.
type IssueInvoiceRequest struct {
	AppointmentID string               `json:"appointment_id"`
	Client        ClientDTO            `json:"client"`
	PaymentMethod string               `json:"payment_method"`
	Lines         []InvoiceLineRequest `json:"lines"`
}

// InvoiceLineDTO represents an invoice line in API responses.
type InvoiceLineDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	ServiceID   string `json:"service_id,omitempty"`
	ProductID   string `json:"product_id,omitempty"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
	Zone        string `json:"zone"`
}

// InvoiceDTO represents an invoice with its lines.
type InvoiceDTO struct {
	ID            string           `json:"id"`
	AppointmentID string           `json:"appointment_id"`
	IssuedAt      string           `json:"issued_at"`
	Client        ClientDTO        `json:"client"`
	PaymentMethod string           `json:"payment_method"`
	Subtotal      string           `json:"subtotal"`
	Tax           string           `json:"tax"`
	Total         string           `json:"total"`
	Lines         []InvoiceLineDTO `json:"lines"`
}

func toInvoiceDTO(inv clinic.Invoice) InvoiceDTO {
	h := inv.Header
	out := InvoiceDTO{
		ID:            string(h.ID),
		AppointmentID: string(h.AppointmentID),
		IssuedAt:      h.IssuedAt.Format(time.RFC3339),
		Client:        ClientDTO{ID: h.Client.ID, Name: h.Client.Name, Address: h.Client.Address},
		PaymentMethod: string(h.PaymentMethod),
		Subtotal:      h.Subtotal.StringFixed(2),
		Tax:           h.Tax.StringFixed(2),
		Total:         h.Total.StringFixed(2),
		Lines:         make([]InvoiceLineDTO, len(inv.Lines)),
	}
	for i, l := range inv.Lines {
		dto := InvoiceLineDTO{
			ID:          string(l.ID),
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice.StringFixed(2),
			Subtotal:    l.Subtotal.StringFixed(2),
			Zone:        l.Zone,
		}
		switch item := l.Item.(type) {
		case clinic.ServiceItem:
			dto.Kind = string(clinic.ItemService)
			dto.ServiceID = string(item.ServiceID)
		case clinic.ProductItem:
			dto.Kind = string(clinic.ItemProduct)
			dto.ProductID = string(item.ProductID)
		}
		out.Lines[i] = dto
	}
	return out
}

// InvoiceSummaryDTO is one row of the invoice history.
type InvoiceSummaryDTO struct {
	ID            string    `json:"id"`
	AppointmentID string    `json:"appointment_id"`
	Reason        string    `json:"reason,omitempty"`
	IssuedAt      string    `json:"issued_at"`
	Client        ClientDTO `json:"client"`
	PaymentMethod string    `json:"payment_method"`
	Subtotal      string    `json:"subtotal"`
	Tax           string    `json:"tax"`
	Total         string    `json:"total"`
}

func toInvoiceSummaryDTOs(list []clinic.InvoiceSummary) []InvoiceSummaryDTO {
	out := make([]InvoiceSummaryDTO, len(list))
	for i, s := range list {
		h := s.Header
		out[i] = InvoiceSummaryDTO{
			ID:            string(h.ID),
			AppointmentID: string(h.AppointmentID),
			Reason:        s.Reason,
			IssuedAt:      h.IssuedAt.Format(time.RFC3339),
			Client:        ClientDTO{ID: h.Client.ID, Name: h.Client.Name, Address: h.Client.Address},
			PaymentMethod: string(h.PaymentMethod),
			Subtotal:      h.Subtotal.StringFixed(2),
			Tax:           h.Tax.StringFixed(2),
			Total:         h.Total.StringFixed(2),
		}
	}
	return out
}

// =============================================================================
// INVENTORY
// =============================================================================

// AdjustStockRequest applies a signed stock delta.
type AdjustStockRequest struct {
	Delta int `json:"delta"`
}

// StockChangeDTO reports an applied adjustment.
type StockChangeDTO struct {
	ProductID string `json:"product_id"`
	Before    int    `json:"before"`
	After     int    `json:"after"`
	Delta     int    `json:"delta"`
}

// ProductDTO represents a catalog product.
type ProductDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Brand    string `json:"brand,omitempty"`
	Price    string `json:"price"`
	Stock    int    `json:"stock"`
	MinStock int    `json:"min_stock"`
	Active   bool   `json:"active"`
}

func toProductDTO(p clinic.Product) ProductDTO {
	return ProductDTO{
		ID:       string(p.ID),
		Name:     p.Name,
		Brand:    p.Brand,
		Price:    p.Price.StringFixed(2),
		Stock:    p.Stock,
		MinStock: p.MinStock,
		Active:   p.Active,
	}
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// StockShortageDTO details an insufficient stock rejection.
type StockShortageDTO struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error    string            `json:"error"`
	Kind     string            `json:"kind,omitempty"`
	Details  string            `json:"details,omitempty"`
	Shortage *StockShortageDTO `json:"shortage,omitempty"`
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
