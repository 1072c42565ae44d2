/*
Package clinic provides the appointment lifecycle and billing engine.

PURPOSE:
  This package owns the two transactional paths of a small clinic:
  moving an appointment through its states (booked, attended, billed or
  cancelled) and closing the business cycle with an invoice that
  consumes inventory. Everything else (patients, catalog CRUD, users,
  documents) belongs to collaborators that call into this package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Appointment: A booked slot for one patient with one practitioner
  - Encounter: The clinical note recorded when the patient is seen
  - Product / Service: Catalog entries that can be billed
  - LineItem: Sum type referencing exactly one service OR one product
  - Invoice: Immutable header + lines for one appointment

DESIGN PRINCIPLES:
  1. Precision: Money is decimal.Decimal, rounded to 2 places at the edges
  2. Type Safety: Typed IDs prevent mixing patient/practitioner/product IDs
  3. Explicit units of work: every mutation runs inside Store.WithTx

USAGE:
  svc := clinic.NewServices(store, clinic.Options{})
  appt, err := svc.Book.Schedule(ctx, clinic.ScheduleRequest{...})
  _, err = svc.Encounters.RecordEncounter(ctx, clinic.EncounterRequest{...})
  inv, err := svc.Billing.IssueInvoice(ctx, clinic.InvoiceRequest{...})

SEE ALSO:
  - state.go: Appointment transition table
  - book.go: AppointmentBook
  - billing.go: BillingEngine
*/
package clinic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	AppointmentID  string
	PatientID      string
	PractitionerID string
	EncounterID    string
	ProductID      string
	ServiceID      string
	InvoiceID      string
	InvoiceLineID  string
)

// =============================================================================
// APPOINTMENT
// =============================================================================

// AppointmentState is the lifecycle position of an appointment.
type AppointmentState string

const (
	StatePending   AppointmentState = "pending"
	StateAttended  AppointmentState = "attended"
	StateBilled    AppointmentState = "billed"
	StateCancelled AppointmentState = "cancelled"
)

// Valid reports whether s is one of the known states.
func (s AppointmentState) Valid() bool {
	switch s {
	case StatePending, StateAttended, StateBilled, StateCancelled:
		return true
	}
	return false
}

// Appointment is a booked time slot. Appointments are never deleted;
// cancellation is a state.
type Appointment struct {
	ID             AppointmentID
	PractitionerID PractitionerID
	PatientID      PatientID
	ScheduledAt    time.Time
	Reason         string
	State          AppointmentState
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// =============================================================================
// ENCOUNTER
// =============================================================================

// Encounter is the clinical note attached to an appointment when the
// patient is seen. Notes is optional.
type Encounter struct {
	ID            EncounterID
	AppointmentID AppointmentID
	Diagnosis     string
	Treatment     string
	Notes         string
	RecordedAt    time.Time
}

// =============================================================================
// CATALOG
// =============================================================================

// Product is a stock-tracked catalog item.
type Product struct {
	ID       ProductID
	Name     string
	Brand    string
	Price    decimal.Decimal
	Stock    int
	MinStock int
	Active   bool
}

// LowOnStock reports whether the product sits at or below its minimum.
func (p Product) LowOnStock() bool {
	return p.Stock <= p.MinStock
}

// Service is a billable clinical procedure. Services carry no stock.
type Service struct {
	ID     ServiceID
	Name   string
	Price  decimal.Decimal
	Active bool
}

// StockChange describes one applied inventory adjustment.
type StockChange struct {
	ProductID ProductID
	Before    int
	After     int
	Delta     int
}

// =============================================================================
// LINE ITEMS - sum type: exactly one of service or product
// =============================================================================

// ItemKind names the variant of a LineItem.
type ItemKind string

const (
	ItemService ItemKind = "service"
	ItemProduct ItemKind = "product"
)

// LineItem references the billed catalog entry. The only implementations
// are ServiceItem and ProductItem.
type LineItem interface {
	Kind() ItemKind
	Ref() string
	isLineItem()
}

// ServiceItem bills a service.
type ServiceItem struct {
	ServiceID ServiceID
}

func (ServiceItem) Kind() ItemKind { return ItemService }
func (s ServiceItem) Ref() string { return string(s.ServiceID) }
func (ServiceItem) isLineItem() {}

// ProductItem bills a product and consumes its stock.
type ProductItem struct {
	ProductID ProductID
}

func (ProductItem) Kind() ItemKind { return ItemProduct }
func (p ProductItem) Ref() string { return string(p.ProductID) }
func (ProductItem) isLineItem() {}

// NewLineItem builds the variant for kind. It returns nil for an unknown kind.
func NewLineItem(kind ItemKind, ref string) LineItem {
	switch kind {
	case ItemService:
		return ServiceItem{ServiceID: ServiceID(ref)}
	case ItemProduct:
		return ProductItem{ProductID: ProductID(ref)}
	}
	return nil
}

// =============================================================================
// INVOICE
// =============================================================================

// PaymentMethod is free text supplied by the front desk (cash, card, transfer).
type PaymentMethod string

// Client identifies who the invoice is issued to.
type Client struct {
	ID      string
	Name    string
	Address string
}

// InvoiceHeader is immutable after issue.
type InvoiceHeader struct {
	ID            InvoiceID
	AppointmentID AppointmentID
	IssuedAt      time.Time
	Client        Client
	PaymentMethod PaymentMethod
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
}

// InvoiceLine is one billed item with its price snapshot.
type InvoiceLine struct {
	ID          InvoiceLineID
	InvoiceID   InvoiceID
	Item        LineItem
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
	Zone        string
}

// InvoiceSummary is one row of the invoice history: the header plus the
// reason of the appointment it closed.
type InvoiceSummary struct {
	Header InvoiceHeader
	Reason string
}

// Invoice is a header with its lines, as handed to document rendering.
type Invoice struct {
	Header InvoiceHeader
	Lines  []InvoiceLine
}
