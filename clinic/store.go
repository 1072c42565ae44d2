/*
store.go - Persistence interfaces for the clinic engine

PURPOSE:
  Defines the boundary between domain logic and the database. The
  services never see a connection; they receive a Store bound to the
  current unit of work from TxStore.WithTx.

KEY INTERFACES:
  AppointmentStore: appointments and slot lookups
  EncounterStore:   clinical notes
  CatalogStore:     products and services (read side + seeding)
  InventoryStore:   stock reads under lock, compare-and-swap writes
  InvoiceStore:     invoice headers and lines (insert-only) and history
  TxStore:          Store + WithTx

UNIQUENESS CONTRACT:
  Implementations must reject, at write time:
  - a second non-cancelled appointment for the same practitioner and
    instant (ErrSlotConflict)
  - a second invoice for the same appointment (ErrAlreadyInvoiced)
  so that races between concurrent units of work cannot break them.

STOCK CONTRACT:
  LockStock reads the current value and, where the backend supports it,
  holds a row lock until the unit of work ends. CompareAndSetStock writes
  only if the stored value still equals the expected one, and returns
  ErrConcurrentModification otherwise. Stock never goes below zero.

IMPLEMENTATIONS:
  - clinic/store/memory.go: In-memory, snapshot + rollback
  - store/sqlite: database/sql + go-sqlite3
  - store/postgres: database/sql + pgx

SEE ALSO:
  - book.go, billing.go: Consumers
*/
package clinic

import (
	"context"
	"time"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// AppointmentFilter selects appointments for listing. Zero fields match all.
type AppointmentFilter struct {
	From           time.Time // inclusive
	To             time.Time // exclusive
	States         []AppointmentState
	PractitionerID PractitionerID
	PatientQuery   string
	PatientExact   bool
}

type AppointmentStore interface {
	// InsertAppointment persists a new appointment. Returns ErrSlotConflict
	// when the slot uniqueness rule is violated.
	InsertAppointment(ctx context.Context, a Appointment) error

	// UpdateAppointment overwrites schedule fields and state of an existing
	// appointment. Returns ErrAppointmentNotFound or ErrSlotConflict.
	UpdateAppointment(ctx context.Context, a Appointment) error

	GetAppointment(ctx context.Context, id AppointmentID) (*Appointment, error)

	// CountActiveAt counts non-cancelled appointments for practitioner at
	// exactly at.
	CountActiveAt(ctx context.Context, practitioner PractitionerID, at time.Time) (int, error)

	// ListAppointments returns matches ordered by ScheduledAt ascending.
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
}

type EncounterStore interface {
	InsertEncounter(ctx context.Context, e Encounter) error
	ListEncounters(ctx context.Context, appointment AppointmentID) ([]Encounter, error)
}

type CatalogStore interface {
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	GetService(ctx context.Context, id ServiceID) (*Service, error)
	SaveProduct(ctx context.Context, p Product) error
	SaveService(ctx context.Context, s Service) error

	// ListLowStock returns active products whose stock is at or below
	// their minimum, ordered by product ID.
	ListLowStock(ctx context.Context) ([]Product, error)
}

type InventoryStore interface {
	// LockStock returns the current stock of a product. Returns
	// ErrProductNotFound for unknown products.
	LockStock(ctx context.Context, id ProductID) (int, error)

	// CompareAndSetStock stores next when the current stock equals expected.
	CompareAndSetStock(ctx context.Context, id ProductID, expected, next int) error
}

type InvoiceStore interface {
	// InsertInvoice persists the header. Returns ErrAlreadyInvoiced when the
	// appointment already has an invoice.
	InsertInvoice(ctx context.Context, h InvoiceHeader) error

	// InsertInvoiceLines persists all lines as one batch.
	InsertInvoiceLines(ctx context.Context, lines []InvoiceLine) error

	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	GetInvoiceByAppointment(ctx context.Context, appointment AppointmentID) (*Invoice, error)

	// ListInvoices returns every invoice header, newest first. Ties on
	// IssuedAt are broken by ID descending.
	ListInvoices(ctx context.Context) ([]InvoiceSummary, error)
}

// Store is everything one unit of work can touch.
type Store interface {
	AppointmentStore
	EncounterStore
	CatalogStore
	InventoryStore
	InvoiceStore
}

// TxStore extends Store with transaction support.
// Used when multiple writes must succeed or fail together.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
