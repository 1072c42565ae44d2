/*
errors.go - Centralized error types for the clinic engine

PURPOSE:
  All error kinds in one place. Callers branch with errors.Is on the
  sentinels and errors.As on the structured types when they need detail
  (which product ran short, which slot was taken).

ERROR CATEGORIES:
  1. Domain violations - detected before any mutation, never retried
  2. Missing references - appointment, invoice, product or service absent
  3. Persistence failures - infrastructure, surfaced unchanged in meaning

USAGE:
  var short *clinic.InsufficientStockError
  if errors.As(err, &short) {
      // short.Available, short.Requested
  }

SEE ALSO:
  - store.go: Stores translate driver errors into these sentinels
  - api/handlers.go: Maps kinds to HTTP status codes
*/
package clinic

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidSchedule is returned when a new appointment is requested in the past.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrSlotConflict is returned when the practitioner already holds a
	// non-cancelled appointment at the same instant.
	ErrSlotConflict = errors.New("slot conflict")

	// ErrInsufficientStock is returned when a product cannot cover a decrement.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidTransition is returned when the transition table has no edge
	// for the appointment's current state and the requested event.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrValidation is returned for malformed requests.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyInvoiced is returned when an appointment already has an invoice.
	ErrAlreadyInvoiced = errors.New("appointment already invoiced")

	// ErrConcurrentModification is returned when a compare-and-swap lost a race.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrNotFound is the parent of every missing-reference error.
	ErrNotFound = errors.New("not found")

	// ErrPersistence is returned for infrastructural storage failures.
	ErrPersistence = errors.New("persistence failure")
)

var (
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrInvoiceNotFound     = fmt.Errorf("invoice %w", ErrNotFound)
	ErrProductNotFound     = fmt.Errorf("product %w", ErrNotFound)
	ErrServiceNotFound     = fmt.Errorf("service %w", ErrNotFound)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ScheduleError explains why a requested time was rejected.
type ScheduleError struct {
	At     time.Time
	Reason string
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule: %s (%s)", e.Reason, e.At.Format(time.RFC3339))
}

func (e *ScheduleError) Unwrap() error {
	return ErrInvalidSchedule
}

// SlotConflictError identifies the occupied slot.
type SlotConflictError struct {
	PractitionerID PractitionerID
	At             time.Time
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot conflict: practitioner %s already booked at %s",
		e.PractitionerID, e.At.Format(time.RFC3339))
}

func (e *SlotConflictError) Unwrap() error {
	return ErrSlotConflict
}

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	ProductID ProductID
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// InvalidTransitionError names the rejected edge.
type InvalidTransitionError struct {
	AppointmentID AppointmentID
	From          AppointmentState
	Event         Event
}

func (e *InvalidTransitionError) Error() string {
	if e.AppointmentID == "" {
		return fmt.Sprintf("cannot %s an appointment in state %s", e.Event, e.From)
	}
	return fmt.Sprintf("cannot %s appointment %s in state %s", e.Event, e.AppointmentID, e.From)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// PersistenceError wraps a storage failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Is lets errors.Is match both ErrPersistence and the wrapped driver error.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Persistence wraps err as a PersistenceError unless it already carries a
// domain kind, in which case it is returned unchanged.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != KindInternal {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input
// or a business rule the caller can act on.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrSlotConflict) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAlreadyInvoiced)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Error kinds as stable labels for logs, metrics and API payloads.
const (
	KindOK                = "ok"
	KindInvalidSchedule   = "invalid_schedule"
	KindSlotConflict      = "slot_conflict"
	KindInsufficientStock = "insufficient_stock"
	KindInvalidTransition = "invalid_transition"
	KindValidation        = "validation"
	KindAlreadyInvoiced   = "already_invoiced"
	KindConflict          = "concurrent_modification"
	KindNotFound          = "not_found"
	KindPersistence       = "persistence"
	KindInternal          = "internal"
)

// Kind classifies err into one of the Kind* labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrInvalidSchedule):
		return KindInvalidSchedule
	case errors.Is(err, ErrSlotConflict):
		return KindSlotConflict
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrAlreadyInvoiced):
		return KindAlreadyInvoiced
	case errors.Is(err, ErrConcurrentModification):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	}
	return KindInternal
}
