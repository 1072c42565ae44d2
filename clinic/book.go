/*
book.go - AppointmentBook: scheduling and lifecycle of appointments

PURPOSE:
  Books time slots, moves appointments through the transition table and
  answers the day views the front desk works from.

SCHEDULING RULES:
  - A new appointment may not be in the past (ErrInvalidSchedule)
  - A practitioner holds at most one non-cancelled appointment per
    instant (ErrSlotConflict). The check runs inside the unit of work and
    the store's uniqueness rule backs it against concurrent bookings.
  - Reschedule does NOT re-run either check. Only the store's uniqueness
    rule can still refuse a move onto an occupied slot.

LIFECYCLE:
  Cancel, MarkAttended and MarkBilled apply EventCancel, EventAttend and
  EventBill. Other components apply events inside their own unit of work
  through transitionIn.

SEE ALSO:
  - state.go: Transition table
  - slot.go: Slot predicate
*/
package clinic

import (
	"context"
	"errors"
	"strings"
	"time"
)

// AppointmentBook owns appointment records.
type AppointmentBook struct {
	*deps
}

// NewAppointmentBook creates a book over store.
func NewAppointmentBook(store TxStore, opts Options) *AppointmentBook {
	return &AppointmentBook{deps: newDeps(store, opts)}
}

// ScheduleRequest asks for a new appointment.
type ScheduleRequest struct {
	PractitionerID PractitionerID
	PatientID      PatientID
	When           time.Time
	Reason         string
}

// RescheduleRequest updates an existing appointment. Zero fields keep the
// current value.
type RescheduleRequest struct {
	When           time.Time
	Reason         string
	PractitionerID PractitionerID
	PatientID      PatientID
}

// =============================================================================
// COMMANDS
// =============================================================================

// Schedule books a new pending appointment.
func (b *AppointmentBook) Schedule(ctx context.Context, req ScheduleRequest) (_ *Appointment, err error) {
	start := time.Now()
	defer func() { b.observe("schedule", start, err) }()

	if req.PractitionerID == "" {
		return nil, &ValidationError{Field: "practitioner_id", Message: "is required"}
	}
	if req.PatientID == "" {
		return nil, &ValidationError{Field: "patient_id", Message: "is required"}
	}
	if req.When.IsZero() {
		return nil, &ValidationError{Field: "when", Message: "is required"}
	}

	now := b.now()
	if req.When.Before(now) {
		return nil, &ScheduleError{At: req.When, Reason: "appointment time is in the past"}
	}

	at := NormalizeTime(req.When)
	appt := Appointment{
		ID:             AppointmentID(b.newID()),
		PractitionerID: req.PractitionerID,
		PatientID:      req.PatientID,
		ScheduledAt:    at,
		Reason:         strings.TrimSpace(req.Reason),
		State:          StatePending,
		CreatedAt:      NormalizeTime(now),
		UpdatedAt:      NormalizeTime(now),
	}

	err = b.store.WithTx(ctx, func(s Store) error {
		free, err := b.slotFree(ctx, s, appt.PractitionerID, at)
		if err != nil {
			return Persistence("check slot", err)
		}
		if !free {
			return &SlotConflictError{PractitionerID: appt.PractitionerID, At: at}
		}
		if err := s.InsertAppointment(ctx, appt); err != nil {
			if errors.Is(err, ErrSlotConflict) {
				return &SlotConflictError{PractitionerID: appt.PractitionerID, At: at}
			}
			return Persistence("insert appointment", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.log.Info().
		Str("appointment_id", string(appt.ID)).
		Str("practitioner_id", string(appt.PractitionerID)).
		Time("scheduled_at", at).
		Msg("appointment scheduled")
	return &appt, nil
}

// Reschedule updates time, reason or participants of an appointment.
func (b *AppointmentBook) Reschedule(ctx context.Context, id AppointmentID, req RescheduleRequest) (_ *Appointment, err error) {
	start := time.Now()
	defer func() { b.observe("reschedule", start, err) }()

	var updated *Appointment
	err = b.store.WithTx(ctx, func(s Store) error {
		a, err := s.GetAppointment(ctx, id)
		if err != nil {
			return Persistence("load appointment", err)
		}
		if !req.When.IsZero() {
			a.ScheduledAt = NormalizeTime(req.When)
		}
		if r := strings.TrimSpace(req.Reason); r != "" {
			a.Reason = r
		}
		if req.PractitionerID != "" {
			a.PractitionerID = req.PractitionerID
		}
		if req.PatientID != "" {
			a.PatientID = req.PatientID
		}
		a.UpdatedAt = NormalizeTime(b.now())
		if err := s.UpdateAppointment(ctx, *a); err != nil {
			if errors.Is(err, ErrSlotConflict) {
				return &SlotConflictError{PractitionerID: a.PractitionerID, At: a.ScheduledAt}
			}
			return Persistence("update appointment", err)
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.log.Info().Str("appointment_id", string(id)).Time("scheduled_at", updated.ScheduledAt).Msg("appointment rescheduled")
	return updated, nil
}

// Cancel moves an appointment to cancelled.
func (b *AppointmentBook) Cancel(ctx context.Context, id AppointmentID) (*Appointment, error) {
	return b.apply(ctx, "cancel", id, EventCancel)
}

// MarkAttended moves an appointment to attended.
func (b *AppointmentBook) MarkAttended(ctx context.Context, id AppointmentID) (*Appointment, error) {
	return b.apply(ctx, "mark_attended", id, EventAttend)
}

// MarkBilled moves an appointment to billed.
func (b *AppointmentBook) MarkBilled(ctx context.Context, id AppointmentID) (*Appointment, error) {
	return b.apply(ctx, "mark_billed", id, EventBill)
}

func (b *AppointmentBook) apply(ctx context.Context, op string, id AppointmentID, event Event) (_ *Appointment, err error) {
	start := time.Now()
	defer func() { b.observe(op, start, err) }()

	var out *Appointment
	err = b.store.WithTx(ctx, func(s Store) error {
		a, err := b.transitionIn(ctx, s, id, event)
		out = a
		return err
	})
	if err != nil {
		return nil, err
	}
	b.log.Info().Str("appointment_id", string(id)).Str("state", string(out.State)).Msg("appointment state changed")
	return out, nil
}

// checkIn loads an appointment and verifies event is allowed without
// changing anything.
func (b *AppointmentBook) checkIn(ctx context.Context, s Store, id AppointmentID, event Event) (*Appointment, error) {
	a, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, Persistence("load appointment", err)
	}
	if !b.transitions.Allows(a.State, event) {
		return nil, &InvalidTransitionError{AppointmentID: id, From: a.State, Event: event}
	}
	return a, nil
}

// transitionIn applies event to an appointment within s.
func (b *AppointmentBook) transitionIn(ctx context.Context, s Store, id AppointmentID, event Event) (*Appointment, error) {
	a, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, Persistence("load appointment", err)
	}
	to, err := b.transitions.Transition(a.State, event)
	if err != nil {
		return nil, &InvalidTransitionError{AppointmentID: id, From: a.State, Event: event}
	}
	a.State = to
	a.UpdatedAt = NormalizeTime(b.now())
	if err := s.UpdateAppointment(ctx, *a); err != nil {
		return nil, Persistence("update appointment state", err)
	}
	return a, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns one appointment.
func (b *AppointmentBook) Get(ctx context.Context, id AppointmentID) (*Appointment, error) {
	a, err := b.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, Persistence("load appointment", err)
	}
	return a, nil
}

// Location is the time zone that defines calendar days.
func (b *AppointmentBook) Location() *time.Location {
	return b.loc
}

// DayBounds returns [start, end) of the calendar day containing day in the
// book's location, in UTC.
func (b *AppointmentBook) DayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.In(b.loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, b.loc)
	return from.UTC(), from.AddDate(0, 0, 1).UTC()
}

// ListByDay returns appointments on day whose state is in states (all
// states when none given), earliest first.
func (b *AppointmentBook) ListByDay(ctx context.Context, day time.Time, states ...AppointmentState) ([]Appointment, error) {
	from, to := b.DayBounds(day)
	return b.list(ctx, AppointmentFilter{From: from, To: to, States: states})
}

// Agenda is the day's workload: pending and attended appointments.
func (b *AppointmentBook) Agenda(ctx context.Context, day time.Time) ([]Appointment, error) {
	return b.ListByDay(ctx, day, StatePending, StateAttended)
}

// BilledOn lists the day's billed appointments.
func (b *AppointmentBook) BilledOn(ctx context.Context, day time.Time) ([]Appointment, error) {
	return b.ListByDay(ctx, day, StateBilled)
}

// CancelledOn lists the day's cancelled appointments.
func (b *AppointmentBook) CancelledOn(ctx context.Context, day time.Time) ([]Appointment, error) {
	return b.ListByDay(ctx, day, StateCancelled)
}

// PendingBilling lists every attended appointment still waiting for an invoice.
func (b *AppointmentBook) PendingBilling(ctx context.Context) ([]Appointment, error) {
	return b.list(ctx, AppointmentFilter{States: []AppointmentState{StateAttended}})
}

// Worklist lists a practitioner's pending appointments on day.
func (b *AppointmentBook) Worklist(ctx context.Context, practitioner PractitionerID, day time.Time) ([]Appointment, error) {
	if practitioner == "" {
		return nil, &ValidationError{Field: "practitioner_id", Message: "is required"}
	}
	from, to := b.DayBounds(day)
	return b.list(ctx, AppointmentFilter{
		From:           from,
		To:             to,
		States:         []AppointmentState{StatePending},
		PractitionerID: practitioner,
	})
}

// ListByPatient finds appointments by patient identifier, either exactly
// or by substring.
func (b *AppointmentBook) ListByPatient(ctx context.Context, query string, exact bool) ([]Appointment, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &ValidationError{Field: "patient", Message: "search term is required"}
	}
	return b.list(ctx, AppointmentFilter{PatientQuery: query, PatientExact: exact})
}

func (b *AppointmentBook) list(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	for _, st := range f.States {
		if !st.Valid() {
			return nil, &ValidationError{Field: "state", Message: "unknown state " + string(st)}
		}
	}
	out, err := b.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, Persistence("list appointments", err)
	}
	return out, nil
}
