package clinic

import (
	"context"
	"strings"
	"time"
)

// EncounterRecorder stores the clinical note of a visit and marks the
// appointment attended in the same unit of work.
type EncounterRecorder struct {
	*deps
	book *AppointmentBook
}

// NewEncounterRecorder creates a recorder sharing book's store and table.
func NewEncounterRecorder(book *AppointmentBook) *EncounterRecorder {
	return &EncounterRecorder{deps: book.deps, book: book}
}

// EncounterRequest is the practitioner's note. Notes is optional.
type EncounterRequest struct {
	AppointmentID AppointmentID
	Diagnosis     string
	Treatment     string
	Notes         string
}

// RecordEncounter inserts the note and applies EventAttend. If either
// step fails neither is kept.
func (r *EncounterRecorder) RecordEncounter(ctx context.Context, req EncounterRequest) (_ *Encounter, err error) {
	start := time.Now()
	defer func() { r.observe("record_encounter", start, err) }()

	enc := Encounter{
		ID:            EncounterID(r.newID()),
		AppointmentID: req.AppointmentID,
		Diagnosis:     strings.TrimSpace(req.Diagnosis),
		Treatment:     strings.TrimSpace(req.Treatment),
		Notes:         strings.TrimSpace(req.Notes),
		RecordedAt:    NormalizeTime(r.now()),
	}
	switch {
	case enc.AppointmentID == "":
		return nil, &ValidationError{Field: "appointment_id", Message: "is required"}
	case enc.Diagnosis == "":
		return nil, &ValidationError{Field: "diagnosis", Message: "is required"}
	case enc.Treatment == "":
		return nil, &ValidationError{Field: "treatment", Message: "is required"}
	}

	err = r.store.WithTx(ctx, func(s Store) error {
		if _, err := r.book.checkIn(ctx, s, enc.AppointmentID, EventAttend); err != nil {
			return err
		}
		if err := s.InsertEncounter(ctx, enc); err != nil {
			return Persistence("insert encounter", err)
		}
		_, err := r.book.transitionIn(ctx, s, enc.AppointmentID, EventAttend)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().
		Str("appointment_id", string(enc.AppointmentID)).
		Str("encounter_id", string(enc.ID)).
		Msg("encounter recorded")
	return &enc, nil
}

// Encounters lists the notes recorded for an appointment, oldest first.
func (r *EncounterRecorder) Encounters(ctx context.Context, id AppointmentID) ([]Encounter, error) {
	if _, err := r.store.GetAppointment(ctx, id); err != nil {
		return nil, Persistence("load appointment", err)
	}
	out, err := r.store.ListEncounters(ctx, id)
	if err != nil {
		return nil, Persistence("list encounters", err)
	}
	return out, nil
}
