package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/warp/clinic-engine/clinic"
)

// =============================================================================
// APPOINTMENTS
// =============================================================================

const appointmentColumns = `id, practitioner_id, patient_id, scheduled_at, reason, state, created_at, updated_at`

func (c *conn) InsertAppointment(ctx context.Context, a clinic.Appointment) error {
	_, err := c.exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.ID),
		string(a.PractitionerID),
		string(a.PatientID),
		formatTime(a.ScheduledAt),
		nullString(a.Reason),
		string(a.State),
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
	)
	if err != nil {
		if c.d.uniqueViolation(err) {
			return clinic.ErrSlotConflict
		}
		return fmt.Errorf("failed to insert appointment: %w", err)
	}
	return nil
}

func (c *conn) UpdateAppointment(ctx context.Context, a clinic.Appointment) error {
	res, err := c.exec(ctx, `
		UPDATE appointments
		SET practitioner_id = ?, patient_id = ?, scheduled_at = ?, reason = ?, state = ?, updated_at = ?
		WHERE id = ?`,
		string(a.PractitionerID),
		string(a.PatientID),
		formatTime(a.ScheduledAt),
		nullString(a.Reason),
		string(a.State),
		formatTime(a.UpdatedAt),
		string(a.ID),
	)
	if err != nil {
		if c.d.uniqueViolation(err) {
			return clinic.ErrSlotConflict
		}
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	if n == 0 {
		return clinic.ErrAppointmentNotFound
	}
	return nil
}

func (c *conn) GetAppointment(ctx context.Context, id clinic.AppointmentID) (*clinic.Appointment, error) {
	rows, err := c.query(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	list, err := scanAppointments(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, clinic.ErrAppointmentNotFound
	}
	return &list[0], nil
}

func (c *conn) CountActiveAt(ctx context.Context, practitioner clinic.PractitionerID, at time.Time) (int, error) {
	var count int
	err := c.queryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE practitioner_id = ? AND scheduled_at = ? AND state <> ?`,
		string(practitioner), formatTime(at), string(clinic.StateCancelled),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count appointments: %w", err)
	}
	return count, nil
}

func (c *conn) ListAppointments(ctx context.Context, f clinic.AppointmentFilter) ([]clinic.Appointment, error) {
	var (
		where []string
		args  []any
	)
	if !f.From.IsZero() {
		where = append(where, "scheduled_at >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "scheduled_at < ?")
		args = append(args, formatTime(f.To))
	}
	if len(f.States) > 0 {
		where = append(where, "state IN ("+placeholders(len(f.States))+")")
		for _, s := range f.States {
			args = append(args, string(s))
		}
	}
	if f.PractitionerID != "" {
		where = append(where, "practitioner_id = ?")
		args = append(args, string(f.PractitionerID))
	}
	if f.PatientQuery != "" {
		if f.PatientExact {
			where = append(where, "patient_id = ?")
			args = append(args, f.PatientQuery)
		} else {
			where = append(where, fmt.Sprintf(c.d.SubstringMatch, "patient_id"))
			args = append(args, f.PatientQuery)
		}
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY scheduled_at ASC, id ASC`

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return scanAppointments(rows)
}

func scanAppointments(rows *sql.Rows) ([]clinic.Appointment, error) {
	defer rows.Close()

	var out []clinic.Appointment
	for rows.Next() {
		var (
			a         clinic.Appointment
			id        string
			pract     string
			patient   string
			state     string
			reason    sql.NullString
			scheduled timeValue
			created   timeValue
			updated   timeValue
		)
		if err := rows.Scan(&id, &pract, &patient, &scheduled, &reason, &state, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		a.ID = clinic.AppointmentID(id)
		a.PractitionerID = clinic.PractitionerID(pract)
		a.PatientID = clinic.PatientID(patient)
		a.ScheduledAt = scheduled.Time
		a.Reason = reason.String
		a.State = clinic.AppointmentState(state)
		a.CreatedAt = created.Time
		a.UpdatedAt = updated.Time
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// ENCOUNTERS
// =============================================================================

func (c *conn) InsertEncounter(ctx context.Context, e clinic.Encounter) error {
	_, err := c.exec(ctx, `
		INSERT INTO encounters (id, appointment_id, diagnosis, treatment, notes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.ID),
		string(e.AppointmentID),
		e.Diagnosis,
		e.Treatment,
		nullString(e.Notes),
		formatTime(e.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert encounter: %w", err)
	}
	return nil
}

func (c *conn) ListEncounters(ctx context.Context, id clinic.AppointmentID) ([]clinic.Encounter, error) {
	rows, err := c.query(ctx, `
		SELECT id, appointment_id, diagnosis, treatment, notes, recorded_at
		FROM encounters
		WHERE appointment_id = ?
		ORDER BY recorded_at ASC, id ASC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to list encounters: %w", err)
	}
	defer rows.Close()

	var out []clinic.Encounter
	for rows.Next() {
		var (
			e          clinic.Encounter
			id, apptID string
			notes      sql.NullString
			recorded   timeValue
		)
		if err := rows.Scan(&id, &apptID, &e.Diagnosis, &e.Treatment, &notes, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan encounter: %w", err)
		}
		e.ID = clinic.EncounterID(id)
		e.AppointmentID = clinic.AppointmentID(apptID)
		e.Notes = notes.String
		e.RecordedAt = recorded.Time
		out = append(out, e)
	}
	return out, rows.Err()
}
