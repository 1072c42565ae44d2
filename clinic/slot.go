package clinic

import (
	"context"
	"time"
)

// SlotPrecision is the granularity at which appointment times are stored
// and compared.
const SlotPrecision = time.Second

// NormalizeTime converts t to UTC at slot precision so the same instant
// always compares equal, in memory and in every SQL backend.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(SlotPrecision)
}

// SlotCheck decides whether practitioner is free at the given instant.
// It runs inside the scheduling unit of work.
type SlotCheck func(ctx context.Context, s AppointmentStore, practitioner PractitionerID, at time.Time) (bool, error)

// PointInTimeSlot treats a slot as taken when the practitioner has any
// non-cancelled appointment at exactly the same instant. Appointments one
// minute apart do not conflict, and durations are not considered.
func PointInTimeSlot(ctx context.Context, s AppointmentStore, practitioner PractitionerID, at time.Time) (bool, error) {
	n, err := s.CountActiveAt(ctx, practitioner, at)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}
