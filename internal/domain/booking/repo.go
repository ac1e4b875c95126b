package booking

import (
	"context"
	"time"
)

// AppointmentRepository is the persistent appointment collection. Every
// implementation enforces at most one non-cancelled appointment per
// (doctor, date, time) at write time and reports a violation as ErrSlotTaken.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id string) (*Appointment, error)
	FindActiveAt(ctx context.Context, doctorID, date, t string) (*Appointment, error)
	BookedTimes(ctx context.Context, doctorID, date string) ([]string, error)
	UpdateStatus(ctx context.Context, id string, status Status, upd StatusUpdate) (*Appointment, error)
	Reschedule(ctx context.Context, id, date, t string, startsAt time.Time) (*Appointment, error)
	UpdatePayment(ctx context.Context, id string, p Payment) (*Appointment, error)
	ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]*Appointment, int, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error)
	ListByDateRange(ctx context.Context, doctorID, start, end string) ([]*Appointment, error)
	CountByDateRange(ctx context.Context, doctorID, start, end string) (int, error)
	// ListByDate returns every appointment on date whose status is one of
	// statuses, across all doctors.
	ListByDate(ctx context.Context, date string, statuses ...Status) ([]*Appointment, error)
	// MarkReminderSent sets the flag of the given kind only if it is still
	// unset. It reports whether this call flipped it.
	MarkReminderSent(ctx context.Context, id string, kind ReminderKind) (bool, error)
}
