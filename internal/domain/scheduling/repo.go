package scheduling

import (
	"context"
	"time"
)

// ScheduleStore supplies a doctor's weekly template.
type ScheduleStore interface {
	FetchWeeklySchedule(ctx context.Context, doctorID int64) ([]WeeklyScheduleEntry, error)
}

// UnavailabilityStore supplies every blocked window recorded for a doctor.
type UnavailabilityStore interface {
	FetchUnavailabilityWindows(ctx context.Context, doctorID int64) ([]UnavailabilityWindow, error)
}

// AppointmentStore supplies appointments touching the calendar day of date.
// Implementations may return extra rows; the engine filters again.
type AppointmentStore interface {
	FetchAppointments(ctx context.Context, doctorID int64, date time.Time) ([]Appointment, error)
}

type ScheduleRepository interface {
	ScheduleStore
	DoctorExists(ctx context.Context, doctorID int64) (bool, error)
	// UpsertEntry creates or replaces the entry for (DoctorID, DayOfWeek).
	UpsertEntry(ctx context.Context, e *WeeklyScheduleEntry) error
	DeleteEntry(ctx context.Context, doctorID int64, day time.Weekday) error
}

type UnavailabilityRepository interface {
	UnavailabilityStore
	Create(ctx context.Context, w *UnavailabilityWindow) error
	// ListRange returns windows overlapping [from, to).
	ListRange(ctx context.Context, doctorID int64, from, to time.Time) ([]*UnavailabilityWindow, error)
	Delete(ctx context.Context, doctorID, id int64) error
}

type AppointmentRepository interface {
	AppointmentStore
	// LockDoctor serializes bookings for one doctor until the surrounding
	// transaction ends.
	LockDoctor(ctx context.Context, doctorID int64) error
	// Create returns ErrSlotTaken if an active appointment already starts at
	// the same time for the same doctor.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id int64) (*Appointment, error)
	UpdateStatus(ctx context.Context, a *Appointment) error
	ListByDoctor(ctx context.Context, doctorID int64, from, to time.Time) ([]*Appointment, error)
	ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]*Appointment, int, error)
	// ListDueForReminder returns active, not yet reminded appointments
	// starting in [from, to).
	ListDueForReminder(ctx context.Context, from, to time.Time) ([]*Appointment, error)
	MarkReminded(ctx context.Context, id int64, at time.Time) error
}

// TxRunner runs fn inside one transaction bound to the ctx it receives.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
