package scheduling

import (
	"time"

	"github.com/teleclinic/teleclinic/internal/platform/timeslot"
)

// WeeklyScheduleEntry is a doctor's recurring working window for one day of
// the week. At most one entry exists per (doctor, day).
type WeeklyScheduleEntry struct {
	ID          int64          `db:"id" json:"id"`
	DoctorID    int64          `db:"doctor_id" json:"doctor_id"`
	DayOfWeek   time.Weekday   `db:"day_of_week" json:"day_of_week"`
	StartTime   timeslot.Clock `db:"start_time" json:"start_time"`
	EndTime     timeslot.Clock `db:"end_time" json:"end_time"`
	SlotMinutes int            `db:"slot_minutes" json:"slot_minutes"`
	IsAvailable bool           `db:"is_available" json:"is_available"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// SlotDuration returns the configured slot length.
func (e *WeeklyScheduleEntry) SlotDuration() time.Duration {
	return time.Duration(e.SlotMinutes) * time.Minute
}

// Validate rejects entries the engine cannot tile.
func (e *WeeklyScheduleEntry) Validate() error {
	if e.DayOfWeek < time.Sunday || e.DayOfWeek > time.Saturday {
		return &ConfigError{DoctorID: e.DoctorID, Day: e.DayOfWeek, Reason: "day_of_week must be between 0 and 6"}
	}
	if e.SlotMinutes <= 0 {
		return &ConfigError{DoctorID: e.DoctorID, Day: e.DayOfWeek, Reason: "slot duration must be positive"}
	}
	if !e.StartTime.Before(e.EndTime) {
		return &ConfigError{DoctorID: e.DoctorID, Day: e.DayOfWeek, Reason: "start_time must be before end_time"}
	}
	return nil
}

// UnavailabilityWindow blocks a doctor for an absolute time range, closed on
// both ends for full-day checks and half-open for slot overlap.
type UnavailabilityWindow struct {
	ID        int64     `db:"id" json:"id"`
	DoctorID  int64     `db:"doctor_id" json:"doctor_id"`
	Start     time.Time `db:"start_at" json:"start"`
	End       time.Time `db:"end_at" json:"end"`
	Reason    *string   `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

var validStatuses = map[AppointmentStatus]bool{
	StatusScheduled: true, StatusConfirmed: true, StatusCompleted: true,
	StatusCancelled: true, StatusNoShow: true,
}

// Valid reports whether s is a known status.
func (s AppointmentStatus) Valid() bool { return validStatuses[s] }

// OccupiesSlot reports whether an appointment in this state blocks its slot.
// Only cancellation releases it.
func (s AppointmentStatus) OccupiesSlot() bool { return s != StatusCancelled }

// transitions lists the states reachable from each status.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {StatusConfirmed, StatusCancelled, StatusNoShow, StatusCompleted},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID           int64             `db:"id" json:"id"`
	DoctorID     int64             `db:"doctor_id" json:"doctor_id"`
	PatientID    int64             `db:"patient_id" json:"patient_id"`
	Start        time.Time         `db:"start_at" json:"start"`
	End          time.Time         `db:"end_at" json:"end"`
	Status       AppointmentStatus `db:"status" json:"status"`
	Reason       *string           `db:"reason" json:"reason,omitempty"`
	CancelReason *string           `db:"cancel_reason" json:"cancel_reason,omitempty"`
	RemindedAt   *time.Time        `db:"reminded_at" json:"reminded_at,omitempty"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// Slot is one bookable interval on a doctor's day.
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// SlotList is the full tiling of a day in chronological order.
type SlotList []Slot

// Free returns only the available slots, keeping order. The result is never
// nil so it encodes as [] rather than null.
func (l SlotList) Free() SlotList {
	out := make(SlotList, 0, len(l))
	for _, s := range l {
		if s.Available {
			out = append(out, s)
		}
	}
	return out
}
