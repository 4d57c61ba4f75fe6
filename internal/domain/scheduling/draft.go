package scheduling

import (
	"time"

	"github.com/teleclinic/teleclinic/internal/platform/timeslot"
)

// DraftDefaults seeds new schedule drafts.
type DraftDefaults struct {
	SlotMinutes int
	Available   bool
}

// ScheduleDraft is an immutable, partially filled weekly entry. Each With*
// method returns a modified copy; Build validates and produces the entry.
type ScheduleDraft struct {
	day         time.Weekday
	start, end  timeslot.Clock
	slotMinutes int
	available   bool
}

func NewScheduleDraft(defaults DraftDefaults, day time.Weekday) ScheduleDraft {
	return ScheduleDraft{
		day:         day,
		slotMinutes: defaults.SlotMinutes,
		available:   defaults.Available,
	}
}

func (d ScheduleDraft) Day() time.Weekday { return d.day }

func (d ScheduleDraft) WithHours(start, end timeslot.Clock) ScheduleDraft {
	d.start, d.end = start, end
	return d
}

func (d ScheduleDraft) WithSlotMinutes(minutes int) ScheduleDraft {
	d.slotMinutes = minutes
	return d
}

func (d ScheduleDraft) WithAvailability(available bool) ScheduleDraft {
	d.available = available
	return d
}

// Build returns the entry for doctorID, or a *ConfigError.
func (d ScheduleDraft) Build(doctorID int64) (*WeeklyScheduleEntry, error) {
	e := &WeeklyScheduleEntry{
		DoctorID:    doctorID,
		DayOfWeek:   d.day,
		StartTime:   d.start,
		EndTime:     d.end,
		SlotMinutes: d.slotMinutes,
		IsAvailable: d.available,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}
