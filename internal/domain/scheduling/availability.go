package scheduling

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teleclinic/teleclinic/internal/platform/timeslot"
)

// Engine computes a doctor's bookable slots for a calendar day from the
// weekly template, the blocked windows and the existing appointments.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	schedules      ScheduleStore
	unavailability UnavailabilityStore
	appointments   AppointmentStore

	loc        *time.Location
	now        func() time.Time
	concurrent bool
}

type EngineOption func(*Engine)

// WithLocation sets the clinic time zone in which calendar days and weekly
// HH:MM times are interpreted. Defaults to UTC.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock overrides time.Now for past-slot exclusion.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(schedules ScheduleStore, unavailability UnavailabilityStore, appointments AppointmentStore, opts ...EngineOption) *Engine {
	e := &Engine{
		schedules:      schedules,
		unavailability: unavailability,
		appointments:   appointments,
		loc:            time.UTC,
		now:            time.Now,
		concurrent:     true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the clinic time zone.
func (e *Engine) Location() *time.Location { return e.loc }

// sequential returns a copy that issues its store reads one after another.
// Used inside a transaction, whose single connection cannot serve parallel
// queries.
func (e *Engine) sequential() *Engine {
	cp := *e
	cp.concurrent = false
	return &cp
}

// Query selects the day to compute. Date may carry any time of day; only its
// calendar date in the clinic zone matters.
type Query struct {
	DoctorID int64
	Date     time.Time
	// ExcludePast marks slots that start before now as unavailable.
	ExcludePast bool
}

type dayInputs struct {
	entries      []WeeklyScheduleEntry
	windows      []UnavailabilityWindow
	appointments []Appointment
}

func (e *Engine) fetch(ctx context.Context, doctorID int64, date time.Time) (*dayInputs, error) {
	in := &dayInputs{}
	steps := []func(context.Context) error{
		func(ctx context.Context) error {
			entries, err := e.schedules.FetchWeeklySchedule(ctx, doctorID)
			if err != nil {
				return &StoreError{Op: "fetch weekly schedule", Err: err}
			}
			in.entries = entries
			return nil
		},
		func(ctx context.Context) error {
			windows, err := e.unavailability.FetchUnavailabilityWindows(ctx, doctorID)
			if err != nil {
				return &StoreError{Op: "fetch unavailability windows", Err: err}
			}
			in.windows = windows
			return nil
		},
		func(ctx context.Context) error {
			appts, err := e.appointments.FetchAppointments(ctx, doctorID, date)
			if err != nil {
				return &StoreError{Op: "fetch appointments", Err: err}
			}
			in.appointments = appts
			return nil
		},
	}

	if !e.concurrent {
		for _, step := range steps {
			if err := step(ctx); err != nil {
				return nil, err
			}
		}
		return in, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, step := range steps {
		step := step
		g.Go(func() error { return step(gctx) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

// Slots returns every slot of the doctor's working window on q.Date with its
// availability. A day with no entry, a disabled entry, or a blocked window
// covering the whole working window yields an empty list.
func (e *Engine) Slots(ctx context.Context, q Query) (SlotList, error) {
	day := timeslot.DayBounds(q.Date, e.loc)

	in, err := e.fetch(ctx, q.DoctorID, day.Start)
	if err != nil {
		return nil, err
	}

	entry, ok := entryFor(in.entries, q.DoctorID, day.Start.Weekday())
	if !ok || !entry.IsAvailable {
		return SlotList{}, nil
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	working := timeslot.Interval{Start: entry.StartTime.On(day.Start), End: entry.EndTime.On(day.Start)}

	var blocked []timeslot.Interval
	for _, w := range in.windows {
		if w.DoctorID != q.DoctorID || w.End.Before(w.Start) {
			continue
		}
		// Closed comparison: a window that starts at or before the working
		// window and ends at or after it removes the whole day.
		if !w.Start.After(working.Start) && !w.End.Before(working.End) {
			return SlotList{}, nil
		}
		if timeslot.Overlaps(w.Start, w.End, day.Start, day.End) {
			blocked = append(blocked, timeslot.Interval{Start: w.Start, End: w.End})
		}
	}

	var booked []timeslot.Interval
	for _, a := range in.appointments {
		if a.DoctorID != q.DoctorID || !a.Status.OccupiesSlot() {
			continue
		}
		if timeslot.Overlaps(a.Start, a.End, day.Start, day.End) {
			booked = append(booked, timeslot.Interval{Start: a.Start, End: a.End})
		}
	}

	var now time.Time
	if q.ExcludePast {
		now = e.now()
	}

	tiles := timeslot.Tile(working.Start, working.End, entry.SlotDuration())
	slots := make(SlotList, 0, len(tiles))
	for _, t := range tiles {
		slots = append(slots, Slot{
			Start:     t.Start,
			End:       t.End,
			Available: isFree(t, blocked, booked, now),
		})
	}
	return slots, nil
}

func isFree(t timeslot.Interval, blocked, booked []timeslot.Interval, now time.Time) bool {
	if !now.IsZero() && t.Start.Before(now) {
		return false
	}
	for _, b := range blocked {
		if timeslot.Overlaps(t.Start, t.End, b.Start, b.End) {
			return false
		}
	}
	for _, b := range booked {
		if timeslot.Overlaps(t.Start, t.End, b.Start, b.End) {
			return false
		}
	}
	return true
}

// entryFor picks the first entry matching the weekday.
func entryFor(entries []WeeklyScheduleEntry, doctorID int64, day time.Weekday) (WeeklyScheduleEntry, bool) {
	for _, e := range entries {
		if e.DoctorID == doctorID && e.DayOfWeek == day {
			return e, true
		}
	}
	return WeeklyScheduleEntry{}, false
}

// IsSlotAvailable reports whether [start, end) is exactly one available slot
// on its day, past slots excluded. A range that is not aligned to the slot
// grid is never available.
func (e *Engine) IsSlotAvailable(ctx context.Context, doctorID int64, start, end time.Time) (bool, error) {
	if !start.Before(end) {
		return false, nil
	}
	slots, err := e.Slots(ctx, Query{DoctorID: doctorID, Date: start, ExcludePast: true})
	if err != nil {
		return false, err
	}
	for _, s := range slots {
		if s.Start.Equal(start) && s.End.Equal(end) {
			return s.Available, nil
		}
	}
	return false, nil
}
