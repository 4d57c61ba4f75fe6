package scheduling

import (
	"context"
	"fmt"
	"time"
)

// ScheduleService manages weekly templates and blocked windows.
type ScheduleService struct {
	schedules      ScheduleRepository
	unavailability UnavailabilityRepository
	defaults       DraftDefaults
}

func NewScheduleService(sched ScheduleRepository, unavail UnavailabilityRepository, defaults DraftDefaults) *ScheduleService {
	return &ScheduleService{schedules: sched, unavailability: unavail, defaults: defaults}
}

// NewDraft starts a draft for day seeded with the configured defaults.
func (s *ScheduleService) NewDraft(day time.Weekday) ScheduleDraft {
	return NewScheduleDraft(s.defaults, day)
}

// EnsureDoctor returns ErrDoctorNotFound for unknown or inactive doctors.
func (s *ScheduleService) EnsureDoctor(ctx context.Context, doctorID int64) error {
	ok, err := s.schedules.DoctorExists(ctx, doctorID)
	if err != nil {
		return &StoreError{Op: "check doctor", Err: err}
	}
	if !ok {
		return ErrDoctorNotFound
	}
	return nil
}

// -- Weekly schedule --

func (s *ScheduleService) PutWeeklyEntry(ctx context.Context, doctorID int64, draft ScheduleDraft) (*WeeklyScheduleEntry, error) {
	entry, err := draft.Build(doctorID)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	if err := s.schedules.UpsertEntry(ctx, entry); err != nil {
		return nil, &StoreError{Op: "upsert weekly entry", Err: err}
	}
	return entry, nil
}

func (s *ScheduleService) ListWeeklyEntries(ctx context.Context, doctorID int64) ([]WeeklyScheduleEntry, error) {
	if err := s.EnsureDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	entries, err := s.schedules.FetchWeeklySchedule(ctx, doctorID)
	if err != nil {
		return nil, &StoreError{Op: "fetch weekly schedule", Err: err}
	}
	if entries == nil {
		entries = []WeeklyScheduleEntry{}
	}
	return entries, nil
}

func (s *ScheduleService) DeleteWeeklyEntry(ctx context.Context, doctorID int64, day time.Weekday) error {
	if err := s.EnsureDoctor(ctx, doctorID); err != nil {
		return err
	}
	return wrapStore("delete weekly entry", s.schedules.DeleteEntry(ctx, doctorID, day))
}

// -- Unavailability --

func (s *ScheduleService) AddUnavailability(ctx context.Context, w *UnavailabilityWindow) error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidRequest)
	}
	if w.End.Before(w.Start) {
		return ErrInvalidRange
	}
	if err := s.EnsureDoctor(ctx, w.DoctorID); err != nil {
		return err
	}
	if err := s.unavailability.Create(ctx, w); err != nil {
		return &StoreError{Op: "create unavailability window", Err: err}
	}
	return nil
}

func (s *ScheduleService) ListUnavailability(ctx context.Context, doctorID int64, from, to time.Time) ([]*UnavailabilityWindow, error) {
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	if err := s.EnsureDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	windows, err := s.unavailability.ListRange(ctx, doctorID, from, to)
	if err != nil {
		return nil, &StoreError{Op: "list unavailability windows", Err: err}
	}
	if windows == nil {
		windows = []*UnavailabilityWindow{}
	}
	return windows, nil
}

func (s *ScheduleService) DeleteUnavailability(ctx context.Context, doctorID, id int64) error {
	if err := s.EnsureDoctor(ctx, doctorID); err != nil {
		return err
	}
	return wrapStore("delete unavailability window", s.unavailability.Delete(ctx, doctorID, id))
}
