package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps doctors, weekly entries, blocked windows and
// appointments in process memory. It backs the development server when no
// database is configured and the package tests.
type MemoryStore struct {
	mu     sync.RWMutex
	txMu   sync.Mutex
	nextID int64

	doctors      map[int64]bool
	entries      map[int64][]WeeklyScheduleEntry // doctor ID -> entries
	windows      map[int64]*UnavailabilityWindow
	appointments map[int64]*Appointment
	// slotBookings maps doctor+start to the active appointment holding it.
	slotBookings map[slotKey]int64
}

type slotKey struct {
	doctorID int64
	start    int64
}

func keyFor(doctorID int64, start time.Time) slotKey {
	return slotKey{doctorID: doctorID, start: start.UnixNano()}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		doctors:      make(map[int64]bool),
		entries:      make(map[int64][]WeeklyScheduleEntry),
		windows:      make(map[int64]*UnavailabilityWindow),
		appointments: make(map[int64]*Appointment),
		slotBookings: make(map[slotKey]int64),
	}
}

// AddDoctor registers a doctor ID.
func (m *MemoryStore) AddDoctor(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[id] = true
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// InTx serializes fn against other transactions. Writes made before an error
// are not rolled back.
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(ctx)
}

func (m *MemoryStore) Schedules() ScheduleRepository { return memSchedules{m} }
func (m *MemoryStore) Unavailability() UnavailabilityRepository { return memUnavailability{m} }
func (m *MemoryStore) Appointments() AppointmentRepository { return memAppointments{m} }

// -- weekly schedule --

type memSchedules struct{ m *MemoryStore }

func (s memSchedules) DoctorExists(_ context.Context, doctorID int64) (bool, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	return s.m.doctors[doctorID], nil
}

func (s memSchedules) FetchWeeklySchedule(_ context.Context, doctorID int64) ([]WeeklyScheduleEntry, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]WeeklyScheduleEntry, len(s.m.entries[doctorID]))
	copy(out, s.m.entries[doctorID])
	return out, nil
}

func (s memSchedules) UpsertEntry(_ context.Context, e *WeeklyScheduleEntry) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	now := time.Now().UTC()
	list := s.m.entries[e.DoctorID]
	for i := range list {
		if list[i].DayOfWeek == e.DayOfWeek {
			e.ID = list[i].ID
			e.CreatedAt = list[i].CreatedAt
			e.UpdatedAt = now
			list[i] = *e
			return nil
		}
	}
	e.ID = s.m.id()
	e.CreatedAt, e.UpdatedAt = now, now
	list = append(list, *e)
	sort.Slice(list, func(i, j int) bool { return list[i].DayOfWeek < list[j].DayOfWeek })
	s.m.entries[e.DoctorID] = list
	return nil
}

func (s memSchedules) DeleteEntry(_ context.Context, doctorID int64, day time.Weekday) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	list := s.m.entries[doctorID]
	for i := range list {
		if list[i].DayOfWeek == day {
			s.m.entries[doctorID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// -- unavailability --

type memUnavailability struct{ m *MemoryStore }

func (u memUnavailability) FetchUnavailabilityWindows(_ context.Context, doctorID int64) ([]UnavailabilityWindow, error) {
	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	var out []UnavailabilityWindow
	for _, w := range u.m.windows {
		if w.DoctorID == doctorID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (u memUnavailability) Create(_ context.Context, w *UnavailabilityWindow) error {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	w.ID = u.m.id()
	w.CreatedAt = time.Now().UTC()
	cp := *w
	u.m.windows[w.ID] = &cp
	return nil
}

func (u memUnavailability) ListRange(_ context.Context, doctorID int64, from, to time.Time) ([]*UnavailabilityWindow, error) {
	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	var out []*UnavailabilityWindow
	for _, w := range u.m.windows {
		if w.DoctorID == doctorID && w.Start.Before(to) && !w.End.Before(from) {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (u memUnavailability) Delete(_ context.Context, doctorID, id int64) error {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	w, ok := u.m.windows[id]
	if !ok || w.DoctorID != doctorID {
		return ErrNotFound
	}
	delete(u.m.windows, id)
	return nil
}

// -- appointments --

type memAppointments struct{ m *MemoryStore }

func (a memAppointments) FetchAppointments(_ context.Context, doctorID int64, date time.Time) ([]Appointment, error) {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	// Everything within a day either side; the engine narrows it down.
	from, to := date.AddDate(0, 0, -1), date.AddDate(0, 0, 2)
	var out []Appointment
	for _, appt := range a.m.appointments {
		if appt.DoctorID == doctorID && appt.Start.Before(to) && appt.End.After(from) {
			out = append(out, *appt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (a memAppointments) LockDoctor(context.Context, int64) error { return nil }

func (a memAppointments) Create(_ context.Context, appt *Appointment) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()

	key := keyFor(appt.DoctorID, appt.Start)
	if appt.Status.OccupiesSlot() {
		if _, booked := a.m.slotBookings[key]; booked {
			return ErrSlotTaken
		}
	}
	now := time.Now().UTC()
	appt.ID = a.m.id()
	appt.CreatedAt, appt.UpdatedAt = now, now
	cp := *appt
	a.m.appointments[appt.ID] = &cp
	if appt.Status.OccupiesSlot() {
		a.m.slotBookings[key] = appt.ID
	}
	return nil
}

func (a memAppointments) GetByID(_ context.Context, id int64) (*Appointment, error) {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	appt, ok := a.m.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *appt
	return &cp, nil
}

func (a memAppointments) UpdateStatus(_ context.Context, appt *Appointment) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	stored, ok := a.m.appointments[appt.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = appt.Status
	stored.CancelReason = appt.CancelReason
	stored.UpdatedAt = time.Now().UTC()
	appt.UpdatedAt = stored.UpdatedAt
	if !stored.Status.OccupiesSlot() {
		key := keyFor(stored.DoctorID, stored.Start)
		if a.m.slotBookings[key] == stored.ID {
			delete(a.m.slotBookings, key)
		}
	}
	return nil
}

func (a memAppointments) ListByDoctor(_ context.Context, doctorID int64, from, to time.Time) ([]*Appointment, error) {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	var out []*Appointment
	for _, appt := range a.m.appointments {
		if appt.DoctorID == doctorID && appt.Start.Before(to) && appt.End.After(from) {
			cp := *appt
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (a memAppointments) ListByPatient(_ context.Context, patientID int64, limit, offset int) ([]*Appointment, int, error) {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	var all []*Appointment
	for _, appt := range a.m.appointments {
		if appt.PatientID == patientID {
			cp := *appt
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Start.After(all[j].Start) })

	total := len(all)
	if offset >= total {
		return []*Appointment{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (a memAppointments) ListDueForReminder(_ context.Context, from, to time.Time) ([]*Appointment, error) {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	var out []*Appointment
	for _, appt := range a.m.appointments {
		if appt.RemindedAt != nil {
			continue
		}
		if appt.Status != StatusScheduled && appt.Status != StatusConfirmed {
			continue
		}
		if !appt.Start.Before(from) && appt.Start.Before(to) {
			cp := *appt
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (a memAppointments) MarkReminded(_ context.Context, id int64, at time.Time) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	appt, ok := a.m.appointments[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	appt.RemindedAt = &t
	return nil
}

var (
	_ ScheduleRepository       = memSchedules{}
	_ UnavailabilityRepository = memUnavailability{}
	_ AppointmentRepository    = memAppointments{}
	_ TxRunner                 = (*MemoryStore)(nil)
)
