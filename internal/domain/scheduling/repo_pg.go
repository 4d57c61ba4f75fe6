package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teleclinic/teleclinic/internal/platform/db"
	"github.com/teleclinic/teleclinic/internal/platform/timeslot"
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =========== Weekly Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

func (r *scheduleRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const entryCols = `id, doctor_id, day_of_week, start_time, end_time, slot_minutes, is_available, created_at, updated_at`

func scanEntry(row pgx.Row) (WeeklyScheduleEntry, error) {
	var (
		e          WeeklyScheduleEntry
		day        int16
		start, end string
	)
	if err := row.Scan(&e.ID, &e.DoctorID, &day, &start, &end, &e.SlotMinutes, &e.IsAvailable, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return e, err
	}
	e.DayOfWeek = time.Weekday(day)

	var err error
	if e.StartTime, err = timeslot.ParseClock(start); err != nil {
		return e, fmt.Errorf("weekly_schedule %d start_time: %w", e.ID, err)
	}
	if e.EndTime, err = timeslot.ParseClock(end); err != nil {
		return e, fmt.Errorf("weekly_schedule %d end_time: %w", e.ID, err)
	}
	return e, nil
}

func (r *scheduleRepoPG) DoctorExists(ctx context.Context, doctorID int64) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM doctor WHERE id = $1 AND active)`, doctorID).Scan(&exists)
	return exists, err
}

func (r *scheduleRepoPG) FetchWeeklySchedule(ctx context.Context, doctorID int64) ([]WeeklyScheduleEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+entryCols+` FROM weekly_schedule WHERE doctor_id = $1 ORDER BY day_of_week, id`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []WeeklyScheduleEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *scheduleRepoPG) UpsertEntry(ctx context.Context, e *WeeklyScheduleEntry) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO weekly_schedule (doctor_id, day_of_week, start_time, end_time, slot_minutes, is_available)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (doctor_id, day_of_week) DO UPDATE SET
			start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time,
			slot_minutes = EXCLUDED.slot_minutes, is_available = EXCLUDED.is_available,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		e.DoctorID, int16(e.DayOfWeek), e.StartTime.String(), e.EndTime.String(), e.SlotMinutes, e.IsAvailable,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

func (r *scheduleRepoPG) DeleteEntry(ctx context.Context, doctorID int64, day time.Weekday) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM weekly_schedule WHERE doctor_id = $1 AND day_of_week = $2`, doctorID, int16(day))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Unavailability Repository ===========

type unavailabilityRepoPG struct{ pool *pgxpool.Pool }

func NewUnavailabilityRepoPG(pool *pgxpool.Pool) UnavailabilityRepository {
	return &unavailabilityRepoPG{pool: pool}
}

func (r *unavailabilityRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const windowCols = `id, doctor_id, start_at, end_at, reason, created_at`

func scanWindow(row pgx.Row) (UnavailabilityWindow, error) {
	var w UnavailabilityWindow
	err := row.Scan(&w.ID, &w.DoctorID, &w.Start, &w.End, &w.Reason, &w.CreatedAt)
	return w, err
}

func (r *unavailabilityRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]UnavailabilityWindow, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnavailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *unavailabilityRepoPG) FetchUnavailabilityWindows(ctx context.Context, doctorID int64) ([]UnavailabilityWindow, error) {
	return r.query(ctx, `SELECT `+windowCols+` FROM unavailability WHERE doctor_id = $1 ORDER BY start_at`, doctorID)
}

func (r *unavailabilityRepoPG) Create(ctx context.Context, w *UnavailabilityWindow) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO unavailability (doctor_id, start_at, end_at, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		w.DoctorID, w.Start, w.End, w.Reason,
	).Scan(&w.ID, &w.CreatedAt)
}

func (r *unavailabilityRepoPG) ListRange(ctx context.Context, doctorID int64, from, to time.Time) ([]*UnavailabilityWindow, error) {
	windows, err := r.query(ctx, `SELECT `+windowCols+` FROM unavailability
		WHERE doctor_id = $1 AND start_at < $3 AND end_at >= $2
		ORDER BY start_at`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]*UnavailabilityWindow, len(windows))
	for i := range windows {
		out[i] = &windows[i]
	}
	return out, nil
}

func (r *unavailabilityRepoPG) Delete(ctx context.Context, doctorID, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM unavailability WHERE id = $1 AND doctor_id = $2`, id, doctorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const apptCols = `id, doctor_id, patient_id, start_at, end_at, status, reason, cancel_reason, reminded_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (Appointment, error) {
	var (
		a      Appointment
		status string
	)
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.Start, &a.End, &status,
		&a.Reason, &a.CancelReason, &a.RemindedAt, &a.CreatedAt, &a.UpdatedAt)
	a.Status = AppointmentStatus(status)
	return a, err
}

func (r *appointmentRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func pointers(in []Appointment) []*Appointment {
	out := make([]*Appointment, len(in))
	for i := range in {
		out[i] = &in[i]
	}
	return out
}

func (r *appointmentRepoPG) FetchAppointments(ctx context.Context, doctorID int64, date time.Time) ([]Appointment, error) {
	return r.list(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE doctor_id = $1 AND start_at < $3 AND end_at > $2
		ORDER BY start_at`, doctorID, date, date.AddDate(0, 0, 1))
}

func (r *appointmentRepoPG) LockDoctor(ctx context.Context, doctorID int64) error {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return errors.New("lock doctor: no transaction in context")
	}
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, doctorID)
	return err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (doctor_id, patient_id, start_at, end_at, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		a.DoctorID, a.PatientID, a.Start, a.End, string(a.Status), a.Reason,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrSlotTaken
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET status = $2, cancel_reason = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, string(a.Status), a.CancelReason,
	).Scan(&a.UpdatedAt)
	return notFound(err)
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID int64, from, to time.Time) ([]*Appointment, error) {
	appts, err := r.list(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE doctor_id = $1 AND start_at < $3 AND end_at > $2
		ORDER BY start_at`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return pointers(appts), nil
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	appts, err := r.list(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE patient_id = $1 ORDER BY start_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return pointers(appts), total, nil
}

func (r *appointmentRepoPG) ListDueForReminder(ctx context.Context, from, to time.Time) ([]*Appointment, error) {
	appts, err := r.list(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE reminded_at IS NULL AND status IN ('scheduled', 'confirmed')
			AND start_at >= $1 AND start_at < $2
		ORDER BY start_at`, from, to)
	if err != nil {
		return nil, err
	}
	return pointers(appts), nil
}

func (r *appointmentRepoPG) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE appointment SET reminded_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
