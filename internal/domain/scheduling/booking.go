package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/teleclinic/teleclinic/internal/platform/events"
)

// Event types published by the booking service and reminder worker.
const (
	EventAppointmentBooked        = "appointment.booked"
	EventAppointmentCancelled     = "appointment.cancelled"
	EventAppointmentStatusChanged = "appointment.status_changed"
	EventAppointmentReminder      = "appointment.reminder"
)

// AppointmentEvent is the payload of every appointment event.
type AppointmentEvent struct {
	AppointmentID int64             `json:"appointment_id"`
	DoctorID      int64             `json:"doctor_id"`
	PatientID     int64             `json:"patient_id"`
	Start         time.Time         `json:"start"`
	End           time.Time         `json:"end"`
	Status        AppointmentStatus `json:"status"`
}

func eventFor(eventType string, a *Appointment) events.Event {
	return events.New(eventType, AppointmentEvent{
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		PatientID:     a.PatientID,
		Start:         a.Start,
		End:           a.End,
		Status:        a.Status,
	})
}

type BookingRequest struct {
	DoctorID  int64
	PatientID int64
	Start     time.Time
	End       time.Time
	Reason    string
}

// BookingService creates appointments against the availability engine and
// drives their status changes.
type BookingService struct {
	engine       *Engine
	appointments AppointmentRepository
	tx           TxRunner
	publisher    events.Publisher
	logger       zerolog.Logger
}

func NewBookingService(engine *Engine, appts AppointmentRepository, tx TxRunner, publisher events.Publisher, logger zerolog.Logger) *BookingService {
	return &BookingService{
		engine:       engine.sequential(),
		appointments: appts,
		tx:           tx,
		publisher:    publisher,
		logger:       logger.With().Str("component", "booking").Logger(),
	}
}

// Book reserves exactly one available slot. The per-doctor lock, the
// availability re-check and the insert share one transaction; the unique
// index on active (doctor, start) rejects anything that slips past.
func (s *BookingService) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if req.DoctorID <= 0 || req.PatientID <= 0 {
		return nil, fmt.Errorf("%w: doctor_id and patient_id are required", ErrInvalidRequest)
	}
	if !req.Start.Before(req.End) {
		return nil, ErrInvalidRange
	}

	appt := &Appointment{
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Start:     req.Start.UTC(),
		End:       req.End.UTC(),
		Status:    StatusScheduled,
	}
	if req.Reason != "" {
		reason := req.Reason
		appt.Reason = &reason
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.appointments.LockDoctor(ctx, req.DoctorID); err != nil {
			return &StoreError{Op: "lock doctor", Err: err}
		}
		ok, err := s.engine.IsSlotAvailable(ctx, req.DoctorID, req.Start, req.End)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSlotUnavailable
		}
		return wrapStore("create appointment", s.appointments.Create(ctx, appt))
	})
	if err != nil {
		s.logger.Info().Err(err).
			Int64("doctor_id", req.DoctorID).
			Int64("patient_id", req.PatientID).
			Time("start", req.Start).
			Msg("booking rejected")
		return nil, err
	}

	s.logger.Info().
		Int64("appointment_id", appt.ID).
		Int64("doctor_id", appt.DoctorID).
		Time("start", appt.Start).
		Msg("appointment booked")
	s.publish(ctx, EventAppointmentBooked, appt)
	return appt, nil
}

// publish is best effort: the appointment is already committed.
func (s *BookingService) publish(ctx context.Context, eventType string, a *Appointment) {
	if err := s.publisher.Publish(ctx, eventFor(eventType, a)); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", eventType).
			Int64("appointment_id", a.ID).
			Msg("failed to publish appointment event")
	}
}

func (s *BookingService) Get(ctx context.Context, id int64) (*Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, wrapStore("get appointment", err)
	}
	return appt, nil
}

// Cancel releases the appointment's slot.
func (s *BookingService) Cancel(ctx context.Context, id int64, reason string) (*Appointment, error) {
	var cancelReason *string
	if reason != "" {
		cancelReason = &reason
	}
	return s.transition(ctx, id, StatusCancelled, cancelReason)
}

// UpdateStatus moves an appointment along the lifecycle. Terminal states
// (completed, cancelled, no_show) cannot change.
func (s *BookingService) UpdateStatus(ctx context.Context, id int64, status AppointmentStatus) (*Appointment, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	return s.transition(ctx, id, status, nil)
}

func (s *BookingService) transition(ctx context.Context, id int64, to AppointmentStatus, cancelReason *string) (*Appointment, error) {
	var appt *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return wrapStore("get appointment", err)
		}
		if !CanTransition(current.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
		}
		current.Status = to
		if cancelReason != nil {
			current.CancelReason = cancelReason
		}
		if err := s.appointments.UpdateStatus(ctx, current); err != nil {
			return wrapStore("update appointment status", err)
		}
		appt = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	eventType := EventAppointmentStatusChanged
	if to == StatusCancelled {
		eventType = EventAppointmentCancelled
	}
	s.logger.Info().Int64("appointment_id", appt.ID).Str("status", string(to)).Msg("appointment status changed")
	s.publish(ctx, eventType, appt)
	return appt, nil
}

// ListByDoctor returns appointments overlapping [from, to).
func (s *BookingService) ListByDoctor(ctx context.Context, doctorID int64, from, to time.Time) ([]*Appointment, error) {
	if !from.Before(to) {
		return nil, ErrInvalidRange
	}
	appts, err := s.appointments.ListByDoctor(ctx, doctorID, from, to)
	if err != nil {
		return nil, &StoreError{Op: "list appointments", Err: err}
	}
	return appts, nil
}

func (s *BookingService) ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]*Appointment, int, error) {
	appts, total, err := s.appointments.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, &StoreError{Op: "list appointments", Err: err}
	}
	return appts, total, nil
}
