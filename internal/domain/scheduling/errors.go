package scheduling

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDoctorNotFound    = errors.New("doctor not found")
	ErrSlotUnavailable   = errors.New("requested time is not an available slot")
	ErrSlotTaken         = errors.New("slot already booked")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidStatus     = errors.New("invalid appointment status")
	ErrInvalidRange      = errors.New("end must not be before start")
	ErrInvalidRequest    = errors.New("invalid request")
)

// ConfigError reports a weekly schedule entry that cannot be tiled into
// slots, such as a zero slot duration.
type ConfigError struct {
	DoctorID int64
	Day      time.Weekday
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid schedule for doctor %d on %s: %s", e.DoctorID, e.Day, e.Reason)
}

// StoreError wraps a failure from one of the backing stores.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// wrapStore tags unexpected repository failures as *StoreError and passes
// domain sentinels through untouched.
func wrapStore(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrSlotTaken) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
