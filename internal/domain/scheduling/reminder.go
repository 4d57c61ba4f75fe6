package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/teleclinic/teleclinic/internal/platform/events"
	"github.com/teleclinic/teleclinic/internal/platform/locker"
)

// reminderLockKey elects a single instance to send reminders.
const reminderLockKey = "teleclinic:reminders:leader"

const reminderLockTTL = 2 * time.Minute

// ReminderWorker periodically publishes appointment.reminder for upcoming
// appointments that have not been reminded yet.
type ReminderWorker struct {
	appointments AppointmentRepository
	publisher    events.Publisher
	locker       locker.Locker
	spec         string
	lead         time.Duration
	logger       zerolog.Logger
	now          func() time.Time

	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewReminderWorker(appts AppointmentRepository, publisher events.Publisher, lk locker.Locker, spec string, lead time.Duration, logger zerolog.Logger) *ReminderWorker {
	return &ReminderWorker{
		appointments: appts,
		publisher:    publisher,
		locker:       lk,
		spec:         spec,
		lead:         lead,
		logger:       logger.With().Str("component", "reminders").Logger(),
		now:          time.Now,
	}
}

// Start schedules the job on the cron spec. The returned error is a spec
// parse failure.
func (w *ReminderWorker) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(w.spec, func() {
		if _, err := w.RunOnce(runCtx); err != nil {
			w.logger.Error().Err(err).Msg("reminder run failed")
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule reminders %q: %w", w.spec, err)
	}
	c.Start()
	w.cron, w.cancel = c, cancel
	w.logger.Info().Str("spec", w.spec).Dur("lead", w.lead).Msg("reminder worker started")
	return nil
}

// Stop cancels in-flight runs and waits for them to return.
func (w *ReminderWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
}

// RunOnce sends reminders for appointments starting within the lead time and
// returns how many were sent. It is a no-op on instances that do not hold
// the leader lock.
func (w *ReminderWorker) RunOnce(ctx context.Context) (int, error) {
	acquired, token, err := w.locker.TryLock(ctx, reminderLockKey, reminderLockTTL)
	if err != nil {
		return 0, fmt.Errorf("acquire reminder lock: %w", err)
	}
	if !acquired {
		w.logger.Debug().Msg("reminder lock held by another instance")
		return 0, nil
	}
	defer func() {
		if err := w.locker.Unlock(context.WithoutCancel(ctx), reminderLockKey, token); err != nil {
			w.logger.Warn().Err(err).Msg("failed to release reminder lock")
		}
	}()

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	defer stopRefresh()
	go w.keepLock(refreshCtx, token)

	now := w.now().UTC()
	due, err := w.appointments.ListDueForReminder(ctx, now, now.Add(w.lead))
	if err != nil {
		return 0, &StoreError{Op: "list due reminders", Err: err}
	}

	sent := 0
	for _, a := range due {
		if err := w.publisher.Publish(ctx, eventFor(EventAppointmentReminder, a)); err != nil {
			w.logger.Error().Err(err).Int64("appointment_id", a.ID).Msg("failed to publish reminder")
			continue
		}
		if err := w.appointments.MarkReminded(ctx, a.ID, now); err != nil {
			w.logger.Error().Err(err).Int64("appointment_id", a.ID).Msg("failed to mark appointment reminded")
			continue
		}
		sent++
	}
	if sent > 0 {
		w.logger.Info().Int("sent", sent).Int("due", len(due)).Msg("reminders sent")
	}
	return sent, nil
}

func (w *ReminderWorker) keepLock(ctx context.Context, token string) {
	tick := time.NewTicker(reminderLockTTL / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := w.locker.Refresh(ctx, reminderLockKey, token, reminderLockTTL); err != nil {
				w.logger.Warn().Err(err).Msg("failed to refresh reminder lock")
			}
		}
	}
}
