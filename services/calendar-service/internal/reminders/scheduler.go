package reminders

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"

	"github.com/fitdesk/leadcal/libs/clock"
	otelx "github.com/fitdesk/leadcal/libs/otel"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/events"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/ledger"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/metrics"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/notify"
)

type Ledger interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	DueReminders(ctx context.Context, now time.Time) ([]model.Appointment, error)
	ClaimReminder24h(ctx context.Context, id string, now time.Time) (model.Appointment, bool, error)
	MarkConfirmationSent(ctx context.Context, id string) (model.Appointment, error)
	PendingConfirmations(ctx context.Context, now, createdBefore time.Time) ([]model.Appointment, error)
	DueForCompletion(ctx context.Context, now time.Time, grace time.Duration) ([]model.Appointment, error)
	Complete(ctx context.Context, id string) (model.Appointment, error)
}

type Notifier interface {
	Channels(a model.Appointment) []notify.Channel
	Send(ctx context.Context, ch notify.Channel, kind notify.Kind, a model.Appointment) error
}

type Config struct {
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	MaxAttempts       int           `envconfig:"REMINDER_MAX_ATTEMPTS" default:"5"`
	RetryBackoff      time.Duration `envconfig:"REMINDER_RETRY_BACKOFF" default:"1m"`
	MaxRetryBackoff   time.Duration `envconfig:"REMINDER_MAX_RETRY_BACKOFF" default:"30m"`
	AutoCompleteAfter time.Duration `envconfig:"AUTO_COMPLETE_AFTER" default:"30m"`
	// ConfirmationGrace is how long a booking may wait for its booked-event confirmation
	// before the sweep sends it instead. Zero disables the catch-up.
	ConfirmationGrace time.Duration `envconfig:"CONFIRMATION_GRACE" default:"5m"`
}

// job is a failed dispatch waiting for another attempt.
type job struct {
	AppointmentID string
	Channel       notify.Channel
	Kind          notify.Kind
	Attempts      int
	NextRunAt     time.Time
	LastError     string
	Trace         otelx.TraceLink
}

// Scheduler fires confirmation and 24h reminder notifications, retries failed dispatches
// and auto-completes finished appointments.
type Scheduler struct {
	ledger   Ledger
	notifier Notifier
	events   events.Publisher
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cfg      Config

	mu      sync.Mutex
	retries []job
	// confirmations that were dead-lettered; the catch-up does not restart them.
	abandoned map[string]struct{}

	catchUp sync.Mutex
}

func New(l Ledger, n Notifier, pub events.Publisher, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Scheduler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Minute
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		cfg.MaxRetryBackoff = 30 * cfg.RetryBackoff
	}
	if pub == nil {
		pub = events.Discard{}
	}
	return &Scheduler{
		ledger:   l,
		notifier: n,
		events:   pub,
		clock:    clk,
		logger:   logger,
		metrics:  m,
		cfg:      cfg,

		abandoned: map[string]struct{}{},
	}
}

// HandleBooked reacts to appointment.booked.
func (s *Scheduler) HandleBooked(ctx context.Context, ev events.Event) error {
	return s.SendConfirmation(ctx, ev.Appointment)
}

// SendConfirmation notifies the lead on every reachable channel and records ReminderSent once
// a channel succeeds. Failed channels are queued for retry.
func (s *Scheduler) SendConfirmation(ctx context.Context, appt model.Appointment) error {
	current, err := s.ledger.Get(ctx, appt.ID)
	if err != nil {
		return err
	}
	if !current.Active() || current.ReminderSent {
		return nil
	}
	sent, err := s.dispatch(ctx, notify.KindConfirmation, current)
	if sent > 0 {
		if _, merr := s.ledger.MarkConfirmationSent(ctx, current.ID); merr != nil {
			return errors.Wrapf(merr, "mark confirmation sent for %s", current.ID)
		}
	}
	return err
}

// CheckAndSendReminders claims every appointment owed its 24h reminder at now and dispatches
// it. The claim happens before dispatch, so concurrent or repeated sweeps never send twice;
// failed channels go to the retry queue. It returns the number of appointments reminded.
func (s *Scheduler) CheckAndSendReminders(ctx context.Context, now time.Time) (int, error) {
	due, err := s.ledger.DueReminders(ctx, now)
	if err != nil {
		return 0, errors.Wrap(err, "list due reminders")
	}

	count := 0
	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		appt, claimed, err := s.ledger.ClaimReminder24h(ctx, candidate.ID, now)
		if err != nil {
			s.logger.Error("claim reminder failed", "appointment_id", candidate.ID, "err", err)
			continue
		}
		if !claimed {
			continue
		}
		count++
		if _, err := s.dispatch(ctx, notify.KindReminder24h, appt); err != nil {
			s.logger.Warn("reminder dispatch failed; queued for retry", "appointment_id", appt.ID, "err", err)
		}
	}
	return count, nil
}

// dispatch sends kind on every channel of appt, queueing failures. It reports how many
// channels succeeded and the first failure.
func (s *Scheduler) dispatch(ctx context.Context, kind notify.Kind, appt model.Appointment) (int, error) {
	channels := s.notifier.Channels(appt)
	if len(channels) == 0 {
		s.logger.Warn("no notification channel for lead", "appointment_id", appt.ID, "lead_id", appt.LeadID, "kind", kind)
		s.metrics.Notification(string(kind), "unreachable")
		return 0, nil
	}
	sent := 0
	var firstErr error
	for _, ch := range channels {
		if err := s.notifier.Send(ctx, ch, kind, appt); err != nil {
			s.metrics.Notification(string(kind), "failed")
			s.enqueue(ctx, appt.ID, ch, kind, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.metrics.Notification(string(kind), "sent")
		sent++
	}
	return sent, firstErr
}

func (s *Scheduler) enqueue(ctx context.Context, id string, ch notify.Channel, kind notify.Kind, cause error) {
	j := job{
		AppointmentID: id,
		Channel:       ch,
		Kind:          kind,
		Attempts:      1,
		LastError:     cause.Error(),
		Trace:         otelx.CaptureTrace(ctx),
	}
	j.NextRunAt = s.clock.Now().Add(s.delay(j.Attempts))

	s.mu.Lock()
	s.retries = append(s.retries, j)
	s.mu.Unlock()
	s.logger.Warn("notification failed; retry scheduled",
		"appointment_id", id,
		"channel", ch,
		"kind", kind,
		"next_run_at", j.NextRunAt,
		"err", cause,
	)
}

// delay is the wait before attempt+1.
func (s *Scheduler) delay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryBackoff
	b.MaxInterval = s.cfg.MaxRetryBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

// ProcessRetries re-sends queued notifications that are due at now. A job that reaches
// MaxAttempts is dead-lettered: logged and announced as reminder.dead_lettered.
func (s *Scheduler) ProcessRetries(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due, waiting []job
	for _, j := range s.retries {
		if now.Before(j.NextRunAt) {
			waiting = append(waiting, j)
		} else {
			due = append(due, j)
		}
	}
	s.retries = waiting
	s.mu.Unlock()

	delivered := 0
	var requeue []job
	for _, j := range due {
		jobCtx := j.Trace.Resume(ctx)
		appt, err := s.ledger.Get(jobCtx, j.AppointmentID)
		if err != nil {
			if ledger.IsNotFound(err) {
				continue
			}
			requeue = append(requeue, j)
			continue
		}
		if !appt.Active() {
			s.logger.Info("dropping retry for inactive appointment", "appointment_id", appt.ID, "status", appt.Status)
			continue
		}

		if err := s.notifier.Send(jobCtx, j.Channel, j.Kind, appt); err != nil {
			j.Attempts++
			j.LastError = err.Error()
			if j.Attempts >= s.cfg.MaxAttempts {
				s.deadLetter(jobCtx, j, appt)
				continue
			}
			j.NextRunAt = now.Add(s.delay(j.Attempts))
			requeue = append(requeue, j)
			continue
		}
		delivered++
		s.metrics.Notification(string(j.Kind), "sent")
		if j.Kind == notify.KindConfirmation {
			if _, err := s.ledger.MarkConfirmationSent(jobCtx, appt.ID); err != nil {
				s.logger.Error("mark confirmation sent failed", "appointment_id", appt.ID, "err", err)
			}
		}
	}

	if len(requeue) > 0 {
		s.mu.Lock()
		s.retries = append(s.retries, requeue...)
		s.mu.Unlock()
	}
	return delivered
}

func (s *Scheduler) deadLetter(ctx context.Context, j job, appt model.Appointment) {
	s.metrics.Notification(string(j.Kind), "dead_lettered")
	s.logger.Error("notification dead-lettered",
		"appointment_id", appt.ID,
		"channel", j.Channel,
		"kind", j.Kind,
		"attempts", j.Attempts,
		"err", j.LastError,
	)
	if j.Kind == notify.KindConfirmation {
		s.mu.Lock()
		s.abandoned[appt.ID] = struct{}{}
		s.mu.Unlock()
	}
	ev := events.New(events.ReminderDeadLettered, appt, s.clock.Now().UTC())
	ev.Reason = string(j.Kind) + "/" + string(j.Channel)
	ev.Error = j.LastError
	s.events.Publish(ctx, ev)
}

// PendingRetries is the size of the retry queue.
func (s *Scheduler) PendingRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retries)
}

// AutoComplete completes active appointments that ended AutoCompleteAfter ago or earlier.
// A zero AutoCompleteAfter disables it.
func (s *Scheduler) AutoComplete(ctx context.Context, now time.Time) (int, error) {
	if s.cfg.AutoCompleteAfter <= 0 {
		return 0, nil
	}
	due, err := s.ledger.DueForCompletion(ctx, now, s.cfg.AutoCompleteAfter)
	if err != nil {
		return 0, errors.Wrap(err, "list appointments due for completion")
	}
	count := 0
	for _, appt := range due {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if _, err := s.ledger.Complete(ctx, appt.ID); err != nil {
			// Cancelled or completed by a request since the listing.
			if ledger.IsInvalidTransition(err) {
				continue
			}
			s.logger.Error("auto-complete failed", "appointment_id", appt.ID, "err", err)
			continue
		}
		count++
	}
	return count, nil
}

// ResendConfirmations sends the confirmation of bookings older than ConfirmationGrace that
// never got one, typically because their booked event was dropped. Appointments with a
// confirmation already waiting in the retry queue, dead-lettered, or with no reachable channel
// are left alone.
// Only one catch-up runs at a time; an overlapping call returns 0.
func (s *Scheduler) ResendConfirmations(ctx context.Context, now time.Time) (int, error) {
	if s.cfg.ConfirmationGrace <= 0 {
		return 0, nil
	}
	if !s.catchUp.TryLock() {
		return 0, nil
	}
	defer s.catchUp.Unlock()

	pending, err := s.ledger.PendingConfirmations(ctx, now, now.Add(-s.cfg.ConfirmationGrace))
	if err != nil {
		return 0, errors.Wrap(err, "list pending confirmations")
	}
	count := 0
	for _, appt := range pending {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if len(s.notifier.Channels(appt)) == 0 || s.retrying(appt.ID, notify.KindConfirmation) {
			continue
		}
		if err := s.SendConfirmation(ctx, appt); err != nil {
			s.logger.Warn("confirmation catch-up failed", "appointment_id", appt.ID, "err", err)
			continue
		}
		count++
	}
	return count, nil
}

func (s *Scheduler) retrying(id string, kind notify.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.abandoned[id]; ok && kind == notify.KindConfirmation {
		return true
	}
	for _, j := range s.retries {
		if j.AppointmentID == id && j.Kind == kind {
			return true
		}
	}
	return false
}

// Sweep runs one pass of reminders, retries, confirmation catch-up and auto-complete.
func (s *Scheduler) Sweep(ctx context.Context) {
	start := time.Now()
	now := s.clock.Now()

	reminded, err := s.CheckAndSendReminders(ctx, now)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("reminder sweep failed", "err", err)
	}
	retried := s.ProcessRetries(ctx, now)
	confirmed, err := s.ResendConfirmations(ctx, now)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("confirmation catch-up failed", "err", err)
	}
	completed, err := s.AutoComplete(ctx, now)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("auto-complete sweep failed", "err", err)
	}

	s.metrics.Sweep(time.Since(start))
	if reminded+retried+confirmed+completed > 0 {
		s.logger.Info("sweep finished",
			"reminders_sent", reminded,
			"retries_delivered", retried,
			"confirmations_resent", confirmed,
			"auto_completed", completed,
			"retry_queue", s.PendingRetries(),
		)
	}
}

// Run sweeps every SweepInterval until ctx is cancelled. In-flight notifications are not
// awaited on shutdown; a partial sweep is safe to re-run.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.logger.Info("reminder scheduler started", "interval", s.cfg.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
