package calendar

import (
	"context"
	"time"

	"github.com/fitdesk/leadcal/libs/clock"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/availability"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/calsync"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/events"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/ledger"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/reminders"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/storage"
)

// Service is the operation surface of the lead calendar. Transports call it; it holds no
// state of its own.
type Service struct {
	ledger       *ledger.Ledger
	availability *availability.Generator
	reminders    *reminders.Scheduler
	sync         *calsync.Syncer
	clock        clock.Clock
}

type Deps struct {
	Ledger       *ledger.Ledger
	Availability *availability.Generator
	Reminders    *reminders.Scheduler
	Sync         *calsync.Syncer
	Clock        clock.Clock
}

func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.NewRealClock()
	}
	return &Service{
		ledger:       d.Ledger,
		availability: d.Availability,
		reminders:    d.Reminders,
		sync:         d.Sync,
		clock:        d.Clock,
	}
}

// Subscribe registers the booking side effects on d.
func (s *Service) Subscribe(d *events.Dispatcher) {
	if s.reminders != nil {
		d.Subscribe(events.AppointmentBooked, "confirmation", s.reminders.HandleBooked)
	}
	if s.sync != nil {
		d.Subscribe(events.AppointmentBooked, "calendar_sync", s.sync.HandleBooked)
	}
}

func (s *Service) Now() time.Time {
	return s.clock.Now()
}

func (s *Service) CreateAppointment(ctx context.Context, req ledger.CreateRequest) (model.Appointment, error) {
	return s.ledger.Create(ctx, req)
}

func (s *Service) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return s.ledger.Get(ctx, id)
}

// ListAppointments returns matches ordered by start time.
func (s *Service) ListAppointments(ctx context.Context, f storage.Filter) ([]model.Appointment, error) {
	return s.ledger.List(ctx, f)
}

func (s *Service) UpdateAppointment(ctx context.Context, id string, p ledger.Patch) (model.Appointment, error) {
	return s.ledger.Update(ctx, id, p)
}

func (s *Service) RescheduleAppointment(ctx context.Context, id string, start, end time.Time, reason string) (model.Appointment, error) {
	return s.ledger.Reschedule(ctx, id, start, end, reason)
}

func (s *Service) ConfirmAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return s.ledger.Confirm(ctx, id)
}

func (s *Service) CancelAppointment(ctx context.Context, id, reason string) (model.Appointment, error) {
	return s.ledger.Cancel(ctx, id, reason)
}

func (s *Service) CompleteAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return s.ledger.Complete(ctx, id)
}

// GetAvailability returns the owner's slots for the calendar day of date.
func (s *Service) GetAvailability(ctx context.Context, ownerID string, date time.Time) (model.Availability, error) {
	if ownerID == "" {
		return model.Availability{}, &ledger.ValidationError{Field: "owner_id", Reason: "required"}
	}
	return s.availability.ForDate(ctx, ownerID, date)
}

// GetAvailabilityRange returns one Availability per day from start to end inclusive.
func (s *Service) GetAvailabilityRange(ctx context.Context, ownerID string, start, end time.Time) ([]model.Availability, error) {
	if ownerID == "" {
		return nil, &ledger.ValidationError{Field: "owner_id", Reason: "required"}
	}
	return s.availability.ForRange(ctx, ownerID, start, end)
}

// UpcomingAppointments lists active appointments starting in (now, now+24h].
func (s *Service) UpcomingAppointments(ctx context.Context, ownerID string, now time.Time) ([]model.Appointment, error) {
	return s.ledger.Upcoming(ctx, ownerID, now)
}

// RunReminderSweep sends due 24h reminders and returns how many appointments were reminded.
func (s *Service) RunReminderSweep(ctx context.Context, now time.Time) (int, error) {
	return s.reminders.CheckAndSendReminders(ctx, now)
}

// SyncExternal registers the appointment with provider, or the default provider when empty.
func (s *Service) SyncExternal(ctx context.Context, id, provider string) (string, error) {
	return s.sync.Sync(ctx, id, provider)
}
