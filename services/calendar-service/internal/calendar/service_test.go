package calendar

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitdesk/leadcal/libs/clock"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/availability"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/calsync"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/events"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/hours"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/ledger"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/notify"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/reminders"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/storage"
)

var day = time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC)

type outbox struct {
	mu   sync.Mutex
	sent []string
}

func (o *outbox) Send(_ context.Context, to, subject, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, to+"|"+subject)
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

type harness struct {
	svc        *Service
	dispatcher *events.Dispatcher
	mail       *outbox
	clock      *clock.MockClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		dispatcher: events.NewDispatcher(logger, nil, events.Config{QueueSize: 64}),
		mail:       &outbox{},
		clock:      clock.NewMockClock(day.Add(-72 * time.Hour)),
	}

	l := ledger.New(storage.NewMemoryStore(), ledger.Options{Events: h.dispatcher, Clock: h.clock, Logger: logger})
	notifier := notify.NewNotifier(h.mail, nil, time.UTC, logger)
	sched := reminders.New(l, notifier, h.dispatcher, h.clock, logger, nil, reminders.Config{AutoCompleteAfter: 30 * time.Minute})
	adapter := calsync.NewAdapter("google", calsync.RetryConfig{MaxTries: 1}, calsync.NewLocalProvider("google"), calsync.NewLocalProvider("outlook"))
	syncer := calsync.NewSyncer(adapter, l, h.dispatcher, logger, nil)

	h.svc = New(Deps{
		Ledger:       l,
		Availability: availability.NewGenerator(hours.NewStaticProvider(hours.Default(), nil), l),
		Reminders:    sched,
		Sync:         syncer,
		Clock:        h.clock,
	})
	h.svc.Subscribe(h.dispatcher)
	return h
}

func booking(startHour, endHour int) ledger.CreateRequest {
	return ledger.CreateRequest{
		OwnerID:   "trainer-1",
		LeadID:    "lead-1",
		LeadName:  "Ana",
		LeadEmail: "ana@example.com",
		Title:     "Clase de prueba",
		Location:  "Sala 1",
		StartTime: day.Add(time.Duration(startHour) * time.Hour),
		EndTime:   day.Add(time.Duration(endHour) * time.Hour),
		Type:      model.TypeVisita,
	}
}

func TestBookingSideEffects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	appt, err := h.svc.CreateAppointment(ctx, booking(10, 11))
	require.NoError(t, err)
	h.dispatcher.Drain(ctx)

	got, err := h.svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, got.ReminderSent, "confirmation sent")
	assert.Equal(t, "google", got.ExternalProvider)
	assert.NotEmpty(t, got.ExternalCalendarID)
	assert.Equal(t, 1, h.mail.count())
}

func TestAvailabilityReflectsBookings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	avail, err := h.svc.GetAvailability(ctx, "trainer-1", day)
	require.NoError(t, err)
	require.Len(t, avail.Slots, 10)
	assert.Equal(t, "2026-05-11", avail.Date)

	appt, err := h.svc.CreateAppointment(ctx, booking(10, 11))
	require.NoError(t, err)

	avail, err = h.svc.GetAvailability(ctx, "trainer-1", day)
	require.NoError(t, err)
	free := 0
	for _, s := range avail.Slots {
		if s.Available {
			free++
		}
		if s.Start.Equal(day.Add(10 * time.Hour)) {
			assert.False(t, s.Available)
		}
	}
	assert.Equal(t, 9, free)

	_, err = h.svc.CancelAppointment(ctx, appt.ID, "cambio de planes")
	require.NoError(t, err)
	avail, err = h.svc.GetAvailability(ctx, "trainer-1", day)
	require.NoError(t, err)
	for _, s := range avail.Slots {
		assert.True(t, s.Available, s.Start)
	}

	_, err = h.svc.GetAvailability(ctx, "", day)
	assert.True(t, ledger.IsValidation(err))
}

func TestAvailabilityRange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	days, err := h.svc.GetAvailabilityRange(ctx, "trainer-1", day, day.AddDate(0, 0, 6))
	require.NoError(t, err)
	assert.Len(t, days, 7)

	_, err = h.svc.GetAvailabilityRange(ctx, "trainer-1", day, day.AddDate(0, 0, 90))
	assert.ErrorIs(t, err, availability.ErrRangeTooLarge)
}

func TestReminderSweepAndUpcoming(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.CreateAppointment(ctx, booking(10, 11))
	require.NoError(t, err)
	_, err = h.svc.CreateAppointment(ctx, booking(12, 13))
	require.NoError(t, err)
	h.dispatcher.Drain(ctx)
	confirmations := h.mail.count()

	now := day.Add(-13 * time.Hour)
	upcoming, err := h.svc.UpcomingAppointments(ctx, "trainer-1", now)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.True(t, upcoming[0].StartTime.Before(upcoming[1].StartTime))

	n, err := h.svc.RunReminderSweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = h.svc.RunReminderSweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, confirmations+2, h.mail.count())
}

func TestRescheduleAndLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	a, err := h.svc.CreateAppointment(ctx, booking(10, 11))
	require.NoError(t, err)
	b, err := h.svc.CreateAppointment(ctx, booking(12, 13))
	require.NoError(t, err)

	_, err = h.svc.RescheduleAppointment(ctx, b.ID, day.Add(10*time.Hour+30*time.Minute), day.Add(11*time.Hour+30*time.Minute), "")
	require.Error(t, err)
	assert.True(t, ledger.IsConflict(err))

	moved, err := h.svc.RescheduleAppointment(ctx, b.ID, day.Add(11*time.Hour), day.Add(12*time.Hour), "lead pidió antes")
	require.NoError(t, err)
	assert.True(t, moved.StartTime.Equal(day.Add(11*time.Hour)))

	_, err = h.svc.ConfirmAppointment(ctx, a.ID)
	require.NoError(t, err)
	done, err := h.svc.CompleteAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Status)

	_, err = h.svc.CancelAppointment(ctx, a.ID, "")
	assert.True(t, ledger.IsInvalidTransition(err))

	title := "Clase reprogramada"
	updated, err := h.svc.UpdateAppointment(ctx, b.ID, ledger.Patch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)

	list, err := h.svc.ListAppointments(ctx, storage.Filter{OwnerID: "trainer-1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestSyncExternal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	appt, err := h.svc.CreateAppointment(ctx, booking(10, 11))
	require.NoError(t, err)

	id, err := h.svc.SyncExternal(ctx, appt.ID, "outlook")
	require.NoError(t, err)
	assert.Contains(t, id, "outlook-")

	_, err = h.svc.SyncExternal(ctx, appt.ID, "apple")
	require.Error(t, err)
	assert.True(t, calsync.IsSyncError(err))

	got, err := h.svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "outlook", got.ExternalProvider)
}
