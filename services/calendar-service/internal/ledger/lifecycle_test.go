package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
)

func TestReminderDue(t *testing.T) {
	now := day.Add(8 * time.Hour)
	mk := func(start time.Duration, status model.Status, sent bool) model.Appointment {
		return model.Appointment{StartTime: now.Add(start), EndTime: now.Add(start + time.Hour), Status: status, Reminder24hSent: sent}
	}
	assert.True(t, ReminderDue(mk(23*time.Hour, model.StatusScheduled, false), now))
	assert.True(t, ReminderDue(mk(24*time.Hour, model.StatusConfirmed, false), now), "window end is inclusive")
	assert.False(t, ReminderDue(mk(25*time.Hour, model.StatusScheduled, false), now))
	assert.False(t, ReminderDue(mk(0, model.StatusScheduled, false), now), "window start is exclusive")
	assert.False(t, ReminderDue(mk(-time.Hour, model.StatusScheduled, false), now))
	assert.False(t, ReminderDue(mk(2*time.Hour, model.StatusScheduled, true), now))
	assert.False(t, ReminderDue(mk(2*time.Hour, model.StatusCancelled, false), now))
	assert.False(t, ReminderDue(mk(2*time.Hour, model.StatusCompleted, false), now))
}

func TestDueRemindersAndClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := day.Add(-14 * time.Hour) // 10:00 the previous day

	soon, err := f.ledger.Create(ctx, request(9, 0, 10, 0)) // now+23h
	require.NoError(t, err)
	later, err := f.ledger.Create(ctx, request(11, 0, 12, 0)) // now+25h
	require.NoError(t, err)

	due, err := f.ledger.DueReminders(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, soon.ID, due[0].ID)

	claimed, ok, err := f.ledger.ClaimReminder24h(ctx, soon.ID, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, claimed.Reminder24hSent)

	_, ok, err = f.ledger.ClaimReminder24h(ctx, soon.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must be refused")

	_, ok, err = f.ledger.ClaimReminder24h(ctx, later.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "appointments outside the window are not claimable")

	due, err = f.ledger.DueReminders(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	// Rescheduling keeps the flag so the reminder is not sent twice.
	moved, err := f.ledger.Reschedule(ctx, soon.ID, day.Add(15*time.Hour), day.Add(16*time.Hour), "")
	require.NoError(t, err)
	assert.True(t, moved.Reminder24hSent)
}

func TestClaimReminder_CancelledNotClaimable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := day.Add(-14 * time.Hour)

	a, err := f.ledger.Create(ctx, request(9, 0, 10, 0))
	require.NoError(t, err)
	_, err = f.ledger.Cancel(ctx, a.ID, "")
	require.NoError(t, err)

	_, ok, err := f.ledger.ClaimReminder24h(ctx, a.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)
	got, err := f.ledger.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Reminder24hSent)
}

func TestMarkConfirmationSentAndExternalID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.ledger.Create(ctx, request(9, 0, 10, 0))
	require.NoError(t, err)

	got, err := f.ledger.MarkConfirmationSent(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.ReminderSent)
	got, err = f.ledger.MarkConfirmationSent(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.ReminderSent)

	got, err = f.ledger.SetExternalCalendarID(ctx, a.ID, "google", "google-123")
	require.NoError(t, err)
	assert.Equal(t, "google-123", got.ExternalCalendarID)
	assert.Equal(t, "google", got.ExternalProvider)

	_, err = f.ledger.SetExternalCalendarID(ctx, a.ID, "google", "")
	assert.True(t, IsValidation(err))
	_, err = f.ledger.SetExternalCalendarID(ctx, "missing", "google", "x")
	assert.True(t, IsNotFound(err))
}

func TestDueForCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ended, err := f.ledger.Create(ctx, request(9, 0, 10, 0))
	require.NoError(t, err)
	recent, err := f.ledger.Create(ctx, request(10, 0, 10, 45))
	require.NoError(t, err)
	cancelled, err := f.ledger.Create(ctx, request(8, 0, 9, 0))
	require.NoError(t, err)
	_, err = f.ledger.Cancel(ctx, cancelled.ID, "")
	require.NoError(t, err)

	now := day.Add(11 * time.Hour)
	due, err := f.ledger.DueForCompletion(ctx, now, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, ended.ID, due[0].ID)
	assert.NotEqual(t, recent.ID, due[0].ID)
}

func TestUpcoming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := day.Add(-14 * time.Hour)

	a, err := f.ledger.Create(ctx, request(9, 0, 10, 0))
	require.NoError(t, err)
	_, err = f.ledger.Create(ctx, request(11, 0, 12, 0))
	require.NoError(t, err)
	other := request(8, 0, 9, 0)
	other.OwnerID = "trainer-2"
	_, err = f.ledger.Create(ctx, other)
	require.NoError(t, err)

	got, err := f.ledger.Upcoming(ctx, "trainer-1", now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}
