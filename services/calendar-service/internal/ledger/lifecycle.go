package ledger

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/storage"
)

// ReminderWindow is how far ahead of the start the 24h reminder becomes due.
const ReminderWindow = 24 * time.Hour

var errSkip = errors.New("skip")

// ReminderDue reports whether a is owed its 24h reminder at now: it is still active, has not
// been reminded, and starts in (now, now+24h].
func ReminderDue(a model.Appointment, now time.Time) bool {
	if !a.Active() || a.Reminder24hSent {
		return false
	}
	return a.StartTime.After(now) && !a.StartTime.After(now.Add(ReminderWindow))
}

// DueReminders lists appointments for which ReminderDue holds, ordered by start.
func (l *Ledger) DueReminders(ctx context.Context, now time.Time) ([]model.Appointment, error) {
	candidates, err := l.List(ctx, storage.Filter{
		StartFrom: now,
		StartTo:   now.Add(ReminderWindow + time.Microsecond),
		Statuses:  active,
	})
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, a := range candidates {
		if ReminderDue(a, now) {
			out = append(out, a)
		}
	}
	return out, nil
}

// ClaimReminder24h sets Reminder24hSent if the reminder is still due at now. It reports
// false when another sweep already claimed it or the appointment left the window. The flag
// is never cleared, so a reminder is dispatched at most once per appointment.
func (l *Ledger) ClaimReminder24h(ctx context.Context, id string, now time.Time) (model.Appointment, bool, error) {
	appt, err := l.mutate(ctx, "ledger.ClaimReminder24h", id, func(cur model.Appointment) (model.Appointment, error) {
		if !ReminderDue(cur, now) {
			return cur, errSkip
		}
		next := cur.Clone()
		next.Reminder24hSent = true
		return next, nil
	})
	if errors.Is(err, errSkip) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, err
	}
	return appt, true, nil
}

// MarkConfirmationSent records that the first-contact confirmation went out.
func (l *Ledger) MarkConfirmationSent(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := l.mutate(ctx, "ledger.MarkConfirmationSent", id, func(cur model.Appointment) (model.Appointment, error) {
		if cur.ReminderSent {
			return cur, errSkip
		}
		next := cur.Clone()
		next.ReminderSent = true
		return next, nil
	})
	if errors.Is(err, errSkip) {
		return l.Get(ctx, id)
	}
	return appt, err
}

// SetExternalCalendarID stores the id issued by an external calendar provider.
func (l *Ledger) SetExternalCalendarID(ctx context.Context, id, provider, externalID string) (model.Appointment, error) {
	if externalID == "" {
		return model.Appointment{}, &ValidationError{Field: "external_calendar_id", Reason: "required"}
	}
	return l.mutate(ctx, "ledger.SetExternalCalendarID", id, func(cur model.Appointment) (model.Appointment, error) {
		next := cur.Clone()
		next.ExternalCalendarID = externalID
		next.ExternalProvider = provider
		return next, nil
	})
}

// DueForCompletion lists active appointments that ended at least grace before now.
func (l *Ledger) DueForCompletion(ctx context.Context, now time.Time, grace time.Duration) ([]model.Appointment, error) {
	cutoff := now.Add(-grace)
	candidates, err := l.List(ctx, storage.Filter{StartTo: cutoff, Statuses: active})
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, a := range candidates {
		if !a.EndTime.After(cutoff) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Upcoming lists an owner's active appointments starting in (now, now+24h].
func (l *Ledger) Upcoming(ctx context.Context, ownerID string, now time.Time) ([]model.Appointment, error) {
	candidates, err := l.List(ctx, storage.Filter{
		OwnerID:   ownerID,
		StartFrom: now,
		StartTo:   now.Add(ReminderWindow + time.Microsecond),
		Statuses:  active,
	})
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, a := range candidates {
		if a.StartTime.After(now) && !a.StartTime.After(now.Add(ReminderWindow)) {
			out = append(out, a)
		}
	}
	return out, nil
}

// PendingConfirmations lists active appointments still ahead of now whose confirmation has not
// gone out and that were created at or before createdBefore.
func (l *Ledger) PendingConfirmations(ctx context.Context, now, createdBefore time.Time) ([]model.Appointment, error) {
	candidates, err := l.List(ctx, storage.Filter{StartFrom: now, Statuses: active})
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, a := range candidates {
		if !a.ReminderSent && a.StartTime.After(now) && !a.CreatedAt.After(createdBefore) {
			out = append(out, a)
		}
	}
	return out, nil
}
