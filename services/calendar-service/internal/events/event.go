package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	otelx "github.com/fitdesk/leadcal/libs/otel"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
)

type Name string

const (
	AppointmentBooked      Name = "appointment.booked"
	AppointmentRescheduled Name = "appointment.rescheduled"
	AppointmentConfirmed   Name = "appointment.confirmed"
	AppointmentCancelled   Name = "appointment.cancelled"
	AppointmentCompleted   Name = "appointment.completed"
	AppointmentSyncFailed  Name = "appointment.sync_failed"
	ReminderDeadLettered   Name = "reminder.dead_lettered"
)

// Event is published after a ledger mutation has committed. Appointment is the
// committed state.
type Event struct {
	ID          string            `json:"event_id"`
	Name        Name              `json:"event_type"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Appointment model.Appointment `json:"appointment"`
	Reason      string            `json:"reason,omitempty"`
	Provider    string            `json:"provider,omitempty"`
	Error       string            `json:"error,omitempty"`

	Trace otelx.TraceLink `json:"-"`
}

func New(name Name, appt model.Appointment, at time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Name:        name,
		OccurredAt:  at,
		Appointment: appt,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type Handler func(ctx context.Context, ev Event) error

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}
