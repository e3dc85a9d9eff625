package model

import (
	"time"

	"github.com/fitdesk/leadcal/services/calendar-service/internal/interval"
)

type Type string

const (
	TypeConsulta Type = "consulta"
	TypeReunion  Type = "reunion"
	TypeVisita   Type = "visita"
	TypeLlamada  Type = "llamada"
	TypeOtro     Type = "otro"
)

func (t Type) Valid() bool {
	switch t {
	case TypeConsulta, TypeReunion, TypeVisita, TypeLlamada, TypeOtro:
		return true
	}
	return false
}

// RequiresLocation is false only for calls.
func (t Type) RequiresLocation() bool {
	return t != TypeLlamada
}

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCompleted, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the appointment state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Appointment is a booking on an owner's calendar. LeadName, LeadEmail and LeadPhone are
// display copies of the lead record and are never used for invariants.
type Appointment struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	LeadID      string `json:"lead_id"`
	LeadName    string `json:"lead_name,omitempty"`
	LeadEmail   string `json:"lead_email,omitempty"`
	LeadPhone   string `json:"lead_phone,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Type      Type      `json:"type"`
	Status    Status    `json:"status"`

	ReminderSent    bool `json:"reminder_sent"`
	Reminder24hSent bool `json:"reminder_24h_sent"`

	ExternalCalendarID string `json:"external_calendar_id,omitempty"`
	ExternalProvider   string `json:"external_provider,omitempty"`

	CancelReason string     `json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

func (a Appointment) Interval() interval.Interval {
	return interval.New(a.StartTime, a.EndTime)
}

// Blocks reports whether the appointment counts against the no-overlap invariant.
// Completed appointments still block; only cancellation frees the interval.
func (a Appointment) Blocks() bool {
	return a.Status != StatusCancelled
}

// Active is true while reminders and lifecycle transitions still apply.
func (a Appointment) Active() bool {
	return !a.Status.Terminal()
}

// Clone returns a copy that shares no pointers with a.
func (a Appointment) Clone() Appointment {
	out := a
	if a.CancelledAt != nil {
		t := *a.CancelledAt
		out.CancelledAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
