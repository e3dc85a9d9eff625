package ledger

import (
	"strings"
	"time"

	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
)

type CreateRequest struct {
	OwnerID     string
	LeadID      string
	LeadName    string
	LeadEmail   string
	LeadPhone   string
	Title       string
	Description string
	Location    string
	StartTime   time.Time
	EndTime     time.Time
	Type        model.Type
	CreatedBy   string
}

// Patch changes only its non-nil fields. Reminder flags and the external calendar id are
// owned by the scheduler and sync adapter and cannot be patched.
type Patch struct {
	LeadName     *string
	LeadEmail    *string
	LeadPhone    *string
	Title        *string
	Description  *string
	Location     *string
	StartTime    *time.Time
	EndTime      *time.Time
	Type         *model.Type
	Status       *model.Status
	CancelReason *string
}

func (p Patch) apply(a *model.Appointment) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&a.LeadName, p.LeadName)
	set(&a.LeadEmail, p.LeadEmail)
	set(&a.LeadPhone, p.LeadPhone)
	set(&a.Title, p.Title)
	set(&a.Description, p.Description)
	set(&a.Location, p.Location)
	set(&a.CancelReason, p.CancelReason)
	if p.StartTime != nil {
		a.StartTime = p.StartTime.UTC()
	}
	if p.EndTime != nil {
		a.EndTime = p.EndTime.UTC()
	}
	if p.Type != nil {
		a.Type = *p.Type
	}
}

func validateAppointment(a model.Appointment) error {
	switch {
	case a.OwnerID == "":
		return &ValidationError{Field: "owner_id", Reason: "required"}
	case a.LeadID == "":
		return &ValidationError{Field: "lead_id", Reason: "required"}
	case a.Title == "":
		return &ValidationError{Field: "title", Reason: "required"}
	case hasLineBreak(a.Title):
		return &ValidationError{Field: "title", Reason: "must be a single line"}
	case hasLineBreak(a.LeadName) || hasLineBreak(a.LeadEmail):
		return &ValidationError{Field: "lead", Reason: "name and email must be a single line"}
	case !a.Type.Valid():
		return &ValidationError{Field: "type", Reason: "must be one of consulta, reunion, visita, llamada, otro"}
	case a.StartTime.IsZero() || a.EndTime.IsZero():
		return &ValidationError{Field: "start_time", Reason: "start and end are required"}
	case !a.EndTime.After(a.StartTime):
		return &ValidationError{Field: "end_time", Reason: "must be after start_time"}
	case a.Type.RequiresLocation() && a.Location == "":
		return &ValidationError{Field: "location", Reason: "required unless type is llamada"}
	}
	return nil
}

// Title, lead name and email end up in mail headers.
func hasLineBreak(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}
