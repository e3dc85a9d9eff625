package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"

	"github.com/fitdesk/leadcal/services/calendar-service/internal/leads"
)

// LeadEvent is the payload of crm.lead.updated.v1.
type LeadEvent struct {
	LeadID  string `json:"lead_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Deleted bool   `json:"deleted,omitempty"`
}

type LeadCache interface {
	Put(lead leads.Lead)
	Invalidate(leadID string)
}

// LeadHandler keeps the lead cache in step with the CRM.
func LeadHandler(cache LeadCache, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var ev LeadEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return errors.Wrap(err, "decode lead event")
		}
		if ev.LeadID == "" {
			return errors.New("lead event without lead_id")
		}
		if ev.Deleted {
			cache.Invalidate(ev.LeadID)
			logger.Info("lead removed from cache", "lead_id", ev.LeadID)
			return nil
		}
		cache.Put(leads.Lead{ID: ev.LeadID, Name: ev.Name, Email: ev.Email, Phone: ev.Phone})
		return nil
	}
}
