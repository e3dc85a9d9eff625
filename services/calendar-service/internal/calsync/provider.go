package calsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
)

// Provider registers appointments with one external calendar and returns its opaque id.
type Provider interface {
	Name() string
	Register(ctx context.Context, appt model.Appointment) (string, error)
}

// SyncError is a failed registration with an external calendar.
type SyncError struct {
	Provider      string
	AppointmentID string
	Err           error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync appointment %s with %s: %v", e.AppointmentID, e.Provider, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func IsSyncError(err error) bool {
	var target *SyncError
	return errors.As(err, &target)
}

// ErrRejected marks a 4xx answer from a provider; it is not retried.
var ErrRejected = errors.New("provider rejected appointment")

// WebhookProvider posts the appointment to a bridge service that owns the vendor
// credentials and answers {"id": "..."}.
type WebhookProvider struct {
	name   string
	url    string
	token  string
	client *http.Client
}

func NewWebhookProvider(name, url, token string, timeout time.Duration) *WebhookProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookProvider{
		name:  name,
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (p *WebhookProvider) Name() string { return p.name }

type registerRequest struct {
	Provider    string    `json:"provider"`
	ID          string    `json:"appointment_id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendee    string    `json:"attendee,omitempty"`
}

func (p *WebhookProvider) Register(ctx context.Context, appt model.Appointment) (string, error) {
	raw, err := json.Marshal(registerRequest{
		Provider:    p.name,
		ID:          appt.ID,
		OwnerID:     appt.OwnerID,
		Title:       appt.Title,
		Description: appt.Description,
		Location:    appt.Location,
		Start:       appt.StartTime,
		End:         appt.EndTime,
		Attendee:    appt.LeadEmail,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal register request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(raw))
	if err != nil {
		return "", errors.Wrap(err, "build register request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "%s webhook", p.name)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", errors.Wrapf(ErrRejected, "%s returned %d", p.name, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", errors.Newf("%s returned %d", p.name, resp.StatusCode)
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrapf(err, "decode %s response", p.name)
	}
	if body.ID == "" {
		return "", errors.Newf("%s returned an empty id", p.name)
	}
	return body.ID, nil
}

// LocalProvider issues ids without calling anything, for development setups.
type LocalProvider struct {
	name string
}

func NewLocalProvider(name string) *LocalProvider {
	return &LocalProvider{name: name}
}

func (p *LocalProvider) Name() string { return p.name }

func (p *LocalProvider) Register(context.Context, model.Appointment) (string, error) {
	return p.name + "-" + uuid.NewString(), nil
}

// FallbackProvider wraps a primary provider with an optional fallback.
type FallbackProvider struct {
	primary       Provider
	fallback      Provider
	allowFallback bool
}

func NewFallbackProvider(primary, fallback Provider, allowFallback bool) *FallbackProvider {
	return &FallbackProvider{primary: primary, fallback: fallback, allowFallback: allowFallback}
}

func (p *FallbackProvider) Name() string {
	if p.primary != nil {
		return p.primary.Name()
	}
	return p.fallback.Name()
}

func (p *FallbackProvider) Register(ctx context.Context, appt model.Appointment) (string, error) {
	if p.primary == nil {
		if p.fallback != nil {
			return p.fallback.Register(ctx, appt)
		}
		return "", errors.New("calendar provider not configured")
	}
	id, err := p.primary.Register(ctx, appt)
	if err != nil && p.allowFallback && p.fallback != nil {
		return p.fallback.Register(ctx, appt)
	}
	return id, err
}
