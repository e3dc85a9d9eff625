package calsync

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"

	"github.com/fitdesk/leadcal/services/calendar-service/internal/events"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/metrics"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
)

var ErrUnknownProvider = errors.New("unknown calendar provider")

type RetryConfig struct {
	MaxTries        uint          `envconfig:"SYNC_MAX_TRIES" default:"3"`
	InitialInterval time.Duration `envconfig:"SYNC_INITIAL_BACKOFF" default:"200ms"`
	MaxElapsed      time.Duration `envconfig:"SYNC_MAX_ELAPSED" default:"5s"`
}

// Adapter routes registrations to providers by name, retrying transient failures.
type Adapter struct {
	providers map[string]Provider
	def       string
	retry     RetryConfig
}

func NewAdapter(defaultProvider string, retry RetryConfig, providers ...Provider) *Adapter {
	if retry.MaxTries == 0 {
		retry.MaxTries = 3
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = 200 * time.Millisecond
	}
	a := &Adapter{providers: map[string]Provider{}, def: strings.ToLower(defaultProvider), retry: retry}
	for _, p := range providers {
		a.providers[strings.ToLower(p.Name())] = p
	}
	return a
}

func (a *Adapter) Default() string { return a.def }

func (a *Adapter) Providers() []string {
	out := make([]string, 0, len(a.providers))
	for name := range a.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Register returns the external id issued by provider (the default when empty).
// Failures are *SyncError.
func (a *Adapter) Register(ctx context.Context, appt model.Appointment, provider string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		name = a.def
	}
	p, ok := a.providers[name]
	if !ok {
		return "", &SyncError{Provider: name, AppointmentID: appt.ID, Err: ErrUnknownProvider}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.retry.InitialInterval
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(a.retry.MaxTries),
	}
	if a.retry.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(a.retry.MaxElapsed))
	}
	id, err := backoff.Retry(ctx, func() (string, error) {
		id, err := p.Register(ctx, appt)
		if errors.Is(err, ErrRejected) {
			return "", backoff.Permanent(err)
		}
		return id, err
	}, opts...)
	if err != nil {
		return "", &SyncError{Provider: name, AppointmentID: appt.ID, Err: err}
	}
	return id, nil
}

// Ledger is the subset of the booking ledger the syncer writes through.
type Ledger interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	SetExternalCalendarID(ctx context.Context, id, provider, externalID string) (model.Appointment, error)
}

// Syncer registers booked appointments with the default provider and serves manual syncs.
type Syncer struct {
	adapter *Adapter
	ledger  Ledger
	events  events.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewSyncer(adapter *Adapter, ledger Ledger, pub events.Publisher, logger *slog.Logger, m *metrics.Metrics) *Syncer {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Syncer{adapter: adapter, ledger: ledger, events: pub, logger: logger, metrics: m}
}

// HandleBooked reacts to appointment.booked. A failed sync is logged and announced as
// appointment.sync_failed; the booking itself is untouched.
func (s *Syncer) HandleBooked(ctx context.Context, ev events.Event) error {
	if ev.Appointment.ExternalCalendarID != "" || s.adapter.Default() == "" {
		return nil
	}
	if _, err := s.sync(ctx, ev.Appointment, ""); err != nil {
		failed := events.New(events.AppointmentSyncFailed, ev.Appointment, time.Now().UTC())
		failed.Provider = s.adapter.Default()
		failed.Error = err.Error()
		s.events.Publish(ctx, failed)
	}
	return nil
}

// Sync registers appointment id with provider and stores the returned id.
func (s *Syncer) Sync(ctx context.Context, id, provider string) (string, error) {
	appt, err := s.ledger.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.sync(ctx, appt, provider)
}

func (s *Syncer) sync(ctx context.Context, appt model.Appointment, provider string) (string, error) {
	if provider == "" {
		provider = s.adapter.Default()
	}
	externalID, err := s.adapter.Register(ctx, appt, provider)
	s.metrics.Sync(provider, err)
	if err != nil {
		s.logger.Warn("external calendar sync failed", "appointment_id", appt.ID, "provider", provider, "err", err)
		return "", err
	}
	if _, err := s.ledger.SetExternalCalendarID(ctx, appt.ID, provider, externalID); err != nil {
		return "", errors.Wrapf(err, "store external id for %s", appt.ID)
	}
	s.logger.Info("external calendar synced", "appointment_id", appt.ID, "provider", provider, "external_id", externalID)
	return externalID, nil
}
