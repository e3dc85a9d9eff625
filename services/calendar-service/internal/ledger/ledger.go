package ledger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fitdesk/leadcal/libs/clock"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/events"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/leads"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/metrics"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/storage"
)

// blocking are the statuses that count against the no-overlap invariant.
var blocking = []model.Status{model.StatusScheduled, model.StatusConfirmed, model.StatusCompleted}

var active = []model.Status{model.StatusScheduled, model.StatusConfirmed}

type Options struct {
	Events  events.Publisher
	Leads   leads.Directory
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Ledger is the only writer of appointments. Every mutation holds the write lock across its
// read-check-write sequence; reads share the read lock. Events are published after the
// lock is released and only for committed changes.
type Ledger struct {
	mu      sync.RWMutex
	store   storage.Store
	events  events.Publisher
	leads   leads.Directory
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func New(store storage.Store, opts Options) *Ledger {
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ledger{
		store:   store,
		events:  opts.Events,
		leads:   opts.Leads,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  otel.Tracer("leadcal/ledger"),
	}
}

func (l *Ledger) Create(ctx context.Context, req CreateRequest) (model.Appointment, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Create", trace.WithAttributes(attribute.String("owner.id", req.OwnerID)))
	defer span.End()

	appt := model.Appointment{
		OwnerID:     strings.TrimSpace(req.OwnerID),
		LeadID:      strings.TrimSpace(req.LeadID),
		LeadName:    strings.TrimSpace(req.LeadName),
		LeadEmail:   strings.TrimSpace(req.LeadEmail),
		LeadPhone:   strings.TrimSpace(req.LeadPhone),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Location:    strings.TrimSpace(req.Location),
		StartTime:   req.StartTime.UTC(),
		EndTime:     req.EndTime.UTC(),
		Type:        req.Type,
		Status:      model.StatusScheduled,
		CreatedBy:   strings.TrimSpace(req.CreatedBy),
	}
	if err := validateAppointment(appt); err != nil {
		return fail(span, model.Appointment{}, err)
	}
	l.fillLead(ctx, &appt)

	committed, err := l.insert(ctx, appt)
	if err != nil {
		return fail(span, model.Appointment{}, err)
	}
	span.SetAttributes(attribute.String("appointment.id", committed.ID))

	l.metrics.Transition("create", string(committed.Status))
	l.logger.Info("appointment booked",
		"appointment_id", committed.ID,
		"owner_id", committed.OwnerID,
		"lead_id", committed.LeadID,
		"start", committed.StartTime,
	)
	l.events.Publish(ctx, events.New(events.AppointmentBooked, committed, committed.CreatedAt))
	return committed, nil
}

func (l *Ledger) insert(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkConflict(ctx, appt); err != nil {
		return model.Appointment{}, err
	}
	now := l.clock.Now().UTC()
	appt.ID = uuid.NewString()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	if err := l.store.Insert(ctx, appt); err != nil {
		return model.Appointment{}, l.mapStoreErr(appt, err)
	}
	return appt, nil
}

// fillLead copies missing display fields from the lead directory. Lookup failures are
// logged and ignored.
func (l *Ledger) fillLead(ctx context.Context, appt *model.Appointment) {
	if l.leads == nil || (appt.LeadName != "" && appt.LeadEmail != "" && appt.LeadPhone != "") {
		return
	}
	lead, err := l.leads.Lookup(ctx, appt.LeadID)
	if err != nil {
		l.logger.Warn("lead lookup failed", "lead_id", appt.LeadID, "err", err)
		return
	}
	if appt.LeadName == "" {
		appt.LeadName = lead.Name
	}
	if appt.LeadEmail == "" {
		appt.LeadEmail = lead.Email
	}
	if appt.LeadPhone == "" {
		appt.LeadPhone = lead.Phone
	}
}

// checkConflict must run under the write lock.
func (l *Ledger) checkConflict(ctx context.Context, appt model.Appointment) error {
	existing, err := l.store.List(ctx, storage.Filter{
		OwnerID:     appt.OwnerID,
		Overlapping: appt.Interval(),
		Statuses:    blocking,
	})
	if err != nil {
		return errors.Wrap(err, "check overlapping appointments")
	}
	var ids []string
	for _, other := range existing {
		if other.ID == appt.ID {
			continue
		}
		ids = append(ids, other.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	l.metrics.Conflict()
	return &ConflictError{OwnerID: appt.OwnerID, Start: appt.StartTime, End: appt.EndTime, ConflictingIDs: ids}
}

func (l *Ledger) mapStoreErr(appt model.Appointment, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return &NotFoundError{ID: appt.ID}
	case errors.Is(err, storage.ErrOverlap):
		l.metrics.Conflict()
		return &ConflictError{OwnerID: appt.OwnerID, Start: appt.StartTime, End: appt.EndTime}
	default:
		return errors.Wrapf(err, "persist appointment %s", appt.ID)
	}
}

func (l *Ledger) Get(ctx context.Context, id string) (model.Appointment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.get(ctx, id)
}

func (l *Ledger) get(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := l.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, &NotFoundError{ID: id}
	}
	if err != nil {
		return model.Appointment{}, errors.Wrapf(err, "get appointment %s", id)
	}
	return appt, nil
}

// List returns appointments matching f ordered by StartTime ascending.
func (l *Ledger) List(ctx context.Context, f storage.Filter) ([]model.Appointment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	appts, err := l.store.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list appointments")
	}
	return appts, nil
}

// AppointmentsStartingBetween serves availability snapshots.
func (l *Ledger) AppointmentsStartingBetween(ctx context.Context, ownerID string, start, end time.Time) ([]model.Appointment, error) {
	return l.List(ctx, storage.Filter{OwnerID: ownerID, StartFrom: start, StartTo: end})
}

// Update applies p. Time changes are re-checked against the owner's other appointments and
// status changes must follow the state machine. Terminal appointments reject every patch.
func (l *Ledger) Update(ctx context.Context, id string, p Patch) (model.Appointment, error) {
	var before model.Appointment
	after, err := l.mutate(ctx, "ledger.Update", id, func(cur model.Appointment) (model.Appointment, error) {
		before = cur
		target := cur.Status
		if p.Status != nil {
			target = *p.Status
		}
		if cur.Status.Terminal() {
			return cur, &InvalidTransitionError{ID: id, From: cur.Status, To: target}
		}
		next := cur.Clone()
		p.apply(&next)
		if err := validateAppointment(next); err != nil {
			return cur, err
		}
		if target != cur.Status {
			if err := l.transition(&next, target); err != nil {
				return cur, err
			}
		}
		return next, nil
	})
	if err != nil {
		return model.Appointment{}, err
	}

	l.metrics.Transition("update", string(after.Status))
	if !before.StartTime.Equal(after.StartTime) || !before.EndTime.Equal(after.EndTime) {
		ev := events.New(events.AppointmentRescheduled, after, after.UpdatedAt)
		l.events.Publish(ctx, ev)
	}
	if before.Status != after.Status {
		l.publishTransition(ctx, after)
	}
	return after, nil
}

// Reschedule moves an appointment to [start, end) if the owner is free then.
func (l *Ledger) Reschedule(ctx context.Context, id string, start, end time.Time, reason string) (model.Appointment, error) {
	after, err := l.mutate(ctx, "ledger.Reschedule", id, func(cur model.Appointment) (model.Appointment, error) {
		if cur.Status.Terminal() {
			return cur, &InvalidTransitionError{ID: id, From: cur.Status, To: cur.Status}
		}
		next := cur.Clone()
		next.StartTime = start.UTC()
		next.EndTime = end.UTC()
		if err := validateAppointment(next); err != nil {
			return cur, err
		}
		return next, nil
	})
	if err != nil {
		return model.Appointment{}, err
	}

	l.metrics.Transition("reschedule", string(after.Status))
	l.logger.Info("appointment rescheduled", "appointment_id", id, "start", after.StartTime, "reason", reason)
	ev := events.New(events.AppointmentRescheduled, after, after.UpdatedAt)
	ev.Reason = reason
	l.events.Publish(ctx, ev)
	return after, nil
}

func (l *Ledger) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	return l.moveTo(ctx, id, model.StatusConfirmed, "")
}

// Cancel frees the appointment's interval for future bookings. The record is kept.
func (l *Ledger) Cancel(ctx context.Context, id, reason string) (model.Appointment, error) {
	return l.moveTo(ctx, id, model.StatusCancelled, strings.TrimSpace(reason))
}

func (l *Ledger) Complete(ctx context.Context, id string) (model.Appointment, error) {
	return l.moveTo(ctx, id, model.StatusCompleted, "")
}

func (l *Ledger) moveTo(ctx context.Context, id string, to model.Status, reason string) (model.Appointment, error) {
	after, err := l.mutate(ctx, "ledger.MoveTo", id, func(cur model.Appointment) (model.Appointment, error) {
		next := cur.Clone()
		if err := l.transition(&next, to); err != nil {
			return cur, err
		}
		if reason != "" {
			next.CancelReason = reason
		}
		return next, nil
	})
	if err != nil {
		return model.Appointment{}, err
	}

	l.metrics.Transition(string(to), string(after.Status))
	l.logger.Info("appointment status changed", "appointment_id", id, "status", after.Status)
	l.publishTransition(ctx, after)
	return after, nil
}

// transition moves a to status `to`, stamping the matching audit field.
func (l *Ledger) transition(a *model.Appointment, to model.Status) error {
	if !to.Valid() || !model.CanTransition(a.Status, to) {
		return &InvalidTransitionError{ID: a.ID, From: a.Status, To: to}
	}
	now := l.clock.Now().UTC()
	a.Status = to
	switch to {
	case model.StatusCancelled:
		a.CancelledAt = &now
	case model.StatusCompleted:
		a.CompletedAt = &now
	}
	return nil
}

func (l *Ledger) publishTransition(ctx context.Context, a model.Appointment) {
	var name events.Name
	switch a.Status {
	case model.StatusConfirmed:
		name = events.AppointmentConfirmed
	case model.StatusCancelled:
		name = events.AppointmentCancelled
	case model.StatusCompleted:
		name = events.AppointmentCompleted
	default:
		return
	}
	ev := events.New(name, a, a.UpdatedAt)
	if name == events.AppointmentCancelled {
		ev.Reason = a.CancelReason
	}
	l.events.Publish(ctx, ev)
}

// mutate runs fn under the write lock. If fn moves a blocking appointment in time, the new
// interval is re-checked. UpdatedAt is always stamped on success.
func (l *Ledger) mutate(ctx context.Context, op, id string, fn func(cur model.Appointment) (model.Appointment, error)) (model.Appointment, error) {
	ctx, span := l.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("appointment.id", id)))
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.get(ctx, id)
	if err != nil {
		return fail(span, model.Appointment{}, err)
	}
	next, err := fn(cur)
	if err != nil {
		return fail(span, model.Appointment{}, err)
	}
	moved := !cur.StartTime.Equal(next.StartTime) || !cur.EndTime.Equal(next.EndTime)
	if moved && next.Blocks() {
		if err := l.checkConflict(ctx, next); err != nil {
			return fail(span, model.Appointment{}, err)
		}
	}
	next.UpdatedAt = l.clock.Now().UTC()
	if err := l.store.Update(ctx, next); err != nil {
		return fail(span, model.Appointment{}, l.mapStoreErr(next, err))
	}
	return next, nil
}

func fail(span trace.Span, appt model.Appointment, err error) (model.Appointment, error) {
	if errors.Is(err, errSkip) {
		return appt, err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return appt, err
}
