package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	otelx "github.com/fitdesk/leadcal/libs/otel"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/metrics"
)

type Config struct {
	QueueSize      int           `envconfig:"EVENT_QUEUE_SIZE" default:"1024"`
	HandlerTimeout time.Duration `envconfig:"EVENT_HANDLER_TIMEOUT" default:"10s"`
}

type subscription struct {
	name    string
	handler Handler
}

// Dispatcher is an in-process, bounded event queue. Publish never blocks; when the queue is
// full the event is dropped and counted. Handlers run one event at a time, each under
// HandlerTimeout, and their errors are logged rather than returned.
type Dispatcher struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	queue   chan Event

	mu   sync.RWMutex
	subs map[Name][]subscription
	all  []subscription
}

func NewDispatcher(logger *slog.Logger, m *metrics.Metrics, cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 10 * time.Second
	}
	return &Dispatcher{
		logger:  logger,
		metrics: m,
		timeout: cfg.HandlerTimeout,
		queue:   make(chan Event, cfg.QueueSize),
		subs:    map[Name][]subscription{},
	}
}

func (d *Dispatcher) Subscribe(event Name, handlerName string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[event] = append(d.subs[event], subscription{name: handlerName, handler: h})
}

// SubscribeAll registers h for every event name.
func (d *Dispatcher) SubscribeAll(handlerName string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, subscription{name: handlerName, handler: h})
}

func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	if ev.Trace.Empty() {
		ev.Trace = otelx.CaptureTrace(ctx)
	}
	select {
	case d.queue <- ev:
	default:
		d.metrics.EventDropped(string(ev.Name))
		d.logger.Error("event queue full; dropping event",
			"event", ev.Name,
			"event_id", ev.ID,
			"appointment_id", ev.Appointment.ID,
		)
	}
}

// Run drains the queue until ctx is cancelled. Queued events are abandoned on shutdown.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("event dispatcher started", "queue_size", cap(d.queue))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("event dispatcher stopped", "pending", len(d.queue))
			return
		case ev := <-d.queue:
			d.Dispatch(ctx, ev)
		}
	}
}

// Drain dispatches queued events until the queue is empty, including events published by
// the handlers themselves.
func (d *Dispatcher) Drain(ctx context.Context) {
	for {
		select {
		case ev := <-d.queue:
			d.Dispatch(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Dispatch runs every handler subscribed to ev.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.mu.RLock()
	subs := make([]subscription, 0, len(d.subs[ev.Name])+len(d.all))
	subs = append(subs, d.subs[ev.Name]...)
	subs = append(subs, d.all...)
	d.mu.RUnlock()

	parent := ev.Trace.Resume(ctx)
	for _, sub := range subs {
		if err := d.call(parent, sub, ev); err != nil {
			d.metrics.HandlerError(string(ev.Name), sub.name)
			d.logger.Error("event handler failed",
				"event", ev.Name,
				"handler", sub.name,
				"appointment_id", ev.Appointment.ID,
				"err", err,
			)
		}
	}
}

func (d *Dispatcher) call(ctx context.Context, sub subscription, ev Event) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panic: %s", fmt.Sprint(r))
		}
	}()
	return sub.handler(ctx, ev)
}
