package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"

	"github.com/fitdesk/leadcal/libs/kafkax"
	otelx "github.com/fitdesk/leadcal/libs/otel"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/events"
)

// Topic is the Kafka topic an event is written to.
func Topic(name events.Name) string {
	return "calendar." + string(name) + ".v1"
}

// Record is a serialized event waiting to be written.
type Record struct {
	EventID    string
	Topic      string
	Key        string
	Payload    []byte
	OccurredAt time.Time
	Trace      otelx.TraceLink
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherConfig struct {
	Brokers   string        `envconfig:"KAFKA_BROKERS"`
	PollEvery time.Duration `envconfig:"OUTBOX_POLL_EVERY" default:"2s"`
	BatchSize int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	MaxBuffer int           `envconfig:"OUTBOX_MAX_BUFFER" default:"10000"`
}

// Publisher buffers committed events and writes them to Kafka in batches. Records are
// keyed by appointment id so every event of one appointment lands on one partition in order.
type Publisher struct {
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
	maxBuffer int

	mu      sync.Mutex
	pending []Record
}

func NewPublisher(logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = 10000
	}
	return &Publisher{
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		maxBuffer: cfg.MaxBuffer,
	}
}

func (p *Publisher) Enabled() bool {
	return len(p.brokers) > 0
}

// Handle is an events.Handler that stages ev for publishing.
func (p *Publisher) Handle(ctx context.Context, ev events.Event) error {
	if !p.Enabled() {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrapf(err, "encode event %s", ev.ID)
	}
	link := ev.Trace
	if link.Empty() {
		link = otelx.CaptureTrace(ctx)
	}
	rec := Record{
		EventID:    ev.ID,
		Topic:      Topic(ev.Name),
		Key:        ev.Appointment.ID,
		Payload:    payload,
		OccurredAt: ev.OccurredAt,
		Trace:      link,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) >= p.maxBuffer {
		return errors.Newf("outbox buffer full (%d); dropping event %s", p.maxBuffer, ev.ID)
	}
	p.pending = append(p.pending, rec)
	return nil
}

func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Publisher) Run(ctx context.Context) {
	if !p.Enabled() {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	p.RunWithWriter(ctx, writer)
}

// RunWithWriter flushes every PollEvery until ctx is cancelled, then makes a last attempt
// with a short deadline.
func (p *Publisher) RunWithWriter(ctx context.Context, writer Writer) {
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := p.Flush(flushCtx, writer); err != nil {
				p.logger.Error("final outbox flush failed", "err", err, "pending", p.Pending())
			}
			cancel()
			return
		case <-ticker.C:
			if _, err := p.Flush(ctx, writer); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// Flush writes up to BatchSize buffered records. Records stay buffered when the write fails.
func (p *Publisher) Flush(ctx context.Context, writer Writer) (int, error) {
	p.mu.Lock()
	n := len(p.pending)
	if n > p.batchSize {
		n = p.batchSize
	}
	batch := append([]Record(nil), p.pending[:n]...)
	p.mu.Unlock()
	if len(batch) == 0 {
		return 0, nil
	}

	msgs := make([]kafka.Message, 0, len(batch))
	for _, r := range batch {
		msgCtx := r.Trace.Resume(ctx)
		meta := kafkax.EventMeta{EventID: r.EventID, EventType: r.Topic, OccurredAt: r.OccurredAt}
		msgs = append(msgs, kafka.Message{
			Topic:   r.Topic,
			Key:     []byte(r.Key),
			Value:   r.Payload,
			Headers: kafkax.InjectTraceHeaders(msgCtx, meta.Headers()),
		})
	}
	if err := writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, errors.Wrapf(err, "write %d messages", len(msgs))
	}

	p.mu.Lock()
	p.pending = p.pending[len(batch):]
	p.mu.Unlock()
	return len(batch), nil
}
