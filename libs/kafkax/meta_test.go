package kafkax

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestEventMeta_RoundTripThroughHeaders(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	msg := kafka.Message{
		Topic:   "calendar.appointment.booked.v1",
		Headers: EventMeta{EventID: "evt-1", EventType: "calendar.appointment.booked.v1", OccurredAt: at}.Headers(),
	}

	meta := ExtractEventMeta(msg)
	if meta.EventID != "evt-1" || meta.EventType != "calendar.appointment.booked.v1" {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if !meta.OccurredAt.Equal(at) {
		t.Fatalf("expected occurred_at %s, got %s", at, meta.OccurredAt)
	}
}

func TestExtractEventMeta_FallsBackToKeyAndTopic(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{Topic: "lead.updated.v1", Key: []byte("lead-7")})
	if meta.EventID != "lead-7" || meta.EventType != "lead.updated.v1" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka:9092, ,kafka2:9092 ")
	if len(got) != 2 || got[0] != "kafka:9092" || got[1] != "kafka2:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
}
