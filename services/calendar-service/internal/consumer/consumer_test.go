package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitdesk/leadcal/libs/kafkax"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/inbox"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/leads"
)

// chanReader serves queued messages, then blocks until ctx is done.
type chanReader struct {
	msgs   chan kafka.Message
	closed chan struct{}
	once   sync.Once
}

func newChanReader(msgs ...kafka.Message) *chanReader {
	r := &chanReader{msgs: make(chan kafka.Message, len(msgs)), closed: make(chan struct{})}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *chanReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *chanReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func leadMessage(eventID, payload string) kafka.Message {
	return kafka.Message{
		Topic:   "crm.lead.updated.v1",
		Value:   []byte(payload),
		Headers: kafkax.EventMeta{EventID: eventID, EventType: "crm.lead.updated.v1"}.Headers(),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConsumer_DedupsAndUpdatesCache(t *testing.T) {
	cache, err := leads.NewCache(nil, 16)
	require.NoError(t, err)
	in, err := inbox.NewMemory(16)
	require.NoError(t, err)

	var mu sync.Mutex
	calls := 0
	handler := LeadHandler(cache, testLogger())
	counting := func(ctx context.Context, msg kafka.Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return handler(ctx, msg)
	}

	reader := newChanReader(
		leadMessage("evt-1", `{"lead_id":"lead-1","name":"Ana","email":"ana@example.com"}`),
		leadMessage("evt-1", `{"lead_id":"lead-1","name":"Ana","email":"ana@example.com"}`),
		leadMessage("evt-2", `{"lead_id":"lead-2","name":"Luis","phone":"+34600000001"}`),
	)
	c := NewWithReader(testLogger(), in, reader, counting)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return cache.Len() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()

	lead, err := cache.Lookup(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", lead.Email)

	select {
	case <-reader.closed:
	default:
		t.Fatalf("reader not closed on shutdown")
	}
}

func TestLeadHandler_DeleteInvalidates(t *testing.T) {
	cache, err := leads.NewCache(nil, 16)
	require.NoError(t, err)
	cache.Put(leads.Lead{ID: "lead-1", Name: "Ana"})

	h := LeadHandler(cache, testLogger())
	require.NoError(t, h(context.Background(), leadMessage("evt-3", `{"lead_id":"lead-1","deleted":true}`)))

	_, err = cache.Lookup(context.Background(), "lead-1")
	assert.True(t, errors.Is(err, leads.ErrUnknownLead))
}

func TestLeadHandler_RejectsBadPayload(t *testing.T) {
	cache, err := leads.NewCache(nil, 16)
	require.NoError(t, err)
	h := LeadHandler(cache, testLogger())

	require.Error(t, h(context.Background(), leadMessage("evt-4", `not json`)))
	require.Error(t, h(context.Background(), leadMessage("evt-5", `{"name":"x"}`)))
	assert.Equal(t, 0, cache.Len())
}
