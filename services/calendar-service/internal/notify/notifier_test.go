package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
)

type capturedEmail struct {
	to, subject, body string
}

type fakeEmail struct {
	sent []capturedEmail
	err  error
}

func (f *fakeEmail) Send(_ context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, capturedEmail{to, subject, body})
	return nil
}

func testAppointment() model.Appointment {
	return model.Appointment{
		ID:        "appt-1",
		LeadID:    "lead-1",
		LeadName:  "Ana",
		LeadEmail: "ana@example.com",
		LeadPhone: "+34600000000",
		Title:     "Valoración física",
		Location:  "Sala 2",
		Type:      model.TypeConsulta,
		StartTime: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestNotifier_Channels(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := NewNotifier(&fakeEmail{}, NoopSMSSender{}, nil, logger)
	a := testAppointment()
	assert.Equal(t, []Channel{ChannelEmail, ChannelSMS}, n.Channels(a))

	a.LeadPhone = ""
	assert.Equal(t, []Channel{ChannelEmail}, n.Channels(a))

	a.LeadEmail = ""
	assert.Empty(t, n.Channels(a))

	emailOnly := NewNotifier(&fakeEmail{}, nil, nil, logger)
	assert.Equal(t, []Channel{ChannelEmail}, emailOnly.Channels(testAppointment()))
}

func TestNotifier_RendersInLocation(t *testing.T) {
	email := &fakeEmail{}
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	n := NewNotifier(email, nil, madrid, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, n.Send(context.Background(), ChannelEmail, KindReminder24h, testAppointment()))
	require.Len(t, email.sent, 1)
	assert.Equal(t, "ana@example.com", email.sent[0].to)
	assert.Contains(t, email.sent[0].subject, "Recordatorio")
	assert.Contains(t, email.sent[0].body, "01/06/2026 10:00")
	assert.Contains(t, email.sent[0].body, "Sala 2")
}

func TestNotifier_WrapsFailures(t *testing.T) {
	email := &fakeEmail{err: errors.New("connection refused")}
	n := NewNotifier(email, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := n.Send(context.Background(), ChannelEmail, KindConfirmation, testAppointment())
	var nerr *NotificationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, ChannelEmail, nerr.Channel)
	assert.Equal(t, "appt-1", nerr.AppointmentID)

	err = n.Send(context.Background(), ChannelSMS, KindConfirmation, testAppointment())
	assert.True(t, errors.Is(err, ErrNoChannel))
}

func TestWebhookSMSSender(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSMSSender(srv.URL, "secret")
	require.NoError(t, s.Send(context.Background(), "+34600000000", "hola"))
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "+34600000000", got["to"])
	assert.Equal(t, "hola", got["body"])

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	err := NewWebhookSMSSender(failing.URL, "").Send(context.Background(), "x", "y")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "502"))

	assert.Error(t, NewWebhookSMSSender("", "").Send(context.Background(), "x", "y"))
}

func TestBuildMessage(t *testing.T) {
	msg := buildMessage("a@x", "b@y", "Hola", "Cuerpo")
	assert.True(t, strings.HasPrefix(msg, "From: a@x\r\nTo: b@y\r\nSubject: Hola\r\n"))
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nCuerpo\r\n"))
}

func TestNotifier_SubjectStaysOnOneLine(t *testing.T) {
	email := &fakeEmail{}
	n := NewNotifier(email, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a := testAppointment()
	a.Title = "Demo\r\nContent-Type: text/html\r\n\r\n<b>spoofed</b>"

	require.NoError(t, n.Send(context.Background(), ChannelEmail, KindConfirmation, a))
	require.Len(t, email.sent, 1)
	assert.NotContains(t, email.sent[0].subject, "\r")
	assert.NotContains(t, email.sent[0].subject, "\n")

	msg := buildMessage("agenda@x", "ana@example.com\r\nBcc: evil@example.com", a.Title, "Cuerpo")
	head, body, ok := strings.Cut(msg, "\r\n\r\n")
	require.True(t, ok)
	assert.Equal(t, "Cuerpo\r\n", body)
	lines := strings.Split(head, "\r\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "To: ana@example.com Bcc: evil@example.com", lines[1])
	assert.Equal(t, "Subject: Demo Content-Type: text/html  <b>spoofed</b>", lines[2])
}
