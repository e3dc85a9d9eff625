package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindReminder24h  Kind = "reminder_24h"
)

var ErrNoChannel = errors.New("lead has no reachable channel")

// NotificationError is a failed dispatch on one channel.
type NotificationError struct {
	Channel       Channel
	Kind          Kind
	AppointmentID string
	Err           error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("%s %s for appointment %s: %v", e.Kind, e.Channel, e.AppointmentID, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

type message struct {
	subject *template.Template
	body    *template.Template
}

var messages = map[Kind]message{
	KindConfirmation: {
		subject: template.Must(template.New("s").Parse(`Cita confirmada: {{.Title}}`)),
		body: template.Must(template.New("b").Parse(
			`Hola {{if .LeadName}}{{.LeadName}}{{else}}{{.LeadID}}{{end}}, tu cita "{{.Title}}" ({{.Type}}) quedó agendada para el {{.When}}` +
				`{{if .Location}} en {{.Location}}{{end}}.`)),
	},
	KindReminder24h: {
		subject: template.Must(template.New("s").Parse(`Recordatorio: {{.Title}} mañana`)),
		body: template.Must(template.New("b").Parse(
			`Hola {{if .LeadName}}{{.LeadName}}{{else}}{{.LeadID}}{{end}}, te recordamos tu cita "{{.Title}}" el {{.When}}` +
				`{{if .Location}} en {{.Location}}{{end}}.`)),
	},
}

// Notifier renders appointment notifications and sends them per channel.
type Notifier struct {
	email  EmailSender
	sms    SMSSender
	loc    *time.Location
	logger *slog.Logger
}

// NewNotifier accepts nil senders; the matching channel is then never used.
func NewNotifier(email EmailSender, sms SMSSender, loc *time.Location, logger *slog.Logger) *Notifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Notifier{email: email, sms: sms, loc: loc, logger: logger}
}

// Channels lists the channels a reaches: email when LeadEmail is set, sms when LeadPhone is.
func (n *Notifier) Channels(a model.Appointment) []Channel {
	var out []Channel
	if n.email != nil && a.LeadEmail != "" {
		out = append(out, ChannelEmail)
	}
	if n.sms != nil && a.LeadPhone != "" {
		out = append(out, ChannelSMS)
	}
	return out
}

// Send dispatches one notification on one channel. Failures are *NotificationError.
func (n *Notifier) Send(ctx context.Context, ch Channel, kind Kind, a model.Appointment) error {
	subject, body, err := n.render(kind, a)
	if err != nil {
		return &NotificationError{Channel: ch, Kind: kind, AppointmentID: a.ID, Err: err}
	}
	switch ch {
	case ChannelEmail:
		if n.email == nil {
			err = ErrNoChannel
		} else {
			err = n.email.Send(ctx, a.LeadEmail, subject, body)
		}
	case ChannelSMS:
		if n.sms == nil {
			err = ErrNoChannel
		} else {
			err = n.sms.Send(ctx, a.LeadPhone, body)
		}
	default:
		err = errors.Newf("unknown channel %q", ch)
	}
	if err != nil {
		return &NotificationError{Channel: ch, Kind: kind, AppointmentID: a.ID, Err: err}
	}
	n.logger.Info("notification sent", "appointment_id", a.ID, "channel", ch, "kind", kind)
	return nil
}

func (n *Notifier) render(kind Kind, a model.Appointment) (string, string, error) {
	msg, ok := messages[kind]
	if !ok {
		return "", "", errors.Newf("unknown notification kind %q", kind)
	}
	data := struct {
		model.Appointment
		When string
	}{a, a.StartTime.In(n.loc).Format("02/01/2006 15:04")}

	var subject, body bytes.Buffer
	if err := msg.subject.Execute(&subject, data); err != nil {
		return "", "", errors.Wrap(err, "render subject")
	}
	if err := msg.body.Execute(&body, data); err != nil {
		return "", "", errors.Wrap(err, "render body")
	}
	return headerValue(subject.String()), body.String(), nil
}
