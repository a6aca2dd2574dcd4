package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/joao-fontenele/honey-marketplace/internal/domain"
	"github.com/joao-fontenele/honey-marketplace/internal/email"
)

type Mailer interface {
	Send(ctx context.Context, msg email.Message) error
}

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"upper": strings.ToUpper,
}).Parse(`
{{define "order.paid.subject"}}Your honey order {{.OrderID}} is confirmed{{end}}
{{define "order.paid.body"}}Thanks for your order!

We have received your payment of {{.Amount.StringFixed 2}} {{upper .Currency}} for order {{.OrderID}}.
{{len .ProducerIDs}} producer(s) will prepare and ship your items separately.{{end}}

{{define "order.cancelled.subject"}}Your honey order {{.OrderID}} was cancelled{{end}}
{{define "order.cancelled.body"}}Your checkout for order {{.OrderID}} expired before payment was completed, so the order has been cancelled.

No payment was taken. Your items are back on the shelf if you would like to try again.{{end}}

{{define "producer.registered.subject"}}We received your producer registration{{end}}
{{define "producer.registered.body"}}Hi {{.BusinessName}},

Thanks for registering as a producer. Our team will review your details and let you know once your account is verified.{{end}}

{{define "producer.admin.subject"}}New producer awaiting verification: {{.BusinessName}}{{end}}
{{define "producer.admin.body"}}{{.BusinessName}} ({{.Email}}) registered as a producer and is awaiting verification.

Producer id: {{.ProducerID}}{{end}}
`))

// EmailSender turns lifecycle events into transactional email.
type EmailSender struct {
	mailer     Mailer
	adminEmail string
	logger     *slog.Logger
}

func NewEmailSender(mailer Mailer, adminEmail string, logger *slog.Logger) *EmailSender {
	return &EmailSender{
		mailer:     mailer,
		adminEmail: adminEmail,
		logger:     logger,
	}
}

// Publish renders and sends every message the event calls for.
func (s *EmailSender) Publish(ctx context.Context, event domain.Event) error {
	msgs, err := s.Render(event)
	if err != nil {
		return err
	}

	var errs []error
	for _, msg := range msgs {
		if err := s.mailer.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("send %q to %s: %w", msg.Subject, msg.To, err))
		}
	}
	return errors.Join(errs...)
}

// Handle consumes an event from the queue. Delivery failures are logged and
// never returned, so the message is still committed.
func (s *EmailSender) Handle(ctx context.Context, event domain.Event) error {
	if err := s.Publish(ctx, event); err != nil {
		s.logger.Error("failed to deliver notification", "error", err, "event_id", event.ID, "event_type", event.Type)
		return nil
	}
	s.logger.Info("notification delivered", "event_id", event.ID, "event_type", event.Type)
	return nil
}

func (s *EmailSender) Render(event domain.Event) ([]email.Message, error) {
	switch event.Type {
	case domain.EventOrderPaid, domain.EventOrderCancelled:
		if event.Order == nil {
			return nil, fmt.Errorf("%s event without order payload", event.Type)
		}
		if event.Order.BuyerEmail == "" {
			return nil, nil
		}
		msg, err := render(string(event.Type), event.Order.BuyerEmail, event.Order)
		if err != nil {
			return nil, err
		}
		return []email.Message{msg}, nil

	case domain.EventProducerRegistered:
		if event.Producer == nil {
			return nil, fmt.Errorf("%s event without producer payload", event.Type)
		}
		msg, err := render("producer.registered", event.Producer.Email, event.Producer)
		if err != nil {
			return nil, err
		}
		msgs := []email.Message{msg}
		if s.adminEmail != "" {
			admin, err := render("producer.admin", s.adminEmail, event.Producer)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, admin)
		}
		return msgs, nil
	}

	s.logger.Debug("no notification for event type", "event_type", event.Type)
	return nil, nil
}

func render(name, to string, data any) (email.Message, error) {
	var subject, body bytes.Buffer
	if err := templates.ExecuteTemplate(&subject, name+".subject", data); err != nil {
		return email.Message{}, err
	}
	if err := templates.ExecuteTemplate(&body, name+".body", data); err != nil {
		return email.Message{}, err
	}
	return email.Message{To: to, Subject: subject.String(), Body: body.String()}, nil
}
