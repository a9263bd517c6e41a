// internal/app/system/mailer/sendgrid.go
package mailer

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridSender sends through the SendGrid v3 API.
type SendGridSender struct {
	client *sendgrid.Client
	from   *sgmail.Email
}

func NewSendGridSender(cfg Config) *SendGridSender {
	return &SendGridSender{
		client: sendgrid.NewSendClient(cfg.SendGridAPIKey),
		from:   sgmail.NewEmail(cfg.FromName, cfg.From),
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg Email) error {
	to := sgmail.NewEmail("", msg.To)
	var m *sgmail.SGMailV3
	if msg.HTMLBody == "" {
		// SendGrid rejects empty content values.
		m = sgmail.NewV3MailInit(s.from, msg.Subject, to, sgmail.NewContent("text/plain", msg.TextBody))
	} else {
		m = sgmail.NewSingleEmail(s.from, msg.Subject, to, msg.TextBody, msg.HTMLBody)
	}
	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("sendgrid send to %s: %w", msg.To, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send to %s: status %d: %s", msg.To, resp.StatusCode, resp.Body)
	}
	return nil
}
