// internal/app/system/mailer/resend.go
package mailer

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// ResendSender sends through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(cfg Config) *ResendSender {
	return &ResendSender{
		client: resend.NewClient(cfg.ResendAPIKey),
		from:   cfg.FromHeader(),
	}
}

func (s *ResendSender) Send(ctx context.Context, msg Email) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.TextBody,
		Html:    msg.HTMLBody,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("resend send to %s: %w", msg.To, err)
	}
	return nil
}
