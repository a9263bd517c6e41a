// internal/app/system/mailer/mailer.go
package mailer

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"
)

// Email is one outgoing message. HTMLBody is optional.
type Email struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers an Email.
type Sender interface {
	Send(ctx context.Context, msg Email) error
}

// Transport names accepted in Config.Transport.
const (
	TransportSMTP     = "smtp"
	TransportResend   = "resend"
	TransportSendGrid = "sendgrid"
	TransportLog      = "log"
)

// Config selects and configures a transport.
type Config struct {
	Transport string

	From     string // sender address
	FromName string // display name

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string

	ResendAPIKey   string
	SendGridAPIKey string
}

// FromHeader renders the From address with its display name.
func (c Config) FromHeader() string {
	if c.FromName == "" {
		return c.From
	}
	return (&mail.Address{Name: c.FromName, Address: c.From}).String()
}

// New builds the Sender named by cfg.Transport.
func New(cfg Config, log *zap.Logger) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case TransportSMTP, "":
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("mailer: smtp transport needs a host")
		}
		return NewSMTPSender(cfg), nil
	case TransportResend:
		if cfg.ResendAPIKey == "" {
			return nil, fmt.Errorf("mailer: resend transport needs an API key")
		}
		return NewResendSender(cfg), nil
	case TransportSendGrid:
		if cfg.SendGridAPIKey == "" {
			return nil, fmt.Errorf("mailer: sendgrid transport needs an API key")
		}
		return NewSendGridSender(cfg), nil
	case TransportLog:
		return NewLogSender(log), nil
	default:
		return nil, fmt.Errorf("mailer: unknown transport %q", cfg.Transport)
	}
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Email) error {
	s.log.Info("email (log transport)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("text_len", len(msg.TextBody)),
		zap.Int("html_len", len(msg.HTMLBody)))
	return nil
}
