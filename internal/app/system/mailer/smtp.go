// internal/app/system/mailer/smtp.go
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SMTPSender delivers mail through an SMTP relay (Mailpit locally, SES or
// similar in production).
type SMTPSender struct {
	addr string
	host string
	auth smtp.Auth
	from string
	head string
}

func NewSMTPSender(cfg Config) *SMTPSender {
	port := cfg.SMTPPort
	if port == 0 {
		port = 25
	}
	s := &SMTPSender{
		addr: cfg.SMTPHost + ":" + strconv.Itoa(port),
		host: cfg.SMTPHost,
		from: cfg.From,
		head: cfg.FromHeader(),
	}
	if cfg.SMTPUser != "" {
		s.auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPHost)
	}
	return s
}

// Send delivers msg. net/smtp has no context support, so ctx is only checked
// before dialing.
func (s *SMTPSender) Send(ctx context.Context, msg Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := BuildMIME(s.head, msg, time.Now())
	if err != nil {
		return err
	}
	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{msg.To}, body); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

// BuildMIME renders msg as an RFC 5322 message. With an HTML body the
// message is multipart/alternative, otherwise plain text.
func BuildMIME(from string, msg Email, now time.Time) ([]byte, error) {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}

	var buf bytes.Buffer
	writeHeader := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	writeHeader("From", from)
	writeHeader("To", msg.To)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("Date", now.Format(time.RFC1123Z))
	writeHeader("Message-ID", "<"+uuid.NewString()+"@cohortsync>")
	writeHeader("MIME-Version", "1.0")

	if msg.HTMLBody == "" {
		writeHeader("Content-Type", `text/plain; charset="utf-8"`)
		writeHeader("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQP(&buf, msg.TextBody); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	writeHeader("Content-Type", `multipart/alternative; boundary="`+mw.Boundary()+`"`)
	buf.WriteString("\r\n")

	for _, part := range []struct{ ctype, body string }{
		{`text/plain; charset="utf-8"`, msg.TextBody},
		{`text/html; charset="utf-8"`, msg.HTMLBody},
	} {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", part.ctype)
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if err := writeQP(w, part.body); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeQP(w interface{ Write([]byte) (int, error) }, s string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(s)); err != nil {
		return err
	}
	return qp.Close()
}
