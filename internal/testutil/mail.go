package testutil

import (
	"context"
	"sync"

	"github.com/dalemusser/cohortsync/internal/app/system/mailer"
)

// MailRecorder is a mailer.Sender that keeps every message in memory.
type MailRecorder struct {
	mu   sync.Mutex
	sent []mailer.Email
	Err  error // returned by Send when set
}

// NewMailRecorder creates an empty recorder.
func NewMailRecorder() *MailRecorder {
	return &MailRecorder{}
}

func (m *MailRecorder) Send(_ context.Context, msg mailer.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MailRecorder) Sent() []mailer.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Email(nil), m.sent...)
}

// SentTo returns the messages addressed to addr.
func (m *MailRecorder) SentTo(addr string) []mailer.Email {
	var out []mailer.Email
	for _, e := range m.Sent() {
		if e.To == addr {
			out = append(out, e)
		}
	}
	return out
}
