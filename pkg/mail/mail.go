package mail

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/pkg/config"
)

// Message is a single outbound email.
type Message struct {
	To      mail.Address
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers messages synchronously; callers decide whether to retry.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New selects the transport configured in cfg. Anything other than "sendgrid" logs messages instead of sending them.
func New(cfg config.MailConfig, logger *zap.Logger) Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	from := mail.Address{Name: cfg.FromName, Address: cfg.FromEmail}
	if strings.EqualFold(cfg.Provider, "sendgrid") && cfg.SendGridAPIKey != "" {
		return NewSendGridMailer(cfg.SendGridAPIKey, from, cfg.FromName)
	}
	if strings.EqualFold(cfg.Provider, "sendgrid") {
		logger.Warn("sendgrid selected without api key, falling back to log mailer")
	}
	return NewLogMailer(from, logger)
}

// LogMailer writes messages to the logger and keeps them in memory.
type LogMailer struct {
	from   mail.Address
	logger *zap.Logger

	mu   sync.Mutex
	sent []Message
}

// NewLogMailer builds a LogMailer.
func NewLogMailer(from mail.Address, logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{from: from, logger: logger}
}

// Send records the message.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	if msg.To.Address == "" {
		return fmt.Errorf("mail: recipient required")
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	m.logger.Info("mail sent",
		zap.String("from", m.from.String()),
		zap.String("to", msg.To.Address),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// Sent returns a copy of every message recorded so far.
func (m *LogMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
