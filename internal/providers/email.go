package providers

import (
	"fmt"
	"net/smtp"
	"strings"

	"touchpoint-service/internal/config"
)

// Email sends plain-text mail to agents through SMTP.
type Email struct {
	server   string
	port     int
	username string
	password string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmail returns nil when SMTP is not configured.
func NewEmail(cfg config.Config) *Email {
	if cfg.Email.SMTPServer == "" || cfg.Email.SMTPPort == 0 || cfg.Email.Username == "" {
		return nil
	}
	return &Email{
		server:   cfg.Email.SMTPServer,
		port:     cfg.Email.SMTPPort,
		username: cfg.Email.Username,
		password: cfg.Email.Password,
		send:     smtp.SendMail,
	}
}

// Send delivers one message to a single recipient.
func (e *Email) Send(to, subject, body string) error {
	if !strings.Contains(to, "@") {
		return fmt.Errorf("invalid email address: %s", to)
	}

	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n", to, subject, body))
	auth := smtp.PlainAuth("", e.username, e.password, e.server)
	addr := fmt.Sprintf("%s:%d", e.server, e.port)
	if err := e.send(addr, auth, e.username, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
