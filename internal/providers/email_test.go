package providers

import (
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"touchpoint-service/internal/config"
)

func TestNewEmailRequiresConfig(t *testing.T) {
	assert.Nil(t, NewEmail(config.Config{}))
}

func TestEmailSend(t *testing.T) {
	var cfg config.Config
	cfg.Email.SMTPServer = "smtp.example.com"
	cfg.Email.SMTPPort = 587
	cfg.Email.Username = "digest@example.com"
	e := NewEmail(cfg)
	require.NotNil(t, e)

	var gotAddr string
	var gotMsg []byte
	e.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = msg
		assert.Equal(t, "digest@example.com", from)
		assert.Equal(t, []string{"agent@example.com"}, to)
		return nil
	}

	require.NoError(t, e.Send("agent@example.com", "Upcoming anniversaries", "body"))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Contains(t, string(gotMsg), "Subject: Upcoming anniversaries")

	assert.Error(t, e.Send("not-an-address", "s", "b"))
}
