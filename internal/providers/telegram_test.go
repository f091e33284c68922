package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTelegramWithoutToken(t *testing.T) {
	tg, err := NewTelegram("")
	assert.NoError(t, err)
	assert.Nil(t, tg)
}

func TestFormatTelegramEscapesMarkup(t *testing.T) {
	tests := []struct {
		name  string
		title string
		body  string
		want  string
	}{
		{"plain", "Conservation alert", "Sam Lee", "*Conservation alert*\nSam Lee"},
		{"names with markup", "2 upcoming anniversary reminders", "- Jo_Ann *VIP* (Acme Term Life) in 3 days.", "*2 upcoming anniversary reminders*\n\\- Jo\\_Ann \\*VIP\\* \\(Acme Term Life\\) in 3 days\\."},
		{"title only", "Heads_up", "", "*Heads\\_up*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatTelegram(tt.title, tt.body))
		})
	}
}
