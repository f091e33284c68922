package providers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
)

// Telegram sends agent alerts to a Telegram chat via the bot API.
type Telegram struct {
	bot     *bot.Bot
	limiter *rate.Limiter
}

// NewTelegram returns nil when no bot token is configured.
func NewTelegram(token string) (*Telegram, error) {
	if token == "" {
		return nil, nil
	}
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	// Telegram allows roughly 30 messages per second per bot.
	return &Telegram{bot: b, limiter: rate.NewLimiter(rate.Limit(30), 30)}, nil
}

// Send posts a MarkdownV2 message to chatID. Build text with
// FormatTelegram so that names and labels cannot break the markup.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit exceeded: %w", err)
	}
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdown,
	}
	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", chatID, err)
	}
	return nil
}

// FormatTelegram renders a bold title over a body, escaping both for
// MarkdownV2.
func FormatTelegram(title, body string) string {
	text := "*" + bot.EscapeMarkdown(title) + "*"
	if body != "" {
		text += "\n" + bot.EscapeMarkdown(body)
	}
	return text
}
