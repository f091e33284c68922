package touchpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"touchpoint-service/internal/logging"
	"touchpoint-service/internal/models"
	"touchpoint-service/internal/occurrence"
	"touchpoint-service/internal/providers"
	"touchpoint-service/internal/utils"
)

// Mailer sends a plain-text email.
type Mailer interface {
	Send(to, subject, body string) error
}

// Chat sends a message to a chat id.
type Chat interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// AgentDigest emails the agent and, when the agent has a Telegram chat, posts
// the same summary there. Either channel may be absent.
type AgentDigest struct {
	mail   Mailer
	chat   Chat
	logger *logging.Logger
}

// NewAgentDigest wires the configured agent channels. Nil providers are
// skipped.
func NewAgentDigest(email *providers.Email, telegram *providers.Telegram, logger *logging.Logger) *AgentDigest {
	d := &AgentDigest{logger: logger}
	if email != nil {
		d.mail = email
	}
	if telegram != nil {
		d.chat = telegram
	}
	return d
}

// SendDigest formats items into one summary and delivers it.
func (d *AgentDigest) SendDigest(ctx context.Context, agent models.Agent, kind models.NotificationType, items []occurrence.Occurrence) error {
	subject, body := FormatDigest(agent, kind, items)

	var errs []error
	if d.mail != nil && agent.Email != "" {
		err := utils.Retry(ctx, d.logger, 3, 2*time.Second, func() error {
			return d.mail.Send(agent.Email, subject, body)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}
	if d.chat != nil && agent.TelegramChatID != 0 {
		if err := d.chat.Send(ctx, agent.TelegramChatID, providers.FormatTelegram(subject, body)); err != nil {
			errs = append(errs, fmt.Errorf("telegram: %w", err))
		}
	}
	return errors.Join(errs...)
}

// FormatDigest renders the agent summary, soonest first.
func FormatDigest(agent models.Agent, kind models.NotificationType, items []occurrence.Occurrence) (string, string) {
	sorted := make([]occurrence.Occurrence, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].DaysUntil < sorted[j].DaysUntil })

	subject := fmt.Sprintf("%d upcoming %s reminders", len(items), kind)
	if len(items) == 1 {
		subject = fmt.Sprintf("1 upcoming %s reminder", kind)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", agent.Name)
	for _, occ := range sorted {
		fmt.Fprintf(&b, "- %s\n", occ.Body)
	}
	if agent.SchedulingURL != "" {
		fmt.Fprintf(&b, "\nClients can book a review at %s\n", agent.SchedulingURL)
	}
	return subject, b.String()
}
