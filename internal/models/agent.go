package models

import "time"

// Agent is an insurance agent who owns a book of clients.
type Agent struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	AgencyName     string    `json:"agency_name"`
	Email          string    `json:"email,omitempty"`
	SchedulingURL  string    `json:"scheduling_url,omitempty"`
	TelegramChatID int64     `json:"telegram_chat_id,omitempty"`
	HolidayOptOut  bool      `json:"holiday_opt_out"`
	CreatedAt      time.Time `json:"created_at"`
}

// Client belongs to exactly one Agent. An empty PushAddress means the client
// cannot be notified.
type Client struct {
	ID          string `json:"id"`
	AgentID     string `json:"agent_id"`
	Name        string `json:"name"`
	DateOfBirth string `json:"date_of_birth,omitempty"` // free text, several formats
	PushAddress string `json:"push_address,omitempty"`
	AppCode     string `json:"-"`

	// Projections of the occurrence ledger, kept on the document for the
	// dashboard. The ledger is authoritative.
	BirthdayNotifiedAt int             `json:"birthday_notified_at,omitempty"`
	HolidayNotifiedAt  map[string]bool `json:"holiday_notified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// FirstName returns the first word of the client's name.
func (c Client) FirstName() string {
	for i, r := range c.Name {
		if r == ' ' {
			return c.Name[:i]
		}
	}
	return c.Name
}
