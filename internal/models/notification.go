package models

import "time"

// NotificationType classifies why a NotificationRecord was sent.
type NotificationType string

const (
	NotificationMessage     NotificationType = "message"
	NotificationAnniversary NotificationType = "anniversary"
	NotificationBirthday    NotificationType = "birthday"
	NotificationHoliday     NotificationType = "holiday"
)

// DeliveryStatus is the outcome of one push attempt.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// NotificationRecord is an append-only entry for one dispatch attempt.
// Only ReadAt is ever mutated.
type NotificationRecord struct {
	ID               string           `json:"id"`
	ClientID         string           `json:"client_id"`
	AgentID          string           `json:"agent_id"`
	Type             NotificationType `json:"type"`
	Title            string           `json:"title"`
	Body             string           `json:"body"`
	Status           DeliveryStatus   `json:"status"`
	ProviderResponse string           `json:"provider_response,omitempty"`
	SentAt           time.Time        `json:"sent_at"`
	ReadAt           *time.Time       `json:"read_at"`
}
