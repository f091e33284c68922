package models

import "time"

// LapseNotice is an inbound signal that a policy lapsed or was canceled.
// It arrives either from the agent dashboard or from the carrier feed topic.
type LapseNotice struct {
	AgentID    string    `json:"agent_id"`
	ClientID   string    `json:"client_id,omitempty"`
	PolicyID   string    `json:"policy_id,omitempty"`
	ClientName string    `json:"client_name,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}
