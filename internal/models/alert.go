package models

import "time"

// AlertStatus is the lifecycle state of a ConservationAlert. Transitions are
// owned by the conservation package.
type AlertStatus string

const (
	AlertNew               AlertStatus = "new"
	AlertOutreachScheduled AlertStatus = "outreach_scheduled"
	AlertSaved             AlertStatus = "saved"
	AlertLost              AlertStatus = "lost"
)

// Terminal reports whether no further status change is allowed.
func (s AlertStatus) Terminal() bool {
	return s == AlertSaved || s == AlertLost
}

// Valid reports whether s is one of the four known states.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertNew, AlertOutreachScheduled, AlertSaved, AlertLost:
		return true
	}
	return false
}

// ConservationAlert tracks a rescue case for a lapsed or canceled policy.
// ClientID and PolicyID are empty when the lapse notice could not be matched.
type ConservationAlert struct {
	ID                  string      `json:"id"`
	AgentID             string      `json:"agent_id"`
	ClientID            string      `json:"client_id,omitempty"`
	PolicyID            string      `json:"policy_id,omitempty"`
	ClientName          string      `json:"client_name,omitempty"`
	Reason              string      `json:"reason,omitempty"`
	Status              AlertStatus `json:"status"`
	ScheduledOutreachAt *time.Time  `json:"scheduled_outreach_at"`
	OutreachFiredAt     *time.Time  `json:"outreach_fired_at,omitempty"`
	Notes               string      `json:"notes,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
	ResolvedAt          *time.Time  `json:"resolved_at,omitempty"`
}
