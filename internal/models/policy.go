package models

import "time"

// PolicyStatus is the carrier-side state of a policy.
type PolicyStatus string

const (
	PolicyActive  PolicyStatus = "Active"
	PolicyPending PolicyStatus = "Pending"
	PolicyLapsed  PolicyStatus = "Lapsed"
)

// Valid reports whether s is a known policy status.
func (s PolicyStatus) Valid() bool {
	switch s {
	case PolicyActive, PolicyPending, PolicyLapsed:
		return true
	}
	return false
}

// Policy belongs to exactly one Client. CreatedAt anchors the anniversary.
type Policy struct {
	ID           string       `json:"id"`
	ClientID     string       `json:"client_id"`
	AgentID      string       `json:"agent_id"`
	Carrier      string       `json:"carrier,omitempty"`
	PolicyNumber string       `json:"policy_number,omitempty"`
	PolicyType   string       `json:"policy_type,omitempty"`
	Status       PolicyStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`

	AnniversaryAgentNotifiedAt  *time.Time `json:"anniversary_agent_notified_at,omitempty"`
	AnniversaryClientNotifiedAt *time.Time `json:"anniversary_client_notified_at,omitempty"`
}

// Label is a short human description used in messages.
func (p Policy) Label() string {
	switch {
	case p.PolicyType != "" && p.Carrier != "":
		return p.Carrier + " " + p.PolicyType
	case p.PolicyType != "":
		return p.PolicyType
	case p.Carrier != "":
		return p.Carrier + " policy"
	}
	return "policy"
}
