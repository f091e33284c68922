package occurrence

import (
	"context"
	"fmt"
	"time"

	"touchpoint-service/internal/models"
)

// Channel is where a due occurrence is delivered.
type Channel int

const (
	// ChannelClientPush goes through the notification dispatcher.
	ChannelClientPush Channel = iota
	// ChannelAgentDigest is collected into one message to the agent per run.
	ChannelAgentDigest
)

// Target is one client in an agent's book, with policies loaded when the
// resolver asks for them.
type Target struct {
	Agent    models.Agent
	Client   models.Client
	Policies []models.Policy
}

// Occurrence is a date-matched touchpoint for one entity. Due is false when
// the ledger already holds its key.
type Occurrence struct {
	Resolution
	EntityID string
	Channel  Channel
	Type     models.NotificationType
	Title    string
	Body     string
	Data     map[string]string
	Policy   *models.Policy
}

// Resolver evaluates one touchpoint type for a target.
type Resolver interface {
	Type() models.NotificationType
	NeedsPolicies() bool
	Resolve(ctx context.Context, ledger Checker, t Target, now time.Time) ([]Occurrence, error)
}

// BirthdayResolver sends a birthday greeting.
type BirthdayResolver struct{}

func (BirthdayResolver) Type() models.NotificationType { return models.NotificationBirthday }
func (BirthdayResolver) NeedsPolicies() bool           { return false }

func (BirthdayResolver) Resolve(ctx context.Context, ledger Checker, t Target, now time.Time) ([]Occurrence, error) {
	r, err := Birthday(ctx, ledger, t.Client, now)
	if err != nil {
		return nil, err
	}
	if r.Key == (Key{}) {
		return nil, nil
	}
	return []Occurrence{{
		Resolution: r,
		EntityID:   t.Client.ID,
		Channel:    ChannelClientPush,
		Type:       models.NotificationBirthday,
		Title:      fmt.Sprintf("Happy Birthday, %s!", t.Client.FirstName()),
		Body:       fmt.Sprintf("Wishing you a wonderful year ahead. Warm regards from %s.", signature(t.Agent)),
		Data:       map[string]string{"year": r.Key.Value},
	}}, nil
}

// HolidayResolver sends holiday greetings unless the agent opted out.
type HolidayResolver struct{}

func (HolidayResolver) Type() models.NotificationType { return models.NotificationHoliday }
func (HolidayResolver) NeedsPolicies() bool           { return false }

func (HolidayResolver) Resolve(ctx context.Context, ledger Checker, t Target, now time.Time) ([]Occurrence, error) {
	if t.Agent.HolidayOptOut {
		return nil, nil
	}
	r, h, err := Holiday(ctx, ledger, t.Client, now)
	if err != nil {
		return nil, err
	}
	if h.ID == "" {
		return nil, nil
	}
	return []Occurrence{{
		Resolution: r,
		EntityID:   t.Client.ID,
		Channel:    ChannelClientPush,
		Type:       models.NotificationHoliday,
		Title:      h.Title,
		Body:       fmt.Sprintf(h.Body, t.Client.FirstName(), signature(t.Agent)),
		Data:       map[string]string{"holiday": h.ID},
	}}, nil
}

// AnniversaryResolver tells the agent about upcoming policy anniversaries and
// pushes the client once per anniversary year.
type AnniversaryResolver struct {
	WindowDays int
}

func (AnniversaryResolver) Type() models.NotificationType { return models.NotificationAnniversary }
func (AnniversaryResolver) NeedsPolicies() bool           { return true }

func (a AnniversaryResolver) Resolve(ctx context.Context, ledger Checker, t Target, now time.Time) ([]Occurrence, error) {
	var out []Occurrence
	for i := range t.Policies {
		p := t.Policies[i]
		agentGate, err := AnniversaryAgent(ctx, ledger, p, now, a.WindowDays)
		if err != nil {
			return nil, err
		}
		if agentGate.Key == (Key{}) {
			continue
		}
		out = append(out, Occurrence{
			Resolution: agentGate,
			EntityID:   p.ID,
			Channel:    ChannelAgentDigest,
			Type:       models.NotificationAnniversary,
			Title:      fmt.Sprintf("%s: %s anniversary", t.Client.Name, p.Label()),
			Body:       fmt.Sprintf("%s's %s reaches its anniversary in %d days.", t.Client.Name, p.Label(), agentGate.DaysUntil),
			Policy:     &p,
		})

		clientGate, err := AnniversaryClient(ctx, ledger, t.Client, p, agentGate)
		if err != nil {
			return nil, err
		}
		if clientGate.Key == (Key{}) {
			continue
		}
		data := map[string]string{"policyId": p.ID}
		if t.Agent.SchedulingURL != "" {
			data["schedulingUrl"] = t.Agent.SchedulingURL
		}
		out = append(out, Occurrence{
			Resolution: clientGate,
			EntityID:   p.ID,
			Channel:    ChannelClientPush,
			Type:       models.NotificationAnniversary,
			Title:      "Your policy anniversary is coming up",
			Body: fmt.Sprintf("Your %s renews in %d days, %s. Tap to book a quick coverage review with %s.",
				p.Label(), clientGate.DaysUntil, t.Client.FirstName(), signature(t.Agent)),
			Data:   data,
			Policy: &p,
		})
	}
	return out, nil
}

func signature(a models.Agent) string {
	switch {
	case a.Name != "" && a.AgencyName != "":
		return a.Name + " at " + a.AgencyName
	case a.Name != "":
		return a.Name
	case a.AgencyName != "":
		return a.AgencyName
	}
	return "your agent"
}
