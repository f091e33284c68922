package conservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"touchpoint-service/internal/db"
	"touchpoint-service/internal/logging"
	"touchpoint-service/internal/models"
	"touchpoint-service/internal/providers"
)

var (
	ErrAlertNotFound = errors.New("alert not found")
	// ErrInvalidNotice is a validation error for a lapse notice without an agent.
	ErrInvalidNotice = errors.New("lapse notice requires an agent id")
)

// Store is the persistence the conservation workflow needs.
type Store interface {
	GetAgent(ctx context.Context, id string) (models.Agent, error)
	GetClient(ctx context.Context, id string) (models.Client, error)
	GetPolicy(ctx context.Context, id string) (models.Policy, error)
	UpdatePolicyStatus(ctx context.Context, id string, status models.PolicyStatus) error

	CreateAlert(ctx context.Context, a *models.ConservationAlert) error
	GetAlert(ctx context.Context, id string) (models.ConservationAlert, error)
	UpdateAlert(ctx context.Context, next, prev models.ConservationAlert) error
	UpdateAlertNotes(ctx context.Context, id, notes string, at time.Time) (models.ConservationAlert, error)
	MarkOutreachFired(ctx context.Context, id string, scheduled, at time.Time) error
	ListDueAlerts(ctx context.Context, now time.Time) ([]models.ConservationAlert, error)
}

// Chat posts a message to an agent chat.
type Chat interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Service applies agent actions to alerts. Every transition is a read, a pure
// transition, then a write conditional on the status and outreach stamp that
// were read.
type Service struct {
	store   Store
	chat    Chat
	logger  *logging.Logger
	grace   time.Duration
	autoArm bool
	now     func() time.Time
}

// NewService builds a Service. chat may be nil.
func NewService(store Store, chat Chat, logger *logging.Logger, grace time.Duration, autoArm bool) *Service {
	return &Service{
		store:   store,
		chat:    chat,
		logger:  logger,
		grace:   grace,
		autoArm: autoArm,
		now:     time.Now,
	}
}

// Ingest opens an alert for a lapse notice, marks the linked policy Lapsed
// and arms the outreach when auto-arm is on.
func (s *Service) Ingest(ctx context.Context, n models.LapseNotice) (models.ConservationAlert, error) {
	if n.AgentID == "" {
		return models.ConservationAlert{}, ErrInvalidNotice
	}
	agent, err := s.store.GetAgent(ctx, n.AgentID)
	if err != nil {
		return models.ConservationAlert{}, fmt.Errorf("agent %s: %w", n.AgentID, err)
	}

	clientID := n.ClientID
	if n.PolicyID != "" {
		policy, err := s.store.GetPolicy(ctx, n.PolicyID)
		if err != nil {
			return models.ConservationAlert{}, fmt.Errorf("policy %s: %w", n.PolicyID, err)
		}
		if policy.AgentID != agent.ID {
			return models.ConservationAlert{}, fmt.Errorf("policy %s: %w", n.PolicyID, db.ErrNotFound)
		}
		if clientID == "" {
			clientID = policy.ClientID
		}
	}

	clientName := n.ClientName
	if clientID != "" {
		client, err := s.store.GetClient(ctx, clientID)
		if err != nil {
			return models.ConservationAlert{}, fmt.Errorf("client %s: %w", clientID, err)
		}
		if client.AgentID != agent.ID {
			return models.ConservationAlert{}, fmt.Errorf("client %s: %w", clientID, db.ErrNotFound)
		}
		if clientName == "" {
			clientName = client.Name
		}
	}

	now := s.now()
	alert := models.ConservationAlert{
		AgentID:    agent.ID,
		ClientID:   clientID,
		PolicyID:   n.PolicyID,
		ClientName: clientName,
		Reason:     n.Reason,
		Status:     models.AlertNew,
		Notes:      n.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if s.autoArm {
		if alert, err = Arm(alert, now, s.grace); err != nil {
			return models.ConservationAlert{}, err
		}
	}
	if err := s.store.CreateAlert(ctx, &alert); err != nil {
		return models.ConservationAlert{}, err
	}
	log := s.logger.With("alert_id", alert.ID).With("agent_id", agent.ID)
	log.Infof("Conservation alert opened with status %s", alert.Status)

	if n.PolicyID != "" {
		if err := s.store.UpdatePolicyStatus(ctx, n.PolicyID, models.PolicyLapsed); err != nil {
			log.Errorf("Failed to mark policy %s lapsed: %v", n.PolicyID, err)
		}
	}
	s.notifyAgent(ctx, agent, alert)
	return alert, nil
}

// Arm schedules the outreach for a new alert.
func (s *Service) Arm(ctx context.Context, agentID, alertID string) (models.ConservationAlert, error) {
	return s.transition(ctx, agentID, alertID, func(a models.ConservationAlert, now time.Time) (models.ConservationAlert, error) {
		return Arm(a, now, s.grace)
	})
}

// Cancel calls off a scheduled outreach before its deadline.
func (s *Service) Cancel(ctx context.Context, agentID, alertID string) (models.ConservationAlert, error) {
	return s.transition(ctx, agentID, alertID, Cancel)
}

// Resolve closes the alert. A saved alert puts its policy back to Active; a
// lost one leaves the policy as it is.
func (s *Service) Resolve(ctx context.Context, agentID, alertID string, status models.AlertStatus, notes *string) (models.ConservationAlert, error) {
	if !status.Terminal() {
		return models.ConservationAlert{}, ErrInvalidResolution
	}
	alert, err := s.transition(ctx, agentID, alertID, func(a models.ConservationAlert, now time.Time) (models.ConservationAlert, error) {
		return Resolve(a, status, notes, now)
	})
	if err != nil {
		return alert, err
	}
	if status == models.AlertSaved && alert.PolicyID != "" {
		if err := s.store.UpdatePolicyStatus(ctx, alert.PolicyID, models.PolicyActive); err != nil {
			s.logger.With("alert_id", alert.ID).Errorf("Alert saved but policy %s was not reactivated: %v", alert.PolicyID, err)
		}
	}
	return alert, nil
}

// UpdateNotes replaces the notes in any state, terminal ones included.
func (s *Service) UpdateNotes(ctx context.Context, agentID, alertID, notes string) (models.ConservationAlert, error) {
	if _, err := s.load(ctx, agentID, alertID); err != nil {
		return models.ConservationAlert{}, err
	}
	alert, err := s.store.UpdateAlertNotes(ctx, alertID, notes, s.now())
	if errors.Is(err, db.ErrNotFound) {
		return models.ConservationAlert{}, ErrAlertNotFound
	}
	return alert, err
}

// Get returns an alert owned by agentID.
func (s *Service) Get(ctx context.Context, agentID, alertID string) (models.ConservationAlert, error) {
	return s.load(ctx, agentID, alertID)
}

type transitionFunc func(models.ConservationAlert, time.Time) (models.ConservationAlert, error)

// transition retries once when the conditional write loses to a concurrent
// writer, so the caller sees the conflict reason for the state that won.
func (s *Service) transition(ctx context.Context, agentID, alertID string, fn transitionFunc) (models.ConservationAlert, error) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var cur, next models.ConservationAlert
		if cur, err = s.load(ctx, agentID, alertID); err != nil {
			return models.ConservationAlert{}, err
		}
		if next, err = fn(cur, s.now()); err != nil {
			return cur, err
		}
		err = s.store.UpdateAlert(ctx, next, cur)
		if errors.Is(err, db.ErrStaleWrite) {
			continue
		}
		if errors.Is(err, db.ErrNotFound) {
			return models.ConservationAlert{}, ErrAlertNotFound
		}
		if err != nil {
			return models.ConservationAlert{}, err
		}
		s.logger.With("alert_id", alertID).Infof("Alert moved %s -> %s", cur.Status, next.Status)
		return next, nil
	}
	return models.ConservationAlert{}, err
}

// load hides alerts of other agents behind ErrAlertNotFound. An empty agentID
// skips the ownership check.
func (s *Service) load(ctx context.Context, agentID, alertID string) (models.ConservationAlert, error) {
	a, err := s.store.GetAlert(ctx, alertID)
	if errors.Is(err, db.ErrNotFound) {
		return models.ConservationAlert{}, ErrAlertNotFound
	}
	if err != nil {
		return models.ConservationAlert{}, err
	}
	if agentID != "" && a.AgentID != agentID {
		return models.ConservationAlert{}, ErrAlertNotFound
	}
	return a, nil
}

func (s *Service) notifyAgent(ctx context.Context, agent models.Agent, a models.ConservationAlert) {
	if s.chat == nil || agent.TelegramChatID == 0 {
		return
	}
	body := alertSubject(a)
	if a.Reason != "" {
		body += "\nReason: " + a.Reason
	}
	if a.ScheduledOutreachAt != nil {
		body += fmt.Sprintf("\nAuto-outreach at %s UTC unless canceled.", a.ScheduledOutreachAt.UTC().Format("Jan 2 15:04"))
	}
	if err := s.chat.Send(ctx, agent.TelegramChatID, providers.FormatTelegram("Conservation alert", body)); err != nil {
		s.logger.With("alert_id", a.ID).Warnf("Telegram alert to agent failed: %v", err)
	}
}

func alertSubject(a models.ConservationAlert) string {
	if a.ClientName != "" {
		return a.ClientName + "'s policy needs attention"
	}
	return "A policy needs attention"
}
