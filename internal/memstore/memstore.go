// Package memstore is an in-process implementation of the document store.
// It backs DB_DSN=memory and the package tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"touchpoint-service/internal/db"
	"touchpoint-service/internal/models"
)

type Store struct {
	mu            sync.RWMutex
	agents        map[string]models.Agent
	clients       map[string]models.Client
	policies      map[string]models.Policy
	notifications map[string]models.NotificationRecord
	alerts        map[string]models.ConservationAlert
	now           func() time.Time
}

func New() *Store {
	return &Store{
		agents:        make(map[string]models.Agent),
		clients:       make(map[string]models.Client),
		policies:      make(map[string]models.Policy),
		notifications: make(map[string]models.NotificationRecord),
		alerts:        make(map[string]models.ConservationAlert),
		now:           time.Now,
	}
}

func (s *Store) CreateAgent(_ context.Context, a *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.agents[a.ID] = *a
	return nil
}

func (s *Store) ListAgents(_ context.Context) ([]models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetAgent(_ context.Context, id string) (models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return models.Agent{}, db.ErrNotFound
	}
	return a, nil
}

func (s *Store) CreateClient(_ context.Context, c *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.clients[c.ID] = cloneClient(*c)
	return nil
}

func (s *Store) ListClientsByAgent(_ context.Context, agentID string) ([]models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Client
	for _, c := range s.clients {
		if c.AgentID == agentID {
			out = append(out, cloneClient(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetClient(_ context.Context, id string) (models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return models.Client{}, db.ErrNotFound
	}
	return cloneClient(c), nil
}

func (s *Store) GetClientByAppCode(_ context.Context, code string) (models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.AppCode != "" && c.AppCode == code {
			return cloneClient(c), nil
		}
	}
	return models.Client{}, db.ErrNotFound
}

func (s *Store) SetClientPushAddress(_ context.Context, clientID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return db.ErrNotFound
	}
	c.PushAddress = address
	s.clients[clientID] = c
	return nil
}

func (s *Store) CreatePolicy(_ context.Context, p *models.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.PolicyActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	p.UpdatedAt = p.CreatedAt
	s.policies[p.ID] = *p
	return nil
}

func (s *Store) ListPoliciesByClient(_ context.Context, clientID string) ([]models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Policy
	for _, p := range s.policies {
		if p.ClientID == clientID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetPolicy(_ context.Context, id string) (models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return models.Policy{}, db.ErrNotFound
	}
	return p, nil
}

func (s *Store) UpdatePolicyStatus(_ context.Context, id string, status models.PolicyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[id]
	if !ok {
		return db.ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = s.now()
	s.policies[id] = p
	return nil
}

func (s *Store) CreateNotification(_ context.Context, n models.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = n
	return nil
}

func (s *Store) ListNotificationsByClient(_ context.Context, clientID string, limit, offset int) ([]models.NotificationRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []models.NotificationRecord
	for _, n := range s.notifications {
		if n.ClientID == clientID {
			all = append(all, n)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SentAt.After(all[j].SentAt) })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Store) GetNotification(_ context.Context, id string) (models.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return models.NotificationRecord{}, db.ErrNotFound
	}
	return n, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string, at time.Time) (models.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return models.NotificationRecord{}, db.ErrNotFound
	}
	if n.ReadAt == nil {
		n.ReadAt = &at
		s.notifications[id] = n
	}
	return n, nil
}

func (s *Store) CreateAlert(_ context.Context, a *models.ConservationAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.alerts[a.ID] = *a
	return nil
}

func (s *Store) GetAlert(_ context.Context, id string) (models.ConservationAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return models.ConservationAlert{}, db.ErrNotFound
	}
	return a, nil
}

func (s *Store) UpdateAlert(_ context.Context, a, prev models.ConservationAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.alerts[a.ID]
	if !ok {
		return db.ErrNotFound
	}
	if cur.Status != prev.Status || !sameStamp(cur.OutreachFiredAt, prev.OutreachFiredAt) {
		return db.ErrStaleWrite
	}
	cur.Status = a.Status
	cur.ScheduledOutreachAt = a.ScheduledOutreachAt
	cur.OutreachFiredAt = a.OutreachFiredAt
	cur.Notes = a.Notes
	cur.UpdatedAt = a.UpdatedAt
	cur.ResolvedAt = a.ResolvedAt
	s.alerts[a.ID] = cur
	return nil
}

func (s *Store) UpdateAlertNotes(_ context.Context, id, notes string, at time.Time) (models.ConservationAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return models.ConservationAlert{}, db.ErrNotFound
	}
	a.Notes = notes
	a.UpdatedAt = at
	s.alerts[id] = a
	return a, nil
}

func (s *Store) MarkOutreachFired(_ context.Context, id string, scheduled, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.Status != models.AlertOutreachScheduled ||
		a.ScheduledOutreachAt == nil || !a.ScheduledOutreachAt.Equal(scheduled) {
		return db.ErrStaleWrite
	}
	a.OutreachFiredAt = &at
	a.UpdatedAt = at
	s.alerts[id] = a
	return nil
}

func (s *Store) ListDueAlerts(_ context.Context, now time.Time) ([]models.ConservationAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ConservationAlert
	for _, a := range s.alerts {
		if a.Status == models.AlertOutreachScheduled && a.OutreachFiredAt == nil &&
			a.ScheduledOutreachAt != nil && !a.ScheduledOutreachAt.After(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledOutreachAt.Before(*out[j].ScheduledOutreachAt) })
	return out, nil
}

func (s *Store) ListAlertsByAgent(_ context.Context, agentID string) ([]models.ConservationAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ConservationAlert
	for _, a := range s.alerts {
		if a.AgentID == agentID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func cloneClient(c models.Client) models.Client {
	if c.HolidayNotifiedAt != nil {
		m := make(map[string]bool, len(c.HolidayNotifiedAt))
		for k, v := range c.HolidayNotifiedAt {
			m[k] = v
		}
		c.HolidayNotifiedAt = m
	}
	return c
}

func sameStamp(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
