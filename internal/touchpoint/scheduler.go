// Package touchpoint runs the daily birthday, holiday and anniversary
// batches over every agent's book of clients.
package touchpoint

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"touchpoint-service/internal/dispatcher"
	"touchpoint-service/internal/ledger"
	"touchpoint-service/internal/logging"
	"touchpoint-service/internal/models"
	"touchpoint-service/internal/occurrence"
)

// Store is the read side the traversal needs.
type Store interface {
	ListAgents(ctx context.Context) ([]models.Agent, error)
	ListClientsByAgent(ctx context.Context, agentID string) ([]models.Client, error)
	ListPoliciesByClient(ctx context.Context, clientID string) ([]models.Policy, error)
}

// Sender dispatches one client push.
type Sender interface {
	Dispatch(ctx context.Context, msg dispatcher.Message) (dispatcher.Result, error)
}

// DigestSender delivers the per-run summary to an agent. Delivery on this
// channel is not guarded by the ledger beyond the per-policy agent marker.
type DigestSender interface {
	SendDigest(ctx context.Context, agent models.Agent, kind models.NotificationType, items []occurrence.Occurrence) error
}

// RunResult counts what one run did.
type RunResult struct {
	Type          models.NotificationType `json:"type"`
	Sent          int                     `json:"sent"`
	Failed        int                     `json:"failed"`
	Skipped       int                     `json:"skipped"`
	AgentNotified int                     `json:"agentNotified"`
	AgentErrors   int                     `json:"agentErrors"`
}

type counters struct {
	sent, failed, skipped, agentNotified, agentErrors atomic.Int64
}

// Scheduler runs one Resolver over all agents and clients.
type Scheduler struct {
	resolver    occurrence.Resolver
	store       Store
	ledger      ledger.Ledger
	sender      Sender
	digest      DigestSender
	logger      *logging.Logger
	concurrency int
}

// New builds a Scheduler. digest may be nil when the resolver never yields
// agent digest occurrences.
func New(resolver occurrence.Resolver, store Store, l ledger.Ledger, sender Sender, digest DigestSender, logger *logging.Logger, concurrency int) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		resolver:    resolver,
		store:       store,
		ledger:      l,
		sender:      sender,
		digest:      digest,
		logger:      logger.With("run", string(resolver.Type())),
		concurrency: concurrency,
	}
}

// Type is the touchpoint type this scheduler runs.
func (s *Scheduler) Type() models.NotificationType { return s.resolver.Type() }

// Run performs one full traversal for now. Only a failure to list agents
// fails the run; anything that goes wrong for a single agent or client is
// logged and the traversal moves on.
func (s *Scheduler) Run(ctx context.Context, now time.Time) (RunResult, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return RunResult{Type: s.Type()}, fmt.Errorf("list agents: %w", err)
	}

	var c counters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, agent := range agents {
		agent := agent
		g.Go(func() error {
			if err := s.runAgent(gctx, agent, now, &c); err != nil {
				c.agentErrors.Add(1)
				s.logger.With("agent_id", agent.ID).Errorf("Agent skipped: %v", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := RunResult{
		Type:          s.Type(),
		Sent:          int(c.sent.Load()),
		Failed:        int(c.failed.Load()),
		Skipped:       int(c.skipped.Load()),
		AgentNotified: int(c.agentNotified.Load()),
		AgentErrors:   int(c.agentErrors.Load()),
	}
	s.logger.Infof("Run finished: agents=%d sent=%d failed=%d skipped=%d agent_notified=%d agent_errors=%d",
		len(agents), res.Sent, res.Failed, res.Skipped, res.AgentNotified, res.AgentErrors)
	return res, ctx.Err()
}

func (s *Scheduler) runAgent(ctx context.Context, agent models.Agent, now time.Time, c *counters) error {
	clients, err := s.store.ListClientsByAgent(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("list clients: %w", err)
	}
	log := s.logger.With("agent_id", agent.ID)

	var digest []occurrence.Occurrence
	for _, client := range clients {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := occurrence.Target{Agent: agent, Client: client}
		if s.resolver.NeedsPolicies() {
			policies, err := s.store.ListPoliciesByClient(ctx, client.ID)
			if err != nil {
				log.With("client_id", client.ID).Errorf("List policies failed: %v", err)
				continue
			}
			target.Policies = policies
		}

		occs, err := s.resolver.Resolve(ctx, s.ledger, target, now)
		if err != nil {
			log.With("client_id", client.ID).Errorf("Resolve failed: %v", err)
			continue
		}

		for _, occ := range occs {
			if !occ.Due {
				c.skipped.Add(1)
				continue
			}
			switch occ.Channel {
			case occurrence.ChannelAgentDigest:
				digest = append(digest, occ)
			case occurrence.ChannelClientPush:
				s.push(ctx, agent, client, occ, c)
			}
		}
	}

	if len(digest) > 0 {
		s.notifyAgent(ctx, agent, digest, c)
	}
	return nil
}

// push dispatches one client occurrence and marks it whatever the delivery
// outcome, so a stale token is not retried on every run.
func (s *Scheduler) push(ctx context.Context, agent models.Agent, client models.Client, occ occurrence.Occurrence, c *counters) {
	log := s.logger.With("agent_id", agent.ID).With("client_id", client.ID)
	if client.PushAddress == "" {
		c.skipped.Add(1)
		return
	}

	res, err := s.sender.Dispatch(ctx, dispatcher.Message{
		AgentID:  agent.ID,
		ClientID: client.ID,
		Address:  client.PushAddress,
		Type:     occ.Type,
		Title:    occ.Title,
		Body:     occ.Body,
		Data:     occ.Data,
	})
	if errors.Is(err, dispatcher.ErrNoAddress) {
		c.skipped.Add(1)
		return
	}
	if err != nil {
		log.Errorf("Dispatch bookkeeping failed for %s: %v", occ.Key, err)
	}
	if res.Status == models.DeliverySent {
		c.sent.Add(1)
	} else {
		c.failed.Add(1)
	}

	if err := s.ledger.MarkFired(ctx, occ.EntityID, occ.Key.String()); err != nil {
		log.Errorf("Mark %s on %s failed, a rerun may resend: %v", occ.Key, occ.EntityID, err)
	}
}

func (s *Scheduler) notifyAgent(ctx context.Context, agent models.Agent, items []occurrence.Occurrence, c *counters) {
	log := s.logger.With("agent_id", agent.ID)
	if s.digest != nil {
		if err := s.digest.SendDigest(ctx, agent, s.Type(), items); err != nil {
			log.Warnf("Agent digest delivery failed: %v", err)
		}
	}
	for _, occ := range items {
		if err := s.ledger.MarkFired(ctx, occ.EntityID, occ.Key.String()); err != nil {
			log.Errorf("Mark %s on %s failed, a rerun may resend: %v", occ.Key, occ.EntityID, err)
			continue
		}
		c.agentNotified.Add(1)
	}
}
