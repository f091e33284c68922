package conservation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"touchpoint-service/internal/db"
	"touchpoint-service/internal/dispatcher"
	"touchpoint-service/internal/ledger"
	"touchpoint-service/internal/logging"
	"touchpoint-service/internal/models"
	"touchpoint-service/internal/occurrence"
)

// Sender dispatches one client push.
type Sender interface {
	Dispatch(ctx context.Context, msg dispatcher.Message) (dispatcher.Result, error)
}

// TickResult counts what one tick did.
type TickResult struct {
	Due     int `json:"due"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Scheduler fires the auto-outreach of alerts whose grace period ran out.
// The alert stays outreach_scheduled; only an agent resolves it. Each
// deadline fires at most once, guarded by the ledger and by the alert's
// OutreachFiredAt stamp.
type Scheduler struct {
	store    Store
	ledger   ledger.Ledger
	sender   Sender
	logger   *logging.Logger
	interval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewScheduler(store Store, l ledger.Ledger, sender Sender, logger *logging.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		store:    store,
		ledger:   l,
		sender:   sender,
		logger:   logger.With("run", "conservation"),
		interval: interval,
	}
}

// OutreachKey is the ledger key for the outreach armed for deadline.
func OutreachKey(deadline time.Time) occurrence.Key {
	return occurrence.Key{Kind: occurrence.KindOutreach, Value: strconv.FormatInt(deadline.Unix(), 10)}
}

// Tick fires every due outreach. Only a failure to list due alerts fails the
// tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	alerts, err := s.store.ListDueAlerts(ctx, now)
	if err != nil {
		return TickResult{}, fmt.Errorf("list due alerts: %w", err)
	}

	res := TickResult{Due: len(alerts)}
	for _, a := range alerts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		switch s.fire(ctx, a, now) {
		case models.DeliverySent:
			res.Sent++
		case models.DeliveryFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}
	if res.Due > 0 {
		s.logger.Infof("Tick finished: due=%d sent=%d failed=%d skipped=%d", res.Due, res.Sent, res.Failed, res.Skipped)
	}
	return res, nil
}

// fire returns the delivery status, or "" when nothing was dispatched.
func (s *Scheduler) fire(ctx context.Context, a models.ConservationAlert, now time.Time) models.DeliveryStatus {
	log := s.logger.With("alert_id", a.ID)
	deadline := *a.ScheduledOutreachAt
	key := OutreachKey(deadline).String()

	fired, err := s.ledger.HasFired(ctx, a.ID, key)
	if err != nil {
		log.Errorf("Ledger check failed: %v", err)
		return ""
	}
	if fired {
		s.stamp(ctx, a, now)
		return ""
	}

	var status models.DeliveryStatus
	msg, err := s.outreach(ctx, a)
	switch {
	case err != nil:
		log.Warnf("Outreach not sent: %v", err)
	default:
		res, err := s.sender.Dispatch(ctx, msg)
		if err != nil && !errors.Is(err, dispatcher.ErrNoAddress) {
			log.Errorf("Dispatch bookkeeping failed: %v", err)
		}
		status = res.Status
	}

	if err := s.ledger.MarkFired(ctx, a.ID, key); err != nil {
		log.Errorf("Mark %s failed, a later tick may resend: %v", key, err)
	}
	s.stamp(ctx, a, now)
	return status
}

func (s *Scheduler) stamp(ctx context.Context, a models.ConservationAlert, now time.Time) {
	err := s.store.MarkOutreachFired(ctx, a.ID, *a.ScheduledOutreachAt, now)
	if errors.Is(err, db.ErrStaleWrite) {
		s.logger.With("alert_id", a.ID).Infof("Alert changed while outreach fired, stamp skipped")
		return
	}
	if err != nil {
		s.logger.With("alert_id", a.ID).Errorf("Failed to stamp outreach: %v", err)
	}
}

// outreach builds the client message. It fails when the alert has no client
// that can be reached.
func (s *Scheduler) outreach(ctx context.Context, a models.ConservationAlert) (dispatcher.Message, error) {
	if a.ClientID == "" {
		return dispatcher.Message{}, errors.New("alert has no linked client")
	}
	client, err := s.store.GetClient(ctx, a.ClientID)
	if err != nil {
		return dispatcher.Message{}, fmt.Errorf("client %s: %w", a.ClientID, err)
	}
	if client.PushAddress == "" {
		return dispatcher.Message{}, dispatcher.ErrNoAddress
	}
	agent, err := s.store.GetAgent(ctx, a.AgentID)
	if err != nil {
		return dispatcher.Message{}, fmt.Errorf("agent %s: %w", a.AgentID, err)
	}

	subject := "your coverage"
	if a.PolicyID != "" {
		if p, err := s.store.GetPolicy(ctx, a.PolicyID); err == nil {
			subject = "your " + p.Label()
		}
	}
	body := fmt.Sprintf("Hi %s, %s wanted to check in about %s. Tap to set up a quick call.", client.FirstName(), agent.Name, subject)
	if agent.SchedulingURL != "" {
		body = fmt.Sprintf("Hi %s, %s wanted to check in about %s. Book a time: %s", client.FirstName(), agent.Name, subject, agent.SchedulingURL)
	}

	data := map[string]string{"alertId": a.ID}
	if a.PolicyID != "" {
		data["policyId"] = a.PolicyID
	}
	return dispatcher.Message{
		AgentID:  a.AgentID,
		ClientID: client.ID,
		Address:  client.PushAddress,
		Type:     models.NotificationMessage,
		Title:    "A quick check-in from " + agent.Name,
		Body:     body,
		Data:     data,
	}, nil
}

// Start runs Tick every interval until Stop. A zero interval does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.interval <= 0 || s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker.C, s.stop)
	s.logger.Infof("Ticker started with interval %v", s.interval)
}

// Stop halts the ticker and waits for an in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.logger.Infof("Ticker stopped")
}

func (s *Scheduler) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-tick:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			if _, err := s.Tick(ctx, time.Now()); err != nil {
				s.logger.Errorf("Tick failed: %v", err)
			}
			cancel()
		case <-stop:
			return
		}
	}
}
