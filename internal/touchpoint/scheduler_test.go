package touchpoint

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"touchpoint-service/internal/dispatcher"
	"touchpoint-service/internal/ledger"
	"touchpoint-service/internal/logging"
	"touchpoint-service/internal/memstore"
	"touchpoint-service/internal/models"
	"touchpoint-service/internal/occurrence"
)

type fakeSender struct {
	mu     sync.Mutex
	msgs   []dispatcher.Message
	status models.DeliveryStatus
}

func (f *fakeSender) Dispatch(_ context.Context, msg dispatcher.Message) (dispatcher.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	status := f.status
	if status == "" {
		status = models.DeliverySent
	}
	return dispatcher.Result{Status: status}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type fakeDigest struct {
	mu    sync.Mutex
	calls map[string][]occurrence.Occurrence
	err   error
}

func (f *fakeDigest) SendDigest(_ context.Context, agent models.Agent, _ models.NotificationType, items []occurrence.Occurrence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string][]occurrence.Occurrence)
	}
	f.calls[agent.ID] = append(f.calls[agent.ID], items...)
	return f.err
}

type failingStore struct {
	*memstore.Store
	failAgent string
}

func (s failingStore) ListClientsByAgent(ctx context.Context, agentID string) ([]models.Client, error) {
	if agentID == s.failAgent {
		return nil, errors.New("connection reset")
	}
	return s.Store.ListClientsByAgent(ctx, agentID)
}

func seed(t *testing.T, store *memstore.Store, agentName string, clients ...models.Client) models.Agent {
	t.Helper()
	ctx := context.Background()
	agent := models.Agent{Name: agentName, Email: "agent@example.com"}
	require.NoError(t, store.CreateAgent(ctx, &agent))
	for i := range clients {
		clients[i].AgentID = agent.ID
		require.NoError(t, store.CreateClient(ctx, &clients[i]))
	}
	return agent
}

func TestBirthdayRunDispatchesOncePerDay(t *testing.T) {
	store := memstore.New()
	seed(t, store, "Dana",
		models.Client{Name: "Sam Lee", DateOfBirth: "1990-06-15", PushAddress: "tok-sam"},
		models.Client{Name: "Ana Ruiz", DateOfBirth: "06/15/1985"},
		models.Client{Name: "Bo Kim", DateOfBirth: "1979-01-02", PushAddress: "tok-bo"},
	)
	sender := &fakeSender{}
	l := ledger.NewMemory()
	s := New(occurrence.BirthdayResolver{}, store, l, sender, nil, logging.NewNop(), 2)

	morning := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)
	res, err := s.Run(context.Background(), morning)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, models.NotificationBirthday, res.Type)
	require.Equal(t, 1, sender.count())
	assert.Equal(t, "Happy Birthday, Sam!", sender.msgs[0].Title)

	res, err = s.Run(context.Background(), morning.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, sender.count())
}

func TestFailedDispatchStillConsumesOccurrence(t *testing.T) {
	store := memstore.New()
	seed(t, store, "Dana", models.Client{Name: "Sam Lee", PushAddress: "stale-token"})
	sender := &fakeSender{status: models.DeliveryFailed}
	s := New(occurrence.HolidayResolver{}, store, ledger.NewMemory(), sender, nil, logging.NewNop(), 1)

	christmas := time.Date(2025, 12, 25, 9, 0, 0, 0, time.UTC)
	res, err := s.Run(context.Background(), christmas)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	res, err = s.Run(context.Background(), christmas)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, sender.count())
}

func TestHolidayOptOutAgentIsSkipped(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	agent := models.Agent{Name: "Quiet", HolidayOptOut: true}
	require.NoError(t, store.CreateAgent(ctx, &agent))
	require.NoError(t, store.CreateClient(ctx, &models.Client{AgentID: agent.ID, Name: "X", PushAddress: "tok"}))
	sender := &fakeSender{}
	s := New(occurrence.HolidayResolver{}, store, ledger.NewMemory(), sender, nil, logging.NewNop(), 1)

	_, err := s.Run(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, sender.count())
}

func TestAnniversaryRunIsIdempotent(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	agent := seed(t, store, "Dana",
		models.Client{Name: "Sam Lee", PushAddress: "tok-sam"},
		models.Client{Name: "Ana Ruiz"},
	)
	clients, err := store.ListClientsByAgent(ctx, agent.ID)
	require.NoError(t, err)
	created := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	var policies []models.Policy
	for _, c := range clients {
		p := models.Policy{ClientID: c.ID, AgentID: agent.ID, Carrier: "Acme", CreatedAt: created}
		require.NoError(t, store.CreatePolicy(ctx, &p))
		policies = append(policies, p)
	}

	sender := &fakeSender{}
	digest := &fakeDigest{}
	l := ledger.NewMemory()
	s := New(occurrence.AnniversaryResolver{WindowDays: 30}, store, l, sender, digest, logging.NewNop(), 4)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := s.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 2, res.AgentNotified)
	require.Len(t, digest.calls[agent.ID], 2)
	assert.Equal(t, 14, digest.calls[agent.ID][0].DaysUntil)

	for _, p := range policies {
		fired, err := l.HasFired(ctx, p.ID, "anniversary_agent:2025")
		require.NoError(t, err)
		assert.True(t, fired)
	}

	res, err = s.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 0, res.AgentNotified)
	assert.Equal(t, 1, sender.count())
	assert.Len(t, digest.calls[agent.ID], 2)
}

func TestDigestFailureStillMarksAgent(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	agent := seed(t, store, "Dana", models.Client{Name: "Ana Ruiz"})
	clients, err := store.ListClientsByAgent(ctx, agent.ID)
	require.NoError(t, err)
	p := models.Policy{ClientID: clients[0].ID, AgentID: agent.ID, CreatedAt: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, store.CreatePolicy(ctx, &p))

	digest := &fakeDigest{err: errors.New("smtp down")}
	l := ledger.NewMemory()
	s := New(occurrence.AnniversaryResolver{WindowDays: 30}, store, l, &fakeSender{}, digest, logging.NewNop(), 1)

	res, err := s.Run(ctx, time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, res.AgentNotified)
	assert.Equal(t, 1, l.Len())
}

func TestOneAgentFailureDoesNotStopRun(t *testing.T) {
	mem := memstore.New()
	broken := seed(t, mem, "Broken", models.Client{Name: "Lost Client", DateOfBirth: "1990-06-15", PushAddress: "tok-1"})
	seed(t, mem, "Fine", models.Client{Name: "Sam Lee", DateOfBirth: "1990-06-15", PushAddress: "tok-2"})

	sender := &fakeSender{}
	s := New(occurrence.BirthdayResolver{}, failingStore{Store: mem, failAgent: broken.ID}, ledger.NewMemory(), sender, nil, logging.NewNop(), 2)

	res, err := s.Run(context.Background(), time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.AgentErrors)
	require.Equal(t, 1, sender.count())
	assert.Equal(t, "tok-2", sender.msgs[0].Address)
}

func TestFormatDigest(t *testing.T) {
	agent := models.Agent{Name: "Dana", SchedulingURL: "https://cal.example.com/dana"}
	items := []occurrence.Occurrence{
		{Resolution: occurrence.Resolution{DaysUntil: 20}, Body: "later"},
		{Resolution: occurrence.Resolution{DaysUntil: 3}, Body: "sooner"},
	}
	subject, body := FormatDigest(agent, models.NotificationAnniversary, items)
	assert.Equal(t, "2 upcoming anniversary reminders", subject)
	assert.Less(t, strings.Index(body, "sooner"), strings.Index(body, "later"))
	assert.Contains(t, body, agent.SchedulingURL)
}

