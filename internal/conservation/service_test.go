package conservation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"touchpoint-service/internal/db"
	"touchpoint-service/internal/logging"
	"touchpoint-service/internal/memstore"
	"touchpoint-service/internal/models"
)

type fakeChat struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeChat) Send(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

type fixture struct {
	store  *memstore.Store
	svc    *Service
	chat   *fakeChat
	clock  time.Time
	agent  models.Agent
	client models.Client
	policy models.Policy
}

func newFixture(t *testing.T, autoArm bool) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memstore.New(), chat: &fakeChat{}, clock: t0}

	f.agent = models.Agent{Name: "Dana Reyes", TelegramChatID: 42}
	require.NoError(t, f.store.CreateAgent(ctx, &f.agent))
	f.client = models.Client{AgentID: f.agent.ID, Name: "Sam Lee", PushAddress: "ExponentPushToken[sam]"}
	require.NoError(t, f.store.CreateClient(ctx, &f.client))
	f.policy = models.Policy{ClientID: f.client.ID, AgentID: f.agent.ID, Carrier: "Acme", PolicyType: "Term Life"}
	require.NoError(t, f.store.CreatePolicy(ctx, &f.policy))

	f.svc = NewService(f.store, f.chat, logging.NewNop(), 24*time.Hour, autoArm)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) ingest(t *testing.T) models.ConservationAlert {
	t.Helper()
	a, err := f.svc.Ingest(context.Background(), models.LapseNotice{
		AgentID:  f.agent.ID,
		ClientID: f.client.ID,
		PolicyID: f.policy.ID,
		Reason:   "missed premium",
	})
	require.NoError(t, err)
	return a
}

func TestIngestAutoArms(t *testing.T) {
	f := newFixture(t, true)
	a := f.ingest(t)

	assert.Equal(t, models.AlertOutreachScheduled, a.Status)
	assert.Equal(t, "Sam Lee", a.ClientName)
	require.NotNil(t, a.ScheduledOutreachAt)
	assert.Equal(t, t0.Add(24*time.Hour), *a.ScheduledOutreachAt)

	p, err := f.store.GetPolicy(context.Background(), f.policy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PolicyLapsed, p.Status)
	require.Len(t, f.chat.sent, 1)
	assert.Contains(t, f.chat.sent[0], "Sam Lee")
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, models.LapseNotice{})
	assert.ErrorIs(t, err, ErrInvalidNotice)

	_, err = f.svc.Ingest(ctx, models.LapseNotice{AgentID: f.agent.ID, ClientID: "missing"})
	assert.ErrorIs(t, err, db.ErrNotFound)

	a, err := f.svc.Ingest(ctx, models.LapseNotice{AgentID: f.agent.ID, ClientName: "Walk-in"})
	require.NoError(t, err)
	assert.Equal(t, models.AlertNew, a.Status)
	assert.Nil(t, a.ScheduledOutreachAt)
}

func TestArmCancelScenario(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	a := f.ingest(t)
	require.Equal(t, models.AlertNew, a.Status)

	a, err := f.svc.Arm(ctx, f.agent.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(24*time.Hour), *a.ScheduledOutreachAt)

	f.clock = t0.Add(time.Hour)
	a, err = f.svc.Cancel(ctx, f.agent.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertNew, a.Status)

	f.clock = t0
	_, err = f.svc.Arm(ctx, f.agent.ID, a.ID)
	require.NoError(t, err)
	f.clock = t0.Add(25 * time.Hour)
	_, err = f.svc.Cancel(ctx, f.agent.ID, a.ID)
	assert.ErrorIs(t, err, ErrGracePeriodExpired)

	stored, err := f.store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertOutreachScheduled, stored.Status)
}

func TestResolveSavedReactivatesPolicy(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	a := f.ingest(t)

	notes := "paid on the phone"
	got, err := f.svc.Resolve(ctx, f.agent.ID, a.ID, models.AlertSaved, &notes)
	require.NoError(t, err)
	assert.Equal(t, models.AlertSaved, got.Status)
	assert.Equal(t, notes, got.Notes)

	p, err := f.store.GetPolicy(ctx, f.policy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PolicyActive, p.Status)

	before, err := f.store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, f.agent.ID, a.ID, models.AlertLost, nil)
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	after, err := f.store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestResolveLostLeavesPolicy(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	a := f.ingest(t)

	_, err := f.svc.Resolve(ctx, f.agent.ID, a.ID, models.AlertLost, nil)
	require.NoError(t, err)

	p, err := f.store.GetPolicy(ctx, f.policy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PolicyLapsed, p.Status)
}

func TestOtherAgentCannotSeeAlert(t *testing.T) {
	f := newFixture(t, true)
	a := f.ingest(t)

	_, err := f.svc.Cancel(context.Background(), "someone-else", a.ID)
	assert.ErrorIs(t, err, ErrAlertNotFound)
	_, err = f.svc.Resolve(context.Background(), f.agent.ID, "missing", models.AlertLost, nil)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestUpdateNotesOnTerminalAlert(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	a := f.ingest(t)
	_, err := f.svc.Resolve(ctx, f.agent.ID, a.ID, models.AlertLost, nil)
	require.NoError(t, err)

	got, err := f.svc.UpdateNotes(ctx, f.agent.ID, a.ID, "moved carriers")
	require.NoError(t, err)
	assert.Equal(t, "moved carriers", got.Notes)
	assert.Equal(t, models.AlertLost, got.Status)
}

func TestIngestFillsClientFromPolicy(t *testing.T) {
	f := newFixture(t, true)
	a, err := f.svc.Ingest(context.Background(), models.LapseNotice{
		AgentID:  f.agent.ID,
		PolicyID: f.policy.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, f.client.ID, a.ClientID)
	assert.Equal(t, "Sam Lee", a.ClientName)
}

// firingStore stamps the outreach between the service's read and its write,
// the way a concurrent tick would.
type firingStore struct {
	*memstore.Store
	at    time.Time
	fired bool
}

func (s *firingStore) UpdateAlert(ctx context.Context, next, prev models.ConservationAlert) error {
	if !s.fired && prev.ScheduledOutreachAt != nil {
		s.fired = true
		if err := s.Store.MarkOutreachFired(ctx, prev.ID, *prev.ScheduledOutreachAt, s.at); err != nil {
			return err
		}
	}
	return s.Store.UpdateAlert(ctx, next, prev)
}

func TestCancelLosesToConcurrentOutreach(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	a := f.ingest(t)
	require.Equal(t, models.AlertOutreachScheduled, a.Status)

	store := &firingStore{Store: f.store, at: t0.Add(24 * time.Hour)}
	svc := NewService(store, nil, logging.NewNop(), 24*time.Hour, true)
	svc.now = func() time.Time { return t0.Add(23 * time.Hour) }

	_, err := svc.Cancel(ctx, f.agent.ID, a.ID)
	assert.ErrorIs(t, err, ErrGracePeriodExpired)

	got, err := f.store.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertOutreachScheduled, got.Status)
	assert.NotNil(t, got.OutreachFiredAt)

	// The agent can still close the alert after the outreach went out.
	got, err = svc.Resolve(ctx, f.agent.ID, a.ID, models.AlertSaved, nil)
	require.NoError(t, err)
	assert.Equal(t, models.AlertSaved, got.Status)
}
