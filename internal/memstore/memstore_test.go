package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"touchpoint-service/internal/db"
	"touchpoint-service/internal/models"
)

func TestUpdateAlertIsConditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := models.ConservationAlert{AgentID: "agent", Status: models.AlertNew}
	require.NoError(t, s.CreateAlert(ctx, &a))

	next := a
	next.Status = models.AlertLost
	require.NoError(t, s.UpdateAlert(ctx, next, a))

	next.Status = models.AlertSaved
	assert.ErrorIs(t, s.UpdateAlert(ctx, next, a), db.ErrStaleWrite)

	got, err := s.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertLost, got.Status)

	assert.ErrorIs(t, s.UpdateAlert(ctx, models.ConservationAlert{ID: "nope"}, models.ConservationAlert{Status: models.AlertNew}), db.ErrNotFound)
}

func TestUpdateAlertRejectsAfterOutreachFired(t *testing.T) {
	s := New()
	ctx := context.Background()
	deadline := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	a := models.ConservationAlert{AgentID: "agent", Status: models.AlertOutreachScheduled, ScheduledOutreachAt: &deadline}
	require.NoError(t, s.CreateAlert(ctx, &a))

	read, err := s.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, s.MarkOutreachFired(ctx, a.ID, deadline, deadline.Add(time.Minute)))

	canceled := read
	canceled.Status = models.AlertNew
	canceled.ScheduledOutreachAt = nil
	assert.ErrorIs(t, s.UpdateAlert(ctx, canceled, read), db.ErrStaleWrite)

	// A write based on the fired state still goes through.
	fired, err := s.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	resolved := fired
	resolved.Status = models.AlertSaved
	require.NoError(t, s.UpdateAlert(ctx, resolved, fired))
}

func TestMarkNotificationReadKeepsFirstTimestamp(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateNotification(ctx, models.NotificationRecord{ID: "n1", ClientID: "c1"}))

	first := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	got, err := s.MarkNotificationRead(ctx, "n1", first)
	require.NoError(t, err)
	require.NotNil(t, got.ReadAt)

	got, err = s.MarkNotificationRead(ctx, "n1", first.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first, *got.ReadAt)

	_, err = s.MarkNotificationRead(ctx, "n2", first)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestListNotificationsByClientPages(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateNotification(ctx, models.NotificationRecord{ID: id, ClientID: "c1", SentAt: base.Add(time.Duration(i) * time.Hour)}))
	}
	require.NoError(t, s.CreateNotification(ctx, models.NotificationRecord{ID: "x", ClientID: "c2", SentAt: base}))

	page, total, err := s.ListNotificationsByClient(ctx, "c1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)

	page, _, err = s.ListNotificationsByClient(ctx, "c1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)
}

func TestListDueAlerts(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Minute), now.Add(time.Minute)

	due := models.ConservationAlert{Status: models.AlertOutreachScheduled, ScheduledOutreachAt: &past}
	notYet := models.ConservationAlert{Status: models.AlertOutreachScheduled, ScheduledOutreachAt: &future}
	fired := models.ConservationAlert{Status: models.AlertOutreachScheduled, ScheduledOutreachAt: &past, OutreachFiredAt: &past}
	closed := models.ConservationAlert{Status: models.AlertSaved, ScheduledOutreachAt: &past}
	for _, a := range []*models.ConservationAlert{&due, &notYet, &fired, &closed} {
		require.NoError(t, s.CreateAlert(ctx, a))
	}

	list, err := s.ListDueAlerts(ctx, now)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due.ID, list[0].ID)
}
