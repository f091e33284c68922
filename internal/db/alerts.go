package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"touchpoint-service/internal/models"
)

const alertColumns = `id::text, agent_id::text, COALESCE(client_id::text, ''), COALESCE(policy_id::text, ''),
	client_name, reason, status, scheduled_outreach_at, outreach_fired_at, notes, created_at, updated_at, resolved_at`

func scanAlert(row pgx.Row) (models.ConservationAlert, error) {
	var a models.ConservationAlert
	var status string
	err := row.Scan(&a.ID, &a.AgentID, &a.ClientID, &a.PolicyID, &a.ClientName, &a.Reason, &status,
		&a.ScheduledOutreachAt, &a.OutreachFiredAt, &a.Notes, &a.CreatedAt, &a.UpdatedAt, &a.ResolvedAt)
	a.Status = models.AlertStatus(status)
	return a, err
}

func scanAlerts(rows pgx.Rows) ([]models.ConservationAlert, error) {
	defer rows.Close()
	var list []models.ConservationAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// CreateAlert inserts a conservation alert, assigning an id when empty.
func (d *DB) CreateAlert(ctx context.Context, a *models.ConservationAlert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	query := `
	INSERT INTO conservation_alerts (
		id, agent_id, client_id, policy_id, client_name, reason, status,
		scheduled_outreach_at, outreach_fired_at, notes, created_at, updated_at, resolved_at
	) VALUES (
		$1, $2, NULLIF($3, '')::uuid, NULLIF($4, '')::uuid, $5, $6, $7,
		$8, $9, $10, $11, $12, $13
	)`
	_, err := d.Pool.Exec(ctx, query,
		a.ID, a.AgentID, a.ClientID, a.PolicyID, a.ClientName, a.Reason, string(a.Status),
		a.ScheduledOutreachAt, a.OutreachFiredAt, a.Notes, a.CreatedAt, a.UpdatedAt, a.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// GetAlert fetches one alert.
func (d *DB) GetAlert(ctx context.Context, id string) (models.ConservationAlert, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.ConservationAlert{}, ErrNotFound
	}
	a, err := scanAlert(d.Pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM conservation_alerts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ConservationAlert{}, ErrNotFound
	}
	if err != nil {
		return models.ConservationAlert{}, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return a, nil
}

// UpdateAlert writes the mutable fields of a only if the stored status and
// outreach stamp still equal those of prev. Otherwise ErrStaleWrite is
// returned.
func (d *DB) UpdateAlert(ctx context.Context, a, prev models.ConservationAlert) error {
	tag, err := d.Pool.Exec(ctx, `
	UPDATE conservation_alerts
	SET status = $2, scheduled_outreach_at = $3, outreach_fired_at = $4, notes = $5,
	    updated_at = $6, resolved_at = $7
	WHERE id = $1 AND status = $8 AND outreach_fired_at IS NOT DISTINCT FROM $9`,
		a.ID, string(a.Status), a.ScheduledOutreachAt, a.OutreachFiredAt, a.Notes,
		a.UpdatedAt, a.ResolvedAt, string(prev.Status), prev.OutreachFiredAt)
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := d.GetAlert(ctx, a.ID); err != nil {
			return err
		}
		return ErrStaleWrite
	}
	return nil
}

// UpdateAlertNotes replaces notes regardless of status.
func (d *DB) UpdateAlertNotes(ctx context.Context, id, notes string, at time.Time) (models.ConservationAlert, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.ConservationAlert{}, ErrNotFound
	}
	a, err := scanAlert(d.Pool.QueryRow(ctx, `
	UPDATE conservation_alerts SET notes = $2, updated_at = $3
	WHERE id = $1
	RETURNING `+alertColumns, id, notes, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ConservationAlert{}, ErrNotFound
	}
	if err != nil {
		return models.ConservationAlert{}, fmt.Errorf("failed to update alert %s notes: %w", id, err)
	}
	return a, nil
}

// MarkOutreachFired stamps the outreach as sent while the alert is still
// waiting on the same deadline.
func (d *DB) MarkOutreachFired(ctx context.Context, id string, scheduled, at time.Time) error {
	tag, err := d.Pool.Exec(ctx, `
	UPDATE conservation_alerts SET outreach_fired_at = $3, updated_at = $3
	WHERE id = $1 AND status = 'outreach_scheduled' AND scheduled_outreach_at = $2`,
		id, scheduled, at)
	if err != nil {
		return fmt.Errorf("failed to mark outreach fired for alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleWrite
	}
	return nil
}

// ListDueAlerts returns scheduled alerts whose deadline is at or before now
// and whose outreach has not fired yet.
func (d *DB) ListDueAlerts(ctx context.Context, now time.Time) ([]models.ConservationAlert, error) {
	rows, err := d.Pool.Query(ctx, `
	SELECT `+alertColumns+`
	FROM conservation_alerts
	WHERE status = 'outreach_scheduled' AND outreach_fired_at IS NULL AND scheduled_outreach_at <= $1
	ORDER BY scheduled_outreach_at`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due alerts: %w", err)
	}
	return scanAlerts(rows)
}

// ListAlertsByAgent returns the agent's alerts newest first.
func (d *DB) ListAlertsByAgent(ctx context.Context, agentID string) ([]models.ConservationAlert, error) {
	rows, err := d.Pool.Query(ctx, `
	SELECT `+alertColumns+`
	FROM conservation_alerts
	WHERE agent_id = $1
	ORDER BY created_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for agent %s: %w", agentID, err)
	}
	return scanAlerts(rows)
}
