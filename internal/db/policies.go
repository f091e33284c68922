package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"touchpoint-service/internal/models"
)

const policyColumns = `id::text, client_id::text, agent_id::text, carrier, policy_number, policy_type, status,
	created_at, updated_at, anniversary_agent_notified_at, anniversary_client_notified_at`

func scanPolicy(row pgx.Row) (models.Policy, error) {
	var p models.Policy
	var status string
	err := row.Scan(&p.ID, &p.ClientID, &p.AgentID, &p.Carrier, &p.PolicyNumber, &p.PolicyType, &status,
		&p.CreatedAt, &p.UpdatedAt, &p.AnniversaryAgentNotifiedAt, &p.AnniversaryClientNotifiedAt)
	p.Status = models.PolicyStatus(status)
	return p, err
}

// CreatePolicy inserts a policy, assigning an id when empty. A zero
// CreatedAt is filled by the database.
func (d *DB) CreatePolicy(ctx context.Context, p *models.Policy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.PolicyActive
	}
	var created interface{}
	if !p.CreatedAt.IsZero() {
		created = p.CreatedAt
	}
	err := d.Pool.QueryRow(ctx, `
	INSERT INTO policies (id, client_id, agent_id, carrier, policy_number, policy_type, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::timestamptz, NOW()))
	RETURNING created_at, updated_at`,
		p.ID, p.ClientID, p.AgentID, p.Carrier, p.PolicyNumber, p.PolicyType, string(p.Status), created,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return nil
}

// ListPoliciesByClient returns all policies of a client.
func (d *DB) ListPoliciesByClient(ctx context.Context, clientID string) ([]models.Policy, error) {
	rows, err := d.Pool.Query(ctx, `SELECT `+policyColumns+` FROM policies WHERE client_id = $1 ORDER BY created_at`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get policies by client_id %s: %w", clientID, err)
	}
	defer rows.Close()

	var policies []models.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// GetPolicy fetches one policy.
func (d *DB) GetPolicy(ctx context.Context, id string) (models.Policy, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Policy{}, ErrNotFound
	}
	p, err := scanPolicy(d.Pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Policy{}, ErrNotFound
	}
	if err != nil {
		return models.Policy{}, fmt.Errorf("failed to get policy %s: %w", id, err)
	}
	return p, nil
}

// UpdatePolicyStatus writes only the status field.
func (d *DB) UpdatePolicyStatus(ctx context.Context, id string, status models.PolicyStatus) error {
	tag, err := d.Pool.Exec(ctx, `UPDATE policies SET status = $1, updated_at = NOW() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update policy %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
