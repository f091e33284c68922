package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"touchpoint-service/internal/models"
)

const agentColumns = `id::text, name, agency_name, email, scheduling_url, telegram_chat_id, holiday_opt_out, created_at`

func scanAgent(row pgx.Row) (models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.Name, &a.AgencyName, &a.Email, &a.SchedulingURL, &a.TelegramChatID, &a.HolidayOptOut, &a.CreatedAt)
	return a, err
}

// CreateAgent inserts an agent, assigning an id when empty.
func (d *DB) CreateAgent(ctx context.Context, a *models.Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := d.Pool.QueryRow(ctx, `
	INSERT INTO agents (id, name, agency_name, email, scheduling_url, telegram_chat_id, holiday_opt_out)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING created_at`,
		a.ID, a.Name, a.AgencyName, a.Email, a.SchedulingURL, a.TelegramChatID, a.HolidayOptOut,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

// ListAgents returns every agent ordered by creation.
func (d *DB) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := d.Pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// GetAgent fetches one agent.
func (d *DB) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Agent{}, ErrNotFound
	}
	a, err := scanAgent(d.Pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Agent{}, ErrNotFound
	}
	if err != nil {
		return models.Agent{}, fmt.Errorf("failed to get agent %s: %w", id, err)
	}
	return a, nil
}
