package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"touchpoint-service/internal/models"
)

const clientColumns = `id::text, agent_id::text, name, date_of_birth, COALESCE(push_address, ''),
	COALESCE(app_code, ''), COALESCE(birthday_notified_at, 0), holiday_notified_at, created_at`

func scanClient(row pgx.Row) (models.Client, error) {
	var c models.Client
	err := row.Scan(&c.ID, &c.AgentID, &c.Name, &c.DateOfBirth, &c.PushAddress,
		&c.AppCode, &c.BirthdayNotifiedAt, &c.HolidayNotifiedAt, &c.CreatedAt)
	return c, err
}

// CreateClient inserts a client, assigning an id when empty.
func (d *DB) CreateClient(ctx context.Context, c *models.Client) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := d.Pool.QueryRow(ctx, `
	INSERT INTO clients (id, agent_id, name, date_of_birth, push_address, app_code)
	VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
	RETURNING created_at`,
		c.ID, c.AgentID, c.Name, c.DateOfBirth, c.PushAddress, c.AppCode,
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// ListClientsByAgent returns the agent's clients.
func (d *DB) ListClientsByAgent(ctx context.Context, agentID string) ([]models.Client, error) {
	rows, err := d.Pool.Query(ctx, `SELECT `+clientColumns+` FROM clients WHERE agent_id = $1 ORDER BY created_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients for agent %s: %w", agentID, err)
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// GetClient fetches one client.
func (d *DB) GetClient(ctx context.Context, id string) (models.Client, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Client{}, ErrNotFound
	}
	c, err := scanClient(d.Pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Client{}, ErrNotFound
	}
	if err != nil {
		return models.Client{}, fmt.Errorf("failed to get client %s: %w", id, err)
	}
	return c, nil
}

// GetClientByAppCode looks a client up by the code printed in the app invite.
func (d *DB) GetClientByAppCode(ctx context.Context, code string) (models.Client, error) {
	c, err := scanClient(d.Pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE app_code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Client{}, ErrNotFound
	}
	if err != nil {
		return models.Client{}, fmt.Errorf("failed to get client by app code: %w", err)
	}
	return c, nil
}

// SetClientPushAddress replaces only the push address field.
func (d *DB) SetClientPushAddress(ctx context.Context, clientID, address string) error {
	tag, err := d.Pool.Exec(ctx, `UPDATE clients SET push_address = NULLIF($1, '') WHERE id = $2`, address, clientID)
	if err != nil {
		return fmt.Errorf("failed to set push address for client %s: %w", clientID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
