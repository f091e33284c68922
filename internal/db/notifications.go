package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"touchpoint-service/internal/models"
)

const notificationColumns = `id, client_id::text, agent_id::text, type, title, body, status, provider_response, sent_at, read_at`

func scanNotification(row pgx.Row) (models.NotificationRecord, error) {
	var n models.NotificationRecord
	var typ, status string
	err := row.Scan(&n.ID, &n.ClientID, &n.AgentID, &typ, &n.Title, &n.Body, &status, &n.ProviderResponse, &n.SentAt, &n.ReadAt)
	n.Type = models.NotificationType(typ)
	n.Status = models.DeliveryStatus(status)
	return n, err
}

// CreateNotification appends one record.
func (d *DB) CreateNotification(ctx context.Context, n models.NotificationRecord) error {
	query := `
	INSERT INTO notifications (id, client_id, agent_id, type, title, body, status, provider_response, sent_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := d.Pool.Exec(ctx, query,
		n.ID, n.ClientID, n.AgentID, string(n.Type), n.Title, n.Body,
		string(n.Status), n.ProviderResponse, n.SentAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListNotificationsByClient returns records newest first with pagination.
func (d *DB) ListNotificationsByClient(ctx context.Context, clientID string, limit, offset int) ([]models.NotificationRecord, int, error) {
	var total int
	if err := d.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE client_id = $1`, clientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	rows, err := d.Pool.Query(ctx, `
	SELECT `+notificationColumns+`
	FROM notifications
	WHERE client_id = $1
	ORDER BY sent_at DESC
	LIMIT $2 OFFSET $3`, clientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get notifications: %w", err)
	}
	defer rows.Close()

	var list []models.NotificationRecord
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		list = append(list, n)
	}
	return list, total, rows.Err()
}

// GetNotification fetches one record.
func (d *DB) GetNotification(ctx context.Context, id string) (models.NotificationRecord, error) {
	n, err := scanNotification(d.Pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NotificationRecord{}, ErrNotFound
	}
	if err != nil {
		return models.NotificationRecord{}, fmt.Errorf("failed to get notification %s: %w", id, err)
	}
	return n, nil
}

// MarkNotificationRead sets read_at once. A record that was already read keeps
// its first timestamp.
func (d *DB) MarkNotificationRead(ctx context.Context, id string, at time.Time) (models.NotificationRecord, error) {
	n, err := scanNotification(d.Pool.QueryRow(ctx, `
	UPDATE notifications SET read_at = COALESCE(read_at, $2)
	WHERE id = $1
	RETURNING `+notificationColumns, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NotificationRecord{}, ErrNotFound
	}
	if err != nil {
		return models.NotificationRecord{}, fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	return n, nil
}
