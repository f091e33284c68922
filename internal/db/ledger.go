package db

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"touchpoint-service/internal/occurrence"
)

// Ledger is the occurrence ledger backed by the occurrence_ledger table. On
// first mark it also projects the occurrence onto the owning document so the
// dashboard can show it.
type Ledger struct {
	db *DB
}

func (d *DB) Ledger() *Ledger {
	return &Ledger{db: d}
}

func (l *Ledger) HasFired(ctx context.Context, entityID, occurrenceKey string) (bool, error) {
	var exists bool
	err := l.db.Pool.QueryRow(ctx, `
	SELECT EXISTS (SELECT 1 FROM occurrence_ledger WHERE entity_id = $1 AND occurrence_key = $2)`,
		entityID, occurrenceKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger for %s %s: %w", entityID, occurrenceKey, err)
	}
	return exists, nil
}

func (l *Ledger) MarkFired(ctx context.Context, entityID, occurrenceKey string) error {
	key, err := occurrence.ParseKey(occurrenceKey)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, l.db.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
		INSERT INTO occurrence_ledger (entity_id, occurrence_key) VALUES ($1, $2)
		ON CONFLICT (entity_id, occurrence_key) DO NOTHING`, entityID, occurrenceKey)
		if err != nil {
			return fmt.Errorf("failed to mark %s %s: %w", entityID, occurrenceKey, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return project(ctx, tx, entityID, key)
	})
}

func project(ctx context.Context, tx pgx.Tx, entityID string, key occurrence.Key) error {
	var err error
	switch key.Kind {
	case occurrence.KindBirthday:
		year, convErr := strconv.Atoi(key.Value)
		if convErr != nil {
			return fmt.Errorf("birthday key %q has no year: %w", key, convErr)
		}
		_, err = tx.Exec(ctx, `UPDATE clients SET birthday_notified_at = $2 WHERE id = $1`, entityID, year)
	case occurrence.KindHoliday:
		_, err = tx.Exec(ctx, `
		UPDATE clients SET holiday_notified_at = holiday_notified_at || jsonb_build_object($2::text, true)
		WHERE id = $1`, entityID, key.Value)
	case occurrence.KindAnniversaryAgent:
		_, err = tx.Exec(ctx, `UPDATE policies SET anniversary_agent_notified_at = NOW() WHERE id = $1`, entityID)
	case occurrence.KindAnniversaryClient:
		_, err = tx.Exec(ctx, `UPDATE policies SET anniversary_client_notified_at = NOW() WHERE id = $1`, entityID)
	}
	if err != nil {
		return fmt.Errorf("failed to project %s onto %s: %w", key, entityID, err)
	}
	return nil
}
