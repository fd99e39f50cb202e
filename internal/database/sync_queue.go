package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/models"
)

const syncItemColumns = `entity_id, collection, action, payload, status, retries, last_error, enqueued_at`

// GetSyncItem returns the active item for (entityId, collection), or
// ErrNotFound.
func (db *DB) GetSyncItem(ctx context.Context, entityID string, collection models.Collection) (*models.PendingSyncItem, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+syncItemColumns+` FROM sync_queue WHERE entity_id = ? AND collection = ?`,
		entityID, string(collection))
	item, err := scanSyncItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

// SaveSyncItem upserts the single row for the item's (entityId, collection).
func (db *DB) SaveSyncItem(ctx context.Context, item *models.PendingSyncItem) error {
	payload, err := encodePayload(item.Payload)
	if err != nil {
		return err
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	// Stored and compared as text; UTC keeps the round trip exact so the
	// conditional delete below can match on it.
	item.EnqueuedAt = item.EnqueuedAt.UTC()
	if item.Status == "" {
		item.Status = models.SyncStatusPending
	}

	query := `INSERT INTO sync_queue (entity_id, collection, action, payload, status, retries, last_error, enqueued_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(entity_id, collection) DO UPDATE SET
                action = excluded.action,
                payload = excluded.payload,
                status = excluded.status,
                retries = excluded.retries,
                last_error = excluded.last_error,
                enqueued_at = excluded.enqueued_at`
	_, err = db.ExecContext(ctx, query,
		item.EntityID, string(item.Collection), string(item.Action), payload,
		item.Status, item.Retries, item.LastError, item.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("failed to save sync item: %w", err)
	}
	return nil
}

// DeleteSyncItem drops the row; no-op when absent.
func (db *DB) DeleteSyncItem(ctx context.Context, entityID string, collection models.Collection) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE entity_id = ? AND collection = ?`,
		entityID, string(collection))
	if err != nil {
		return fmt.Errorf("failed to delete sync item: %w", err)
	}
	return nil
}

// DeleteSyncItemIfUnchanged drops the row only when its enqueued_at still
// matches; a row re-enqueued since then stays. Reports whether a row was
// deleted.
func (db *DB) DeleteSyncItemIfUnchanged(ctx context.Context, entityID string, collection models.Collection, enqueuedAt time.Time) (bool, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE entity_id = ? AND collection = ? AND enqueued_at = ?`,
		entityID, string(collection), enqueuedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to delete sync item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSyncItemRetried bumps the retry counter, records the error and flips the
// item into the failed partition once the ceiling is reached.
func (db *DB) MarkSyncItemRetried(ctx context.Context, entityID string, collection models.Collection, errMsg string) error {
	query := `UPDATE sync_queue
              SET retries = retries + 1,
                  last_error = ?,
                  status = CASE WHEN retries + 1 >= ? THEN ? ELSE ? END
              WHERE entity_id = ? AND collection = ?`
	_, err := db.ExecContext(ctx, query,
		errMsg, models.MaxSyncRetries, models.SyncStatusFailed, models.SyncStatusPending,
		entityID, string(collection))
	if err != nil {
		return fmt.Errorf("failed to mark sync item retried: %w", err)
	}
	return nil
}

// ListSyncItems snapshots the partition with the given status, oldest first.
func (db *DB) ListSyncItems(ctx context.Context, status string) ([]models.PendingSyncItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+syncItemColumns+` FROM sync_queue WHERE status = ? ORDER BY enqueued_at ASC, entity_id ASC`,
		status)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync items: %w", err)
	}
	defer rows.Close()

	var items []models.PendingSyncItem
	for rows.Next() {
		item, err := scanSyncItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// CountSyncItems returns the row count for a status partition.
func (db *DB) CountSyncItems(ctx context.Context, status string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sync items: %w", err)
	}
	return count, nil
}

// ResetFailedSyncItems reclassifies every failed item as pending with a fresh
// queue position and a full retry allowance. lastError is kept for diagnostics.
func (db *DB) ResetFailedSyncItems(ctx context.Context) (int, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, retries = 0, enqueued_at = ? WHERE status = ?`,
		models.SyncStatusPending, time.Now().UTC(), models.SyncStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed sync items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func encodePayload(payload map[string]any) (any, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return string(raw), nil
}

func scanSyncItem(s rowScanner) (*models.PendingSyncItem, error) {
	var item models.PendingSyncItem
	var collection, action string
	var payload sql.NullString
	err := s.Scan(&item.EntityID, &collection, &action, &payload,
		&item.Status, &item.Retries, &item.LastError, &item.EnqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync item: %w", err)
	}
	item.Collection = models.Collection(collection)
	item.Action = models.SyncAction(action)
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &item.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return &item, nil
}
