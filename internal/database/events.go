package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/models"
)

const eventColumns = `id, date, title, type, shift_type, google_event_id, synced_to_google, created_at, updated_at`

// PutEvent inserts or replaces a local event record.
func (db *DB) PutEvent(ctx context.Context, ev *models.LocalEvent) error {
	now := time.Now()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now

	query := `INSERT INTO events (id, date, title, type, shift_type, google_event_id, synced_to_google, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                date = excluded.date,
                title = excluded.title,
                type = excluded.type,
                shift_type = excluded.shift_type,
                google_event_id = excluded.google_event_id,
                synced_to_google = excluded.synced_to_google,
                updated_at = excluded.updated_at`
	_, err := db.ExecContext(ctx, query,
		ev.ID, ev.Date, ev.Title, ev.Type, nullable(ev.ShiftType), nullable(ev.GoogleEventID), ev.SyncedToGoogle, ev.CreatedAt, ev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put event %s: %w", ev.ID, err)
	}
	return nil
}

// GetEvent returns the event by local id; ErrNotFound when absent.
func (db *DB) GetEvent(ctx context.Context, id string) (*models.LocalEvent, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

// GetEventByRemoteID looks an event up through the google_event_id index.
func (db *DB) GetEventByRemoteID(ctx context.Context, remoteID string) (*models.LocalEvent, error) {
	row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE google_event_id = ?`, remoteID)
	return scanEvent(row)
}

// SetEventLink stamps the confirmed remote counterpart onto a local event.
func (db *DB) SetEventLink(ctx context.Context, id, remoteID string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE events SET google_event_id = ?, synced_to_google = 1, updated_at = ? WHERE id = ?`,
		remoteID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to link event %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEvent removes the local record; no-op if absent.
func (db *DB) DeleteEvent(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	return nil
}

// GetEventsByDateRange returns events with start <= date < end, ordered by
// date. The end date is exclusive, matching the remote calendar list window.
func (db *DB) GetEventsByDateRange(ctx context.Context, start, end string) ([]models.LocalEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE date >= ? AND date < ? ORDER BY date ASC, id ASC`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.LocalEvent
	for rows.Next() {
		ev, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEventRow(s rowScanner) (*models.LocalEvent, error) {
	var ev models.LocalEvent
	var shiftType, remoteID sql.NullString
	err := s.Scan(&ev.ID, &ev.Date, &ev.Title, &ev.Type, &shiftType, &remoteID, &ev.SyncedToGoogle, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	ev.ShiftType = shiftType.String
	ev.GoogleEventID = remoteID.String
	return &ev, nil
}

func scanEvent(row *sql.Row) (*models.LocalEvent, error) {
	ev, err := scanEventRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ev, nil
}
