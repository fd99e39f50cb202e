// Package queue implements the durable pending-mutation ledger. Every local
// mutation that cannot be confirmed remotely right away lands here and is
// drained later by the orchestrator.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/database"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/events"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/models"
)

// Queue holds at most one active item per (entityId, collection). It is an
// explicit, injected object; consumers observe changes through the bus, not
// through ambient state.
type Queue struct {
	db     *database.DB
	bus    *events.Bus
	logger zerolog.Logger

	// Serializes the enqueue escalation read-modify-write against the
	// drain loop's Remove/MarkRetried.
	mu sync.Mutex
}

func New(db *database.DB, bus *events.Bus, logger zerolog.Logger) *Queue {
	return &Queue{db: db, bus: bus, logger: logger}
}

// Enqueue upserts a mutation. Latest payload wins; the action escalates:
// an Update over a pending Create stays a Create with merged payload, any
// mutation after a pending Delete is discarded, and a Delete over a pending
// Create drops the item entirely since the record never reached the remote.
// Storage errors are returned to the caller and nothing is queued.
func (q *Queue) Enqueue(ctx context.Context, entityID string, collection models.Collection, action models.SyncAction, payload map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	existing, err := q.db.GetSyncItem(ctx, entityID, collection)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("enqueue %s/%s: %w", collection, entityID, err)
	}

	item := &models.PendingSyncItem{
		EntityID:   entityID,
		Collection: collection,
		Action:     action,
		Payload:    payload,
		Status:     models.SyncStatusPending,
	}

	if existing != nil {
		switch {
		case existing.Action == models.ActionDelete:
			// The record is gone; later mutations for it are meaningless.
			q.logger.Debug().Str("entity_id", entityID).Str("collection", string(collection)).
				Msg("discarding mutation after pending delete")
			return nil
		case action == models.ActionDelete && existing.Action == models.ActionCreate:
			// Never reached the remote, so there is nothing to delete there.
			if err := q.db.DeleteSyncItem(ctx, entityID, collection); err != nil {
				return fmt.Errorf("enqueue %s/%s: %w", collection, entityID, err)
			}
			q.notify(ctx, entityID, collection, action)
			return nil
		case action != models.ActionDelete:
			item.Payload = mergePayloads(existing.Payload, payload)
			if existing.Action == models.ActionCreate {
				item.Action = models.ActionCreate
			} else {
				item.Action = existing.Action
			}
		}
	}

	if err := q.db.SaveSyncItem(ctx, item); err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", collection, entityID, err)
	}
	q.notify(ctx, entityID, collection, item.Action)
	return nil
}

// Remove drops the item after a confirmed remote write; no-op if absent.
func (q *Queue) Remove(ctx context.Context, entityID string, collection models.Collection) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.db.DeleteSyncItem(ctx, entityID, collection); err != nil {
		return err
	}
	q.notify(ctx, entityID, collection, "remove")
	return nil
}

// Acknowledge drops a drained snapshot item, but only while the row is
// untouched since the snapshot was taken. A mutation enqueued for the same
// entity while its remote call was in flight refreshed enqueued_at, so the
// row survives and the newer payload waits for the next pass.
func (q *Queue) Acknowledge(ctx context.Context, item *models.PendingSyncItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed, err := q.db.DeleteSyncItemIfUnchanged(ctx, item.EntityID, item.Collection, item.EnqueuedAt)
	if err != nil {
		return err
	}
	if !removed {
		q.logger.Debug().Str("entity_id", item.EntityID).Str("collection", string(item.Collection)).
			Msg("item re-enqueued during drain, kept for next pass")
		return nil
	}
	q.notify(ctx, item.EntityID, item.Collection, "remove")
	return nil
}

// MarkRetried records one failed attempt. At the retry ceiling the item moves
// to the failed partition but stays inspectable and retryable on demand.
func (q *Queue) MarkRetried(ctx context.Context, entityID string, collection models.Collection, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := q.db.MarkSyncItemRetried(ctx, entityID, collection, msg); err != nil {
		return err
	}
	q.notify(ctx, entityID, collection, "retried")
	return nil
}

// Pending snapshots the items below the retry ceiling, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]models.PendingSyncItem, error) {
	return q.db.ListSyncItems(ctx, models.SyncStatusPending)
}

// Failed snapshots the items at or past the retry ceiling.
func (q *Queue) Failed(ctx context.Context) ([]models.PendingSyncItem, error) {
	return q.db.ListSyncItems(ctx, models.SyncStatusFailed)
}

// Counts returns the pending and failed partition sizes.
func (q *Queue) Counts(ctx context.Context) (pending, failed int, err error) {
	pending, err = q.db.CountSyncItems(ctx, models.SyncStatusPending)
	if err != nil {
		return 0, 0, err
	}
	failed, err = q.db.CountSyncItems(ctx, models.SyncStatusFailed)
	if err != nil {
		return 0, 0, err
	}
	return pending, failed, nil
}

// IsEmpty reports whether no items remain in either partition.
func (q *Queue) IsEmpty(ctx context.Context) (bool, error) {
	pending, failed, err := q.Counts(ctx)
	if err != nil {
		return false, err
	}
	return pending == 0 && failed == 0, nil
}

// ResetFailed reclassifies every failed item as pending with a fresh position
// and retry allowance, and reports how many moved.
func (q *Queue) ResetFailed(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n, err := q.db.ResetFailedSyncItems(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.notify(ctx, "", "", "reset_failed")
	}
	return n, nil
}

func (q *Queue) notify(ctx context.Context, entityID string, collection models.Collection, action models.SyncAction) {
	pending, failed, err := q.Counts(ctx)
	if err != nil {
		q.logger.Warn().Err(err).Msg("queue counts for notification failed")
		return
	}
	_ = q.bus.PublishJSON(events.TopicQueueChanged, events.QueueChangePayload{
		EntityID:   entityID,
		Collection: string(collection),
		Action:     string(action),
		Pending:    pending,
		Failed:     failed,
	})
}

func mergePayloads(base, overlay map[string]any) map[string]any {
	if base == nil {
		return overlay
	}
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
