// Package merge reconciles local event records with the remote calendar into
// one deduplicated view, and owns the optimistic local-first mutation path.
package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/connectivity"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/database"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/domain"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/events"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/metrics"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/models"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/queue"
)

const isoDate = "2006-01-02"

// StatusReporter surfaces asynchronous failures through the status channel.
type StatusReporter interface {
	ReportError(ctx context.Context, err error)
}

// Engine merges LocalStore events with remote calendar results. It keeps an
// incremental remoteID-to-localID index so repeated refreshes are hash
// lookups, not rebuilt array scans.
type Engine struct {
	store    *database.DB
	calendar domain.CalendarClient
	queue    *queue.Queue
	monitor  *connectivity.Monitor
	bus      *events.Bus
	reporter StatusReporter // optional
	logger   zerolog.Logger

	mu          sync.Mutex
	remoteIndex map[string]string
}

func New(store *database.DB, calendar domain.CalendarClient, q *queue.Queue, monitor *connectivity.Monitor, bus *events.Bus, reporter StatusReporter, logger zerolog.Logger) *Engine {
	return &Engine{
		store:       store,
		calendar:    calendar,
		queue:       q,
		monitor:     monitor,
		bus:         bus,
		reporter:    reporter,
		logger:      logger,
		remoteIndex: make(map[string]string),
	}
}

// Refresh lists the remote calendar for [start, end) and merges: a local event
// linked to a returned remote event is kept as-is (local fields win, the
// remote record is a mirror of the user's own data); a remote event with no
// local counterpart is persisted as a synthetic mirror record so display and
// deletion paths stay uniform. When the remote list call fails the view
// falls back to local-only events and the error is surfaced through the
// status channel; nothing is lost.
func (e *Engine) Refresh(ctx context.Context, start, end time.Time) ([]models.LocalEvent, error) {
	local, err := e.store.GetEventsByDateRange(ctx, start.Format(isoDate), end.Format(isoDate))
	if err != nil {
		return nil, fmt.Errorf("local events: %w", err)
	}

	remote, err := e.calendar.ListEvents(ctx, start, end)
	if err != nil {
		e.logger.Warn().Err(err).Msg("remote list failed, serving local-only view")
		metrics.IncMergeRefresh("fallback")
		if e.reporter != nil {
			e.reporter.ReportError(ctx, fmt.Errorf("calendar list: %w", err))
		}
		return local, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]struct{}, len(local))
	for i := range local {
		if rid := local[i].GoogleEventID; rid != "" {
			seen[rid] = struct{}{}
			e.remoteIndex[rid] = local[i].ID
		}
	}

	merged := local
	for i := range remote {
		rev := &remote[i]
		if rev.Status == "cancelled" {
			continue
		}
		if _, ok := seen[rev.ID]; ok {
			continue
		}
		if localID, ok := e.remoteIndex[rev.ID]; ok {
			// Linked to a local record outside the queried range; the
			// local date is authoritative.
			e.logger.Debug().Str("remote_id", rev.ID).Str("local_id", localID).Msg("remote event linked outside window")
			continue
		}
		if _, err := e.store.GetEventByRemoteID(ctx, rev.ID); err == nil {
			continue
		}

		mirror := models.LocalEvent{
			ID:             uuid.New().String(),
			Date:           rev.Date(),
			Title:          rev.Summary,
			Type:           models.EventTypeLocal,
			GoogleEventID:  rev.ID,
			SyncedToGoogle: true,
		}
		if err := e.store.PutEvent(ctx, &mirror); err != nil {
			return nil, fmt.Errorf("persist mirror event: %w", err)
		}
		e.remoteIndex[rev.ID] = mirror.ID
		merged = append(merged, mirror)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Date != merged[j].Date {
			return merged[i].Date < merged[j].Date
		}
		return merged[i].ID < merged[j].ID
	})

	metrics.IncMergeRefresh("success")
	_ = e.bus.PublishJSON(events.TopicEventsRefreshed, map[string]int{
		"local":  len(local),
		"remote": len(remote),
		"merged": len(merged),
	})
	return merged, nil
}

// AddLocalEvent is the two-phase optimistic write. Phase one commits locally
// and any storage error returns to the caller. Phase two is best-effort: an
// immediate calendar create when online stamps the linkage; in every case the
// mutation lands in the queue so the document store converges. A remote
// failure never reaches the caller, the record is usable before remote
// confirmation.
func (e *Engine) AddLocalEvent(ctx context.Context, ev *models.LocalEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Type == "" {
		ev.Type = models.EventTypeLocal
	}
	// Only a confirmed calendar write sets the flag.
	if ev.GoogleEventID == "" {
		ev.SyncedToGoogle = false
	}

	if err := e.store.PutEvent(ctx, ev); err != nil {
		return fmt.Errorf("local write: %w", err)
	}

	if e.monitor.Online() && !ev.SyncedToGoogle {
		remoteID, err := e.calendar.CreateEvent(ctx, ev)
		switch {
		case err != nil:
			e.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("immediate calendar create failed, queued for drain")
		case remoteID != "":
			ev.GoogleEventID = remoteID
			ev.SyncedToGoogle = true
			if err := e.store.SetEventLink(ctx, ev.ID, remoteID); err != nil {
				e.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("stamping calendar link failed")
			}
			e.mu.Lock()
			e.remoteIndex[remoteID] = ev.ID
			e.mu.Unlock()
		}
	}

	if err := e.queue.Enqueue(ctx, ev.ID, models.CollectionCalendar, models.ActionCreate, ev.ToPayload()); err != nil {
		return fmt.Errorf("queue handoff: %w", err)
	}

	_ = e.bus.PublishJSON(events.TopicEventsRefreshed, map[string]string{"added": ev.ID})
	return nil
}

// DeleteLocalEvent removes the record immediately and queues the remote
// cleanup. A still-pending Create for the same id collapses in the queue, so
// a record that never reached the remote leaves no trace.
func (e *Engine) DeleteLocalEvent(ctx context.Context, id string) error {
	ev, err := e.store.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("local read: %w", err)
	}

	if err := e.store.DeleteEvent(ctx, id); err != nil {
		return fmt.Errorf("local delete: %w", err)
	}

	payload := map[string]any{"id": id}
	remoteID := ev.GoogleEventID
	if remoteID != "" {
		e.mu.Lock()
		delete(e.remoteIndex, remoteID)
		e.mu.Unlock()

		if e.monitor.Online() {
			if _, err := e.calendar.DeleteEvent(ctx, remoteID); err != nil {
				e.logger.Warn().Err(err).Str("remote_id", remoteID).Msg("immediate calendar delete failed, queued for drain")
				payload["googleEventId"] = remoteID
			}
		} else {
			payload["googleEventId"] = remoteID
		}
	}

	if err := e.queue.Enqueue(ctx, id, models.CollectionCalendar, models.ActionDelete, payload); err != nil {
		return fmt.Errorf("queue handoff: %w", err)
	}

	_ = e.bus.PublishJSON(events.TopicEventsRefreshed, map[string]string{"deleted": id})
	return nil
}
