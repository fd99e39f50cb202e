// Package syncer drains the pending-mutation queue against the remote
// document store and calendar service whenever the host is online.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/connectivity"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/database"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/domain"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/events"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/metrics"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/models"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/queue"
)

const lastSyncKey = "last_sync_time"

// Options wires the orchestrator's collaborators.
type Options struct {
	Queue      *queue.Queue
	Store      *database.DB
	Entity     domain.EntityClient
	Calendar   domain.CalendarClient
	Monitor    *connectivity.Monitor
	Bus        *events.Bus
	StatusRepo domain.StatusRepository // optional
	Debounce   time.Duration
	Logger     zerolog.Logger
}

// Orchestrator owns the drain loop. At most one drain pass is ever in
// flight; a trigger arriving during a pass is dropped and whatever is still
// pending waits for the next natural trigger.
type Orchestrator struct {
	queue      *queue.Queue
	store      *database.DB
	entity     domain.EntityClient
	calendar   domain.CalendarClient
	monitor    *connectivity.Monitor
	bus        *events.Bus
	statusRepo domain.StatusRepository
	debounce   time.Duration
	logger     zerolog.Logger

	isSyncing atomic.Bool
	lastSync  atomic.Pointer[time.Time]
	lastError atomic.Pointer[string]

	runCtx context.Context

	timerMu sync.Mutex
	timer   *time.Timer
}

func New(opts Options) *Orchestrator {
	if opts.Debounce == 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	o := &Orchestrator{
		queue:      opts.Queue,
		store:      opts.Store,
		entity:     opts.Entity,
		calendar:   opts.Calendar,
		monitor:    opts.Monitor,
		bus:        opts.Bus,
		statusRepo: opts.StatusRepo,
		debounce:   opts.Debounce,
		logger:     opts.Logger,
	}
	o.runCtx = context.Background()
	o.loadLastSync()
	return o
}

func (o *Orchestrator) loadLastSync() {
	raw, err := o.store.GetKV(context.Background(), lastSyncKey)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			o.logger.Warn().Err(err).Msg("loading last sync time failed")
		}
		return
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		o.lastSync.Store(&ts)
	}
}

// Run subscribes the automatic triggers: an offline-to-online edge drains
// immediately, a queue change while online and idle drains after a debounce
// window so a burst of mutations produces one pass. Handlers stay registered
// for the lifetime of the bus; ctx bounds the drains they start.
func (o *Orchestrator) Run(ctx context.Context) {
	o.runCtx = ctx

	o.bus.Subscribe(events.TopicConnectivityChanged, func(ev *events.Event) error {
		var p events.ConnectivityPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		if p.Online {
			if err := o.SyncAll(o.runCtx); err != nil {
				o.logger.Warn().Err(err).Msg("drain after reconnect failed")
			}
		} else {
			o.pushStatus(o.runCtx)
		}
		return nil
	})

	o.bus.Subscribe(events.TopicQueueChanged, func(_ *events.Event) error {
		if o.monitor.Online() && !o.isSyncing.Load() {
			o.scheduleDrain()
		}
		return nil
	})

	o.pushStatus(ctx)
}

// scheduleDrain coalesces bursts into a single delayed pass.
func (o *Orchestrator) scheduleDrain() {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(o.debounce, func() {
		if err := o.SyncAll(o.runCtx); err != nil {
			o.logger.Warn().Err(err).Msg("scheduled drain failed")
		}
	})
}

// SyncAll performs one drain pass over a snapshot of the pending partition.
// Offline or with a pass already in flight it returns immediately. One item's
// failure never blocks the rest: the item is marked retried and the pass
// moves on.
func (o *Orchestrator) SyncAll(ctx context.Context) error {
	if !o.monitor.Online() {
		return nil
	}
	if !o.isSyncing.CompareAndSwap(false, true) {
		return nil
	}

	o.pushStatus(ctx)

	// Items enqueued from here on belong to the next pass.
	snapshot, err := o.queue.Pending(ctx)
	if err != nil {
		o.isSyncing.Store(false)
		o.pushStatus(ctx)
		return err
	}

	o.logger.Info().Int("items", len(snapshot)).Msg("drain pass started")

	for i := range snapshot {
		item := &snapshot[i]
		if err := o.applyItem(ctx, item); err != nil {
			o.logger.Warn().Err(err).
				Str("entity_id", item.EntityID).
				Str("collection", string(item.Collection)).
				Str("action", string(item.Action)).
				Msg("sync item failed")
			metrics.IncSyncAttempt(string(item.Action), "failure")
			if err := o.queue.MarkRetried(ctx, item.EntityID, item.Collection, err); err != nil {
				o.logger.Error().Err(err).Msg("marking item retried failed")
			}
			o.maybeDeadLetter(ctx, item)
			continue
		}
		metrics.IncSyncAttempt(string(item.Action), "success")
		if err := o.queue.Acknowledge(ctx, item); err != nil {
			o.logger.Error().Err(err).Msg("removing synced item failed")
		}
	}

	now := time.Now()
	o.lastSync.Store(&now)
	if err := o.store.SetKV(ctx, lastSyncKey, now.Format(time.RFC3339Nano)); err != nil {
		o.logger.Warn().Err(err).Msg("persisting last sync time failed")
	}
	metrics.IncDrainPass()

	o.isSyncing.Store(false)
	o.pushStatus(ctx)
	return nil
}

// applyItem dispatches one mutation. Calendar-collection items reconcile the
// calendar mirror within the same attempt so a reconnect drain both creates
// the remote event and stamps the linkage.
func (o *Orchestrator) applyItem(ctx context.Context, item *models.PendingSyncItem) error {
	switch item.Action {
	case models.ActionCreate, models.ActionUpdate:
		if item.Collection == models.CollectionCalendar {
			if err := o.ensureCalendarLink(ctx, item); err != nil {
				return err
			}
		}
		return o.entity.Put(ctx, item.Collection.Path(), item.EntityID, item.Payload, true)
	case models.ActionDelete:
		if item.Collection == models.CollectionCalendar {
			if remoteID, _ := item.Payload["googleEventId"].(string); remoteID != "" {
				if _, err := o.calendar.DeleteEvent(ctx, remoteID); err != nil {
					return err
				}
			}
		}
		return o.entity.Delete(ctx, item.Collection.Path(), item.EntityID)
	default:
		return errors.New("unknown sync action: " + string(item.Action))
	}
}

func (o *Orchestrator) ensureCalendarLink(ctx context.Context, item *models.PendingSyncItem) error {
	if remoteID, _ := item.Payload["googleEventId"].(string); remoteID != "" {
		return nil
	}

	remoteID, err := o.calendar.CreateEvent(ctx, models.EventFromPayload(item.EntityID, item.Payload))
	if err != nil {
		return err
	}
	if remoteID == "" {
		return nil
	}

	if item.Payload == nil {
		item.Payload = map[string]any{}
	}
	item.Payload["googleEventId"] = remoteID
	item.Payload["syncedToGoogle"] = true

	if err := o.store.SetEventLink(ctx, item.EntityID, remoteID); err != nil && !errors.Is(err, database.ErrNotFound) {
		o.logger.Warn().Err(err).Str("entity_id", item.EntityID).Msg("stamping calendar link failed")
	}
	return nil
}

func (o *Orchestrator) maybeDeadLetter(ctx context.Context, item *models.PendingSyncItem) {
	if o.statusRepo == nil || item.Retries+1 < models.MaxSyncRetries {
		return
	}
	if err := o.statusRepo.PushDeadLetter(ctx, item); err != nil {
		o.logger.Warn().Err(err).Str("entity_id", item.EntityID).Msg("dead-letter push failed")
	}
}

// RetryFailed moves every failed item back into the pending partition and
// drains. The manual escape hatch for items past the retry ceiling.
func (o *Orchestrator) RetryFailed(ctx context.Context) error {
	n, err := o.queue.ResetFailed(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		o.logger.Info().Int("items", n).Msg("failed items re-enqueued")
	}
	return o.SyncAll(ctx)
}

// ReportError surfaces an asynchronous failure (for example a merge refresh
// falling back to local-only data) through the status channel.
func (o *Orchestrator) ReportError(ctx context.Context, err error) {
	msg := err.Error()
	o.lastError.Store(&msg)
	o.pushStatus(ctx)
}

// Status recomputes the aggregate surface from queue state.
func (o *Orchestrator) Status(ctx context.Context) models.SyncStatus {
	pending, failed, err := o.queue.Counts(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("queue counts for status failed")
	}
	status := models.SyncStatus{
		IsOnline:     o.monitor.Online(),
		IsSyncing:    o.isSyncing.Load(),
		PendingCount: pending,
		FailedCount:  failed,
		LastSyncTime: o.lastSync.Load(),
	}
	if msg := o.lastError.Load(); msg != nil {
		status.LastError = *msg
	}
	return status
}

func (o *Orchestrator) pushStatus(ctx context.Context) {
	status := o.Status(ctx)
	metrics.SetQueueDepth(status.PendingCount, status.FailedCount)
	_ = o.bus.PublishJSON(events.TopicStatusChanged, status)
	if o.statusRepo != nil {
		if err := o.statusRepo.SaveStatus(ctx, &status); err != nil {
			o.logger.Warn().Err(err).Msg("saving status snapshot failed")
		}
	}
}
