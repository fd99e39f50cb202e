package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/connectivity"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/database"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/events"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/models"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/queue"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/repository"
)

type putCall struct {
	path    string
	id      string
	payload map[string]any
}

type fakeEntity struct {
	mu      sync.Mutex
	puts    []putCall
	deletes []string
	failIDs map[string]error
	onPut   func(id string)
}

func (f *fakeEntity) Put(_ context.Context, path, id string, payload map[string]any, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failIDs[id]; err != nil {
		return err
	}
	f.puts = append(f.puts, putCall{path: path, id: id, payload: payload})
	if f.onPut != nil {
		f.onPut(id)
	}
	return nil
}

func (f *fakeEntity) Delete(_ context.Context, _, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failIDs[id]; err != nil {
		return err
	}
	f.deletes = append(f.deletes, id)
	return nil
}

type fakeCalendar struct {
	mu      sync.Mutex
	created []*models.LocalEvent
	deleted []string
	listed  []models.RemoteEvent
	err     error
	nextID  int
}

func (f *fakeCalendar) ListEvents(_ context.Context, _, _ time.Time) ([]models.RemoteEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.listed, nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, ev *models.LocalEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.nextID++
	copied := *ev
	f.created = append(f.created, &copied)
	return "g-" + copied.ID, nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, remoteID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.deleted = append(f.deleted, remoteID)
	return true, nil
}

type rig struct {
	db       *database.DB
	bus      *events.Bus
	queue    *queue.Queue
	monitor  *connectivity.Monitor
	entity   *fakeEntity
	calendar *fakeCalendar
	repo     *repository.MemoryStatusRepository
	orch     *Orchestrator
}

func newRig(t *testing.T) *rig {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "syncer.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	bus := events.NewBus()
	q := queue.New(db, bus, zerolog.Nop())
	monitor := connectivity.NewMonitor(nil, time.Minute, bus, zerolog.Nop())
	entity := &fakeEntity{failIDs: map[string]error{}}
	calendar := &fakeCalendar{}
	repo := repository.NewMemoryStatusRepository()

	orch := New(Options{
		Queue:      q,
		Store:      db,
		Entity:     entity,
		Calendar:   calendar,
		Monitor:    monitor,
		Bus:        bus,
		StatusRepo: repo,
		Debounce:   20 * time.Millisecond,
		Logger:     zerolog.Nop(),
	})

	return &rig{db: db, bus: bus, queue: q, monitor: monitor, entity: entity, calendar: calendar, repo: repo, orch: orch}
}

func TestSyncAllOfflineNoop(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.monitor.SetOnline(false)

	if err := r.queue.Enqueue(ctx, "ev-1", models.CollectionCalendar, models.ActionCreate, map[string]any{"title": "x"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := r.orch.SyncAll(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if len(r.entity.puts) != 0 {
		t.Fatalf("expected no remote calls while offline, got %d", len(r.entity.puts))
	}
	status := r.orch.Status(ctx)
	if status.PendingCount != 1 || status.IsOnline {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestIdempotentReplay(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	// Two creates for the same id before any drain collapse into one call
	// with the latest payload.
	for _, title := range []string{"old", "new"} {
		if err := r.queue.Enqueue(ctx, "ev-1", models.CollectionExtraHours, models.ActionCreate, map[string]any{"title": title}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := r.orch.SyncAll(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if len(r.entity.puts) != 1 {
		t.Fatalf("expected exactly one put, got %d", len(r.entity.puts))
	}
	if r.entity.puts[0].payload["title"] != "new" {
		t.Fatalf("expected latest payload, got %v", r.entity.puts[0].payload)
	}
	if empty, _ := r.queue.IsEmpty(ctx); !empty {
		t.Fatal("expected empty queue after successful drain")
	}
}

func TestContinueOnError(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.entity.failIDs["ev-2"] = errors.New("permission denied")

	for _, id := range []string{"ev-1", "ev-2", "ev-3"} {
		if err := r.queue.Enqueue(ctx, id, models.CollectionCycleData, models.ActionUpdate, map[string]any{"id": id}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := r.orch.SyncAll(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if len(r.entity.puts) != 2 {
		t.Fatalf("expected 2 successful puts, got %d", len(r.entity.puts))
	}
	pending, err := r.queue.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].EntityID != "ev-2" || pending[0].Retries != 1 {
		t.Fatalf("expected only ev-2 left with retries=1, got %+v", pending)
	}
	if pending[0].LastError == nil || *pending[0].LastError != "permission denied" {
		t.Fatalf("expected lastError recorded, got %+v", pending[0].LastError)
	}
}

func TestRetryCeilingAndManualRetry(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.entity.failIDs["ev-1"] = errors.New("network unreachable")

	if err := r.queue.Enqueue(ctx, "ev-1", models.CollectionExtraHours, models.ActionUpdate, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for i := 0; i < models.MaxSyncRetries; i++ {
		if err := r.orch.SyncAll(ctx); err != nil {
			t.Fatalf("sync %d: %v", i, err)
		}
	}

	pending, _ := r.queue.Pending(ctx)
	failed, _ := r.queue.Failed(ctx)
	if len(pending) != 0 || len(failed) != 1 {
		t.Fatalf("expected item in failed partition, pending=%d failed=%d", len(pending), len(failed))
	}
	if len(r.repo.DeadLetter()) != 1 {
		t.Fatalf("expected one dead-letter mirror, got %d", len(r.repo.DeadLetter()))
	}

	// Manual retry with the failure gone drains the item completely.
	delete(r.entity.failIDs, "ev-1")
	if err := r.orch.RetryFailed(ctx); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if empty, _ := r.queue.IsEmpty(ctx); !empty {
		t.Fatal("expected empty queue after manual retry")
	}
}

func TestReconnectDrainsOnceAndStampsLink(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.orch.Run(ctx)
	r.monitor.SetOnline(false)

	// Offline create: visible locally, queued for later.
	ev := &models.LocalEvent{ID: "ev-1", Date: "2026-03-10", Title: "shift", Type: models.EventTypeShift}
	if err := r.db.PutEvent(ctx, ev); err != nil {
		t.Fatalf("put event: %v", err)
	}
	if err := r.queue.Enqueue(ctx, ev.ID, models.CollectionCalendar, models.ActionCreate, ev.ToPayload()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// The edge handler runs synchronously, so the drain is done when
	// SetOnline returns.
	r.monitor.SetOnline(true)

	if len(r.calendar.created) != 1 {
		t.Fatalf("expected exactly one calendar create, got %d", len(r.calendar.created))
	}
	if len(r.entity.puts) != 1 {
		t.Fatalf("expected one entity put, got %d", len(r.entity.puts))
	}
	if r.entity.puts[0].payload["googleEventId"] != "g-ev-1" {
		t.Fatalf("expected payload to carry remote id, got %v", r.entity.puts[0].payload)
	}

	got, err := r.db.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if !got.SyncedToGoogle || got.GoogleEventID != "g-ev-1" {
		t.Fatalf("expected stamped link, got %+v", got)
	}
}

func TestCalendarDeleteGoesToBothRemotes(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if err := r.queue.Enqueue(ctx, "ev-1", models.CollectionCalendar, models.ActionDelete, map[string]any{"googleEventId": "g-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := r.orch.SyncAll(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if len(r.calendar.deleted) != 1 || r.calendar.deleted[0] != "g-1" {
		t.Fatalf("expected calendar delete of g-1, got %v", r.calendar.deleted)
	}
	if len(r.entity.deletes) != 1 || r.entity.deletes[0] != "ev-1" {
		t.Fatalf("expected entity delete of ev-1, got %v", r.entity.deletes)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	// While ev-1 is being drained, a new mutation arrives. It must not be
	// attempted by the same pass.
	r.entity.onPut = func(id string) {
		if id == "ev-1" {
			if err := r.queue.Enqueue(ctx, "ev-late", models.CollectionCycleData, models.ActionCreate, nil); err != nil {
				t.Errorf("mid-drain enqueue: %v", err)
			}
		}
	}

	if err := r.queue.Enqueue(ctx, "ev-1", models.CollectionCycleData, models.ActionCreate, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := r.orch.SyncAll(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if len(r.entity.puts) != 1 {
		t.Fatalf("expected the late item to wait for the next pass, got %d puts", len(r.entity.puts))
	}
	pending, _ := r.queue.Pending(ctx)
	if len(pending) != 1 || pending[0].EntityID != "ev-late" {
		t.Fatalf("expected ev-late still pending, got %+v", pending)
	}

	// The next pass picks it up.
	r.entity.onPut = nil
	if err := r.orch.SyncAll(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if empty, _ := r.queue.IsEmpty(ctx); !empty {
		t.Fatal("expected empty queue after second pass")
	}
}

func TestMidDrainUpdateForSameEntitySurvivesPass(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	// A newer mutation for the entity being drained lands while its remote
	// call is in flight. Completing the pass must not swallow it: the row
	// was re-enqueued, so the acknowledge leaves it for the next pass.
	r.entity.onPut = func(id string) {
		if id == "ev-1" {
			payload := map[string]any{"id": "ev-1", "title": "newer"}
			if err := r.queue.Enqueue(ctx, "ev-1", models.CollectionCycleData, models.ActionUpdate, payload); err != nil {
				t.Errorf("mid-drain enqueue: %v", err)
			}
		}
	}

	if err := r.queue.Enqueue(ctx, "ev-1", models.CollectionCycleData, models.ActionUpdate, map[string]any{"id": "ev-1", "title": "older"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := r.orch.SyncAll(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	pending, _ := r.queue.Pending(ctx)
	if len(pending) != 1 || pending[0].EntityID != "ev-1" {
		t.Fatalf("expected the newer mutation still pending, got %+v", pending)
	}
	if got := pending[0].Payload["title"]; got != "newer" {
		t.Fatalf("expected the newer payload to survive, got %v", got)
	}

	// The next pass delivers it.
	r.entity.onPut = nil
	if err := r.orch.SyncAll(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if empty, _ := r.queue.IsEmpty(ctx); !empty {
		t.Fatal("expected empty queue after second pass")
	}
	if len(r.entity.puts) != 2 {
		t.Fatalf("expected 2 puts across both passes, got %d", len(r.entity.puts))
	}
	last := r.entity.puts[len(r.entity.puts)-1]
	if last.payload["title"] != "newer" {
		t.Fatalf("expected the second pass to deliver the newer payload, got %v", last.payload)
	}
}

func TestDebouncedDrainCoalescesBursts(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.orch.Run(ctx)

	var puts int
	var mu sync.Mutex
	r.entity.onPut = func(string) {
		mu.Lock()
		puts++
		mu.Unlock()
	}

	// A burst of mutations while online and idle schedules one drain.
	for _, id := range []string{"a", "b", "c"} {
		if err := r.queue.Enqueue(ctx, id, models.CollectionExtraHours, models.ActionCreate, nil); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		if empty, _ := r.queue.IsEmpty(ctx); empty {
			break
		}
		select {
		case <-deadline:
			t.Fatal("queue never drained")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if puts != 3 {
		t.Fatalf("expected all 3 items drained, got %d", puts)
	}
}

func TestStatusPushedOnTransitions(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	var statuses []models.SyncStatus
	var mu sync.Mutex
	r.bus.Subscribe(events.TopicStatusChanged, func(ev *events.Event) error {
		var s models.SyncStatus
		if err := json.Unmarshal(ev.Payload, &s); err != nil {
			return err
		}
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
		return nil
	})

	if err := r.queue.Enqueue(ctx, "ev-1", models.CollectionCalendar, models.ActionCreate, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := r.orch.SyncAll(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) < 2 {
		t.Fatalf("expected at least start and end status pushes, got %d", len(statuses))
	}
	first, last := statuses[0], statuses[len(statuses)-1]
	if !first.IsSyncing {
		t.Fatalf("expected first push with isSyncing=true, got %+v", first)
	}
	if last.IsSyncing || last.PendingCount != 0 || last.LastSyncTime == nil {
		t.Fatalf("expected settled final status, got %+v", last)
	}

	// The repository holds the latest snapshot for late subscribers.
	saved, err := r.repo.LoadStatus(ctx)
	if err != nil || saved == nil {
		t.Fatalf("expected saved snapshot, err=%v", err)
	}
	if saved.LastSyncTime == nil {
		t.Fatalf("expected persisted lastSyncTime, got %+v", saved)
	}
}

func TestLastSyncTimeSurvivesRestart(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if err := r.orch.SyncAll(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	want := r.orch.Status(ctx).LastSyncTime
	if want == nil {
		t.Fatal("expected lastSyncTime set after a pass")
	}

	reopened := New(Options{
		Queue:    r.queue,
		Store:    r.db,
		Entity:   r.entity,
		Calendar: r.calendar,
		Monitor:  r.monitor,
		Bus:      events.NewBus(),
		Logger:   zerolog.Nop(),
	})
	got := reopened.Status(ctx).LastSyncTime
	if got == nil || !got.Equal(*want) {
		t.Fatalf("expected lastSyncTime %v after restart, got %v", want, got)
	}
}
