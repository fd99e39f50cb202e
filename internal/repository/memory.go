package repository

import (
	"context"
	"sync"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/models"
)

// MemoryStatusRepository keeps the snapshot in process memory. Used directly
// in tests and as the failover target when redis is down.
type MemoryStatusRepository struct {
	mu         sync.RWMutex
	status     *models.SyncStatus
	deadLetter []models.PendingSyncItem
}

func NewMemoryStatusRepository() *MemoryStatusRepository {
	return &MemoryStatusRepository{}
}

func (r *MemoryStatusRepository) SaveStatus(_ context.Context, status *models.SyncStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *status
	r.status = &copied
	return nil
}

func (r *MemoryStatusRepository) LoadStatus(_ context.Context) (*models.SyncStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.status == nil {
		return nil, nil
	}
	copied := *r.status
	return &copied, nil
}

func (r *MemoryStatusRepository) PushDeadLetter(_ context.Context, item *models.PendingSyncItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadLetter = append(r.deadLetter, *item)
	return nil
}

// DeadLetter returns a copy of the accumulated dead-letter items.
func (r *MemoryStatusRepository) DeadLetter() []models.PendingSyncItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.PendingSyncItem(nil), r.deadLetter...)
}
