// Package domain holds the contracts between the sync core and its external
// collaborators. The concrete document-store and calendar clients live in
// internal/google; tests substitute fakes.
package domain

import (
	"context"
	"time"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/models"
)

// EntityClient writes single entities to the remote document store.
type EntityClient interface {
	// Put creates or updates a document. With merge set, existing remote
	// fields not present in the payload are preserved.
	Put(ctx context.Context, collectionPath, id string, payload map[string]any, merge bool) error
	Delete(ctx context.Context, collectionPath, id string) error
}

// CalendarClient talks to the remote calendar service.
type CalendarClient interface {
	ListEvents(ctx context.Context, start, end time.Time) ([]models.RemoteEvent, error)
	// CreateEvent returns the remote event id, or "" when the service
	// accepted nothing.
	CreateEvent(ctx context.Context, ev *models.LocalEvent) (string, error)
	// DeleteEvent reports whether the event existed remotely.
	DeleteEvent(ctx context.Context, remoteID string) (bool, error)
}

// StatusRepository persists the latest aggregate sync status and mirrors
// dead-lettered items for inspection.
type StatusRepository interface {
	SaveStatus(ctx context.Context, status *models.SyncStatus) error
	LoadStatus(ctx context.Context) (*models.SyncStatus, error)
	PushDeadLetter(ctx context.Context, item *models.PendingSyncItem) error
}
