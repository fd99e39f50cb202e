package models

import "time"

// Collection is a logical partition of synced records in the document store.
type Collection string

const (
	CollectionCalendar   Collection = "calendar"
	CollectionCycleData  Collection = "cycle_data"
	CollectionExtraHours Collection = "extra_hours"
)

// Path returns the document-store collection path.
func (c Collection) Path() string { return string(c) }

// SyncAction is the kind of mutation a queue item carries.
type SyncAction string

const (
	ActionCreate SyncAction = "create"
	ActionUpdate SyncAction = "update"
	ActionDelete SyncAction = "delete"
)

// Queue item classification. An item that exhausts MaxSyncRetries is marked
// failed but stays in the ledger until removed or retried on demand.
const (
	SyncStatusPending = "pending"
	SyncStatusFailed  = "failed"
)

// MaxSyncRetries is the retry ceiling after which an item is classified failed.
const MaxSyncRetries = 3

// PendingSyncItem is one queued mutation. At most one active item exists per
// (EntityID, Collection) pair; a newer enqueue replaces the payload.
type PendingSyncItem struct {
	EntityID   string         `json:"entity_id"`
	Collection Collection     `json:"collection"`
	Action     SyncAction     `json:"action"`
	Payload    map[string]any `json:"payload,omitempty"`
	Status     string         `json:"status"`
	Retries    int            `json:"retries"`
	LastError  *string        `json:"last_error,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Failed reports whether the item sits in the failed partition.
func (i *PendingSyncItem) Failed() bool {
	return i.Status == SyncStatusFailed
}
