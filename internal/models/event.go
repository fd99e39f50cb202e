package models

import "time"

// Event types as stored in the local database.
const (
	EventTypeLocal = "local"
	EventTypeShift = "shift"
	EventTypeNote  = "note"
)

// LocalEvent is a calendar record owned by the local store. GoogleEventID is
// set once a confirmed remote calendar counterpart exists; SyncedToGoogle is
// never true without it.
type LocalEvent struct {
	ID             string    `json:"id"`
	Date           string    `json:"date"` // ISO date, 2006-01-02
	Title          string    `json:"title"`
	Type           string    `json:"type"`
	ShiftType      string    `json:"shiftType,omitempty"`
	GoogleEventID  string    `json:"googleEventId,omitempty"`
	SyncedToGoogle bool      `json:"syncedToGoogle"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ToPayload flattens the event into a document-store payload.
func (e *LocalEvent) ToPayload() map[string]any {
	p := map[string]any{
		"id":             e.ID,
		"date":           e.Date,
		"title":          e.Title,
		"type":           e.Type,
		"syncedToGoogle": e.SyncedToGoogle,
	}
	if e.ShiftType != "" {
		p["shiftType"] = e.ShiftType
	}
	if e.GoogleEventID != "" {
		p["googleEventId"] = e.GoogleEventID
	}
	return p
}

// EventFromPayload rebuilds an event from a queued document payload.
func EventFromPayload(id string, payload map[string]any) *LocalEvent {
	ev := &LocalEvent{ID: id}
	if v, ok := payload["id"].(string); ok && v != "" {
		ev.ID = v
	}
	ev.Date, _ = payload["date"].(string)
	ev.Title, _ = payload["title"].(string)
	ev.Type, _ = payload["type"].(string)
	ev.ShiftType, _ = payload["shiftType"].(string)
	ev.GoogleEventID, _ = payload["googleEventId"].(string)
	ev.SyncedToGoogle, _ = payload["syncedToGoogle"].(bool)
	return ev
}

// RemoteEvent is a calendar-service event as returned by the remote list call.
type RemoteEvent struct {
	ID      string    `json:"id"`
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Status  string    `json:"status"`
}

// Date returns the ISO calendar date of the event start.
func (e *RemoteEvent) Date() string {
	return e.Start.Format("2006-01-02")
}
