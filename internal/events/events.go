package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Topics published by the sync core. Consumers (UI, API) subscribe instead of
// polling; every state transition is pushed.
const (
	TopicQueueChanged        = "queue_changed"
	TopicStatusChanged       = "sync_status_changed"
	TopicConnectivityChanged = "connectivity_changed"
	TopicEventsRefreshed     = "events_refreshed"
)

// QueueChangePayload describes one queue mutation.
type QueueChangePayload struct {
	EntityID   string `json:"entity_id"`
	Collection string `json:"collection"`
	Action     string `json:"action"`
	Pending    int    `json:"pending"`
	Failed     int    `json:"failed"`
}

// ConnectivityPayload carries an online/offline edge.
type ConnectivityPayload struct {
	Online bool `json:"online"`
}

// Event represents a lightweight in-process notification.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Handler reacts to an event.
type Handler func(event *Event) error

// Bus provides in-process pub/sub. The zero value is not usable; construct
// with NewBus. A nil *Bus is safe to publish to (no-op), which keeps
// notification optional in tests.
type Bus struct {
	subscribers map[string][]Handler
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Publish notifies subscribers of the topic. Handlers run synchronously in
// subscription order; a handler error never stops the fan-out.
func (b *Bus) Publish(event *Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes it under the topic.
func (b *Bus) PublishJSON(topic string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: topic, Payload: raw, CreatedAt: time.Now()})
	return nil
}
