package events

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestBusPublishJSON(t *testing.T) {
	bus := NewBus()

	var received *Event
	var callCount int

	bus.Subscribe(TopicQueueChanged, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	payload := QueueChangePayload{EntityID: "ev-1", Collection: "calendar", Action: "create", Pending: 1}
	if err := bus.PublishJSON(TopicQueueChanged, payload); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if received.Type != TopicQueueChanged {
		t.Errorf("expected type %s, got %s", TopicQueueChanged, received.Type)
	}

	var decoded QueueChangePayload
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.EntityID != "ev-1" || decoded.Pending != 1 {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}

func TestBusHandlerErrorDoesNotStopFanout(t *testing.T) {
	bus := NewBus()
	var count1, count2 int

	bus.Subscribe("edge", func(_ *Event) error { count1++; return errors.New("boom") })
	bus.Subscribe("edge", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "edge"})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestBusNoSubscribers(t *testing.T) {
	bus := NewBus()
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	if err := bus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}
}

func TestNilBusIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(&Event{Type: "anything"})
	if err := bus.PublishJSON("anything", ConnectivityPayload{Online: true}); err != nil {
		t.Errorf("nil bus PublishJSON: %v", err)
	}
}
