package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	handler := func(event *Event) error {
		received = event
		callCount++
		return nil
	}

	bus.Subscribe(EventBookingRequested, handler)

	payload := StatusChangePayload{
		Entity:     "booking",
		EntityID:   42,
		NewStatus:  "pending",
		ActorRole:  "customer",
		ActorID:    7,
		OccurredAt: time.Now(),
	}
	err := bus.PublishJSON(EventBookingRequested, payload)
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}

	if received.Type != EventBookingRequested {
		t.Errorf("expected type %s, got %s", EventBookingRequested, received.Type)
	}

	decoded, err := DecodeStatusChange(received)
	if err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.EntityID != 42 || decoded.NewStatus != "pending" {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "event"})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Publishing with no subscribers must not panic.
	if err := bus.PublishJSON("nobody_listens", map[string]string{"a": "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	var count int
	bus.SubscribeAll(BookingEvents(), func(_ *Event) error { count++; return nil })

	for _, evt := range BookingEvents() {
		bus.Publish(&Event{Type: evt})
	}
	if count != len(BookingEvents()) {
		t.Errorf("expected %d calls, got %d", len(BookingEvents()), count)
	}
}

func TestEventBusNil(t *testing.T) {
	var bus *EventBus
	if err := bus.PublishJSON("x", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("nil bus should be a no-op, got %v", err)
	}
}
