package events

import (
	"encoding/json"
	"sync"
	"time"

	"atelier/internal/metrics"
)

const (
	EventBookingRequested      = "booking_requested"
	EventBookingConfirmed      = "booking_confirmed"
	EventBookingDeclined       = "booking_declined"
	EventConsultationCompleted = "consultation_completed"
	EventQuoteSubmitted        = "quote_submitted"
	EventQuoteAccepted         = "quote_accepted"
	EventQuoteRejected         = "quote_rejected"
	EventBookingPaid           = "booking_paid"
	EventBookingConverted      = "booking_converted"
	EventBookingCancelled      = "booking_cancelled"

	EventOrderCreated      = "order_created"
	EventWorkPlanSubmitted = "work_plan_submitted"
	EventWorkPlanApproved  = "work_plan_approved"
	EventWorkPlanRejected  = "work_plan_rejected"
	EventStageCompleted    = "stage_completed"
	EventOrderReady        = "order_ready"
	EventDelayRequested    = "delay_requested"
	EventDelayReviewed     = "delay_reviewed"
	EventOrderCompleted    = "order_completed"
	EventOrderCancelled    = "order_cancelled"
	EventDisputeRaised     = "dispute_raised"
	EventDisputeResolved   = "dispute_resolved"

	EventPlanDeadlineReminder = "plan_deadline_reminder"
	EventPlanOverdue          = "plan_overdue"
	EventOrderOverdue         = "order_overdue"
)

// StatusChangePayload is the post-commit snapshot every transition
// publishes: consumers (notifications, sheets sync, metrics) subscribe
// independently so their failures stay decoupled from the transition.
type StatusChangePayload struct {
	Entity         string    `json:"entity"` // booking or order
	EntityID       int64     `json:"entity_id"`
	BookingID      int64     `json:"booking_id,omitempty"`
	CustomerID     int64     `json:"customer_id"`
	TailorID       int64     `json:"tailor_id"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	NewStatus      string    `json:"new_status"`
	ActorRole      string    `json:"actor_role"`
	ActorID        int64     `json:"actor_id,omitempty"`
	Note           string    `json:"note,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every listed event type.
func (b *EventBus) SubscribeAll(eventTypes []string, handler EventHandler) {
	for _, t := range eventTypes {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// DecodeStatusChange unmarshals the standard transition payload.
func DecodeStatusChange(event *Event) (StatusChangePayload, error) {
	var p StatusChangePayload
	err := json.Unmarshal(event.Payload, &p)
	return p, err
}

// AttachMetrics subscribes the transition counters to every booking
// and order event, so the metric follows committed transitions only.
func AttachMetrics(bus *EventBus) {
	bus.SubscribeAll(append(BookingEvents(), OrderEvents()...), func(event *Event) error {
		payload, err := DecodeStatusChange(event)
		if err != nil {
			return err
		}
		metrics.IncTransition(payload.Entity, payload.NewStatus)
		return nil
	})
}

// BookingEvents lists every booking transition event type.
func BookingEvents() []string {
	return []string{
		EventBookingRequested, EventBookingConfirmed, EventBookingDeclined,
		EventConsultationCompleted, EventQuoteSubmitted, EventQuoteAccepted,
		EventQuoteRejected, EventBookingPaid, EventBookingConverted,
		EventBookingCancelled,
	}
}

// OrderEvents lists every order transition event type.
func OrderEvents() []string {
	return []string{
		EventOrderCreated, EventWorkPlanSubmitted, EventWorkPlanApproved,
		EventWorkPlanRejected, EventStageCompleted, EventOrderReady,
		EventDelayRequested, EventDelayReviewed, EventOrderCompleted,
		EventOrderCancelled, EventDisputeRaised, EventDisputeResolved,
	}
}
