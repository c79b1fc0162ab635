package notify

import (
	"context"
	"fmt"
	"time"

	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/metrics"

	"github.com/rs/zerolog"
)

const sendTimeout = 10 * time.Second

// Dispatcher renders transition events into human-readable messages
// and hands them to a Notifier. It subscribes after the bus is built
// and before any service publishes, so no transition is missed.
// Delivery failures are logged and counted, never propagated back.
type Dispatcher struct {
	notifier domain.Notifier
	logger   *zerolog.Logger
}

func NewDispatcher(notifier domain.Notifier, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{notifier: notifier, logger: logger}
}

// Attach subscribes the dispatcher to every workflow event on the bus.
func (d *Dispatcher) Attach(bus *events.EventBus) {
	bus.SubscribeAll(events.BookingEvents(), d.handle)
	bus.SubscribeAll(events.OrderEvents(), d.handle)
	bus.SubscribeAll([]string{
		events.EventPlanDeadlineReminder,
		events.EventPlanOverdue,
		events.EventOrderOverdue,
	}, d.handle)
}

func (d *Dispatcher) handle(event *events.Event) error {
	payload, err := events.DecodeStatusChange(event)
	if err != nil {
		d.logger.Error().Err(err).Str("event", event.Type).Msg("failed to decode event payload")
		return nil
	}

	text := renderMessage(event.Type, payload)
	if text == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := d.notifier.Send(ctx, text); err != nil {
		metrics.IncNotifyFailure()
		d.logger.Error().Err(err).Str("event", event.Type).Int64("entity_id", payload.EntityID).Msg("notification delivery failed")
	}
	return nil
}

func renderMessage(eventType string, p events.StatusChangePayload) string {
	switch eventType {
	case events.EventBookingRequested:
		return fmt.Sprintf("🆕 Booking #%d: customer %d requested a consultation with tailor %d", p.EntityID, p.CustomerID, p.TailorID)
	case events.EventBookingConfirmed:
		return fmt.Sprintf("✅ Booking #%d confirmed by tailor %d", p.EntityID, p.TailorID)
	case events.EventBookingDeclined:
		return fmt.Sprintf("❌ Booking #%d declined by tailor %d: %s", p.EntityID, p.TailorID, noteOr(p.Note, "no reason given"))
	case events.EventConsultationCompleted:
		return fmt.Sprintf("📋 Booking #%d: consultation completed", p.EntityID)
	case events.EventQuoteSubmitted:
		return fmt.Sprintf("💰 Booking #%d: quote submitted, waiting for customer %d", p.EntityID, p.CustomerID)
	case events.EventQuoteAccepted:
		return fmt.Sprintf("🤝 Booking #%d: quote accepted", p.EntityID)
	case events.EventQuoteRejected:
		return fmt.Sprintf("🙅 Booking #%d: quote rejected: %s", p.EntityID, noteOr(p.Note, "no reason given"))
	case events.EventBookingPaid:
		return fmt.Sprintf("💳 Booking #%d: payment held in escrow", p.EntityID)
	case events.EventBookingCancelled:
		return fmt.Sprintf("🚫 Booking #%d cancelled by %s: %s", p.EntityID, p.ActorRole, noteOr(p.Note, "no reason given"))
	case events.EventOrderCreated:
		return fmt.Sprintf("🧵 Order #%d opened from booking #%d", p.EntityID, p.BookingID)
	case events.EventWorkPlanSubmitted:
		return fmt.Sprintf("🗓 Order #%d: work plan submitted for review", p.EntityID)
	case events.EventWorkPlanApproved:
		return fmt.Sprintf("▶️ Order #%d: work plan approved, work started", p.EntityID)
	case events.EventWorkPlanRejected:
		return fmt.Sprintf("↩️ Order #%d: work plan rejected: %s", p.EntityID, noteOr(p.Note, "no reason given"))
	case events.EventStageCompleted:
		return fmt.Sprintf("🏁 Order #%d: %s", p.EntityID, noteOr(p.Note, "stage completed"))
	case events.EventOrderReady:
		return fmt.Sprintf("📦 Order #%d is ready for delivery", p.EntityID)
	case events.EventDelayRequested:
		return fmt.Sprintf("⏳ Order #%d: tailor requested a delay: %s", p.EntityID, noteOr(p.Note, ""))
	case events.EventDelayReviewed:
		return fmt.Sprintf("⏳ Order #%d: delay request %s", p.EntityID, noteOr(p.Note, "reviewed"))
	case events.EventOrderCompleted:
		return fmt.Sprintf("🎉 Order #%d completed, funds released to tailor %d", p.EntityID, p.TailorID)
	case events.EventOrderCancelled:
		return fmt.Sprintf("🚫 Order #%d cancelled by %s: %s", p.EntityID, p.ActorRole, noteOr(p.Note, "no reason given"))
	case events.EventDisputeRaised:
		return fmt.Sprintf("⚠️ Order #%d: dispute raised by %s: %s", p.EntityID, p.ActorRole, noteOr(p.Note, ""))
	case events.EventDisputeResolved:
		return fmt.Sprintf("⚖️ Order #%d: dispute resolved: %s", p.EntityID, noteOr(p.Note, ""))
	case events.EventPlanDeadlineReminder:
		return fmt.Sprintf("⏰ Order #%d: work plan deadline approaching for tailor %d", p.EntityID, p.TailorID)
	case events.EventPlanOverdue:
		return fmt.Sprintf("🔴 Order #%d: work plan deadline missed by tailor %d", p.EntityID, p.TailorID)
	case events.EventOrderOverdue:
		return fmt.Sprintf("🔴 Order #%d: estimated completion date passed", p.EntityID)
	}
	return ""
}

func noteOr(note, fallback string) string {
	if note == "" {
		return fallback
	}
	return note
}
