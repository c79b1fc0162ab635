package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"atelier/internal/database"
	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/models"

	"github.com/rs/zerolog"
)

// BookingService drives the negotiation half of the workflow: request,
// consultation, quote, payment. Gateway side effects always run before
// the local transition commits.
type BookingService struct {
	repo       domain.BookingRepository
	tailors    domain.TailorRepository
	gateway    domain.PaymentGateway
	idem       domain.IdempotencyStore
	settings   domain.SettingsProvider
	eventBus   domain.EventPublisher
	syncWorker domain.SyncWorker
	logger     *zerolog.Logger
}

func NewBookingService(
	repo domain.BookingRepository,
	tailors domain.TailorRepository,
	gateway domain.PaymentGateway,
	idem domain.IdempotencyStore,
	settings domain.SettingsProvider,
	eventBus domain.EventPublisher,
	syncWorker domain.SyncWorker,
	logger *zerolog.Logger,
) *BookingService {
	return &BookingService{
		repo:       repo,
		tailors:    tailors,
		gateway:    gateway,
		idem:       idem,
		settings:   settings,
		eventBus:   eventBus,
		syncWorker: syncWorker,
		logger:     logger,
	}
}

func (s *BookingService) RequestBooking(ctx context.Context, booking *models.Booking) error {
	if booking.Date.Before(time.Now().AddDate(0, 0, -1)) {
		return ErrPastDate
	}

	tailor, err := s.tailors.GetTailor(ctx, booking.TailorID)
	if err != nil {
		return err
	}
	if !tailor.AcceptingBookings {
		return ErrTailorNotAccepting
	}

	booking.Status = models.BookingPending
	booking.PaymentStatus = models.PaymentPending
	change := models.StatusChange{
		Status:    models.BookingPending,
		ActorRole: models.RoleCustomer,
		ActorID:   booking.CustomerID,
	}
	if err := s.repo.CreateBooking(ctx, booking, change); err != nil {
		return err
	}

	s.publish(events.EventBookingRequested, booking, "", models.Actor{ID: booking.CustomerID, Role: models.RoleCustomer}, "")
	s.enqueueSync(ctx, "upsert", booking.ID)
	return nil
}

func (s *BookingService) Confirm(ctx context.Context, id, version int64, actor models.Actor) error {
	booking, err := s.loadForTailor(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.guard(booking, models.BookingConfirmed); err != nil {
		return err
	}

	change := actorChange(models.BookingConfirmed, actor, "")
	if err := s.repo.UpdateBookingStatusWithVersion(ctx, id, version, booking.Status, models.BookingConfirmed, change); err != nil {
		return err
	}

	s.publish(events.EventBookingConfirmed, booking, booking.Status, actor, "")
	s.enqueueSync(ctx, "update_status", id)
	return nil
}

func (s *BookingService) Decline(ctx context.Context, id, version int64, reason string, actor models.Actor) error {
	booking, err := s.loadForTailor(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.guard(booking, models.BookingDeclined); err != nil {
		return err
	}

	change := actorChange(models.BookingDeclined, actor, reason)
	if err := s.repo.UpdateBookingStatusWithVersion(ctx, id, version, booking.Status, models.BookingDeclined, change); err != nil {
		return err
	}

	s.publish(events.EventBookingDeclined, booking, booking.Status, actor, reason)
	s.enqueueSync(ctx, "update_status", id)
	return nil
}

func (s *BookingService) CompleteConsultation(ctx context.Context, id, version int64, notes string, actor models.Actor) error {
	booking, err := s.loadForTailor(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.guard(booking, models.BookingConsultationDone); err != nil {
		return err
	}

	change := actorChange(models.BookingConsultationDone, actor, "")
	if err := s.repo.CompleteBookingConsultation(ctx, id, version, notes, change); err != nil {
		return err
	}

	s.publish(events.EventConsultationCompleted, booking, booking.Status, actor, "")
	s.enqueueSync(ctx, "update_status", id)
	return nil
}

// SubmitQuote prices the work. The total is labor plus material; the
// per-stage estimates double as the seed of the work plan later on.
func (s *BookingService) SubmitQuote(ctx context.Context, id, version int64, quote *models.Quote, actor models.Actor) error {
	booking, err := s.loadForTailor(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.guard(booking, models.BookingQuoteSubmitted); err != nil {
		return err
	}

	if len(quote.StageEstimates) == 0 {
		return fmt.Errorf("quote must carry at least one stage estimate")
	}
	for _, e := range quote.StageEstimates {
		if e.Days <= 0 {
			return fmt.Errorf("stage estimate %q must be at least one day", e.Name)
		}
	}

	quote.TotalAmount = quote.LaborCost + quote.MaterialCost
	if quote.Currency == "" {
		quote.Currency = models.DefaultCurrency
	}
	now := time.Now()
	quote.SubmittedAt = now
	quote.ValidUntil = now.AddDate(0, 0, s.settings.Workflow(ctx).QuoteValidityDays)
	quote.Response = models.QuoteResponse{Status: models.QuotePending}

	change := actorChange(models.BookingQuoteSubmitted, actor, "")
	if err := s.repo.SubmitBookingQuote(ctx, id, version, quote, change); err != nil {
		return err
	}

	s.publish(events.EventQuoteSubmitted, booking, booking.Status, actor, "")
	s.enqueueSync(ctx, "upsert", id)
	return nil
}

// RespondToQuote records the customer's verdict. Rejection reopens the
// consultation stage so the tailor can revise and requote.
func (s *BookingService) RespondToQuote(ctx context.Context, id, version int64, accept bool, reason string, actor models.Actor) error {
	booking, err := s.loadForCustomer(ctx, id, actor)
	if err != nil {
		return err
	}

	to := models.BookingQuoteAccepted
	eventType := events.EventQuoteAccepted
	if !accept {
		to = models.BookingConsultationDone
		eventType = events.EventQuoteRejected
	}
	if err := s.guard(booking, to); err != nil {
		return err
	}
	if booking.Quote == nil {
		return bookingTransitionErr(booking.Status, to)
	}
	if accept && time.Now().After(booking.Quote.ValidUntil) {
		return ErrQuoteExpired
	}

	now := time.Now()
	quote := *booking.Quote
	quote.Response = models.QuoteResponse{Status: models.QuoteAccepted, RespondedAt: &now}
	if !accept {
		quote.Response.Status = models.QuoteRejected
		quote.Response.Reason = reason
	}

	change := actorChange(to, actor, reason)
	if err := s.repo.RespondBookingQuote(ctx, id, version, &quote, to, change); err != nil {
		return err
	}

	s.publish(eventType, booking, booking.Status, actor, reason)
	s.enqueueSync(ctx, "update_status", id)
	return nil
}

// Pay places the quoted amount into escrow. The hold must succeed
// before the booking is marked paid; a gateway failure leaves the
// booking untouched in quote_accepted.
func (s *BookingService) Pay(ctx context.Context, id, version int64, actor models.Actor) error {
	booking, err := s.loadForCustomer(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.guard(booking, models.BookingPaid); err != nil {
		return err
	}
	if booking.Quote == nil {
		return bookingTransitionErr(booking.Status, models.BookingPaid)
	}

	ref := fmt.Sprintf("booking-%d", id)
	escrowRef, err := s.gateway.AuthorizeAndHold(ctx, booking.Quote.TotalAmount, booking.Quote.Currency, booking.TailorID, ref)
	if err != nil {
		return gatewayErr("authorize", err)
	}

	change := actorChange(models.BookingPaid, actor, "")
	if err := s.repo.MarkBookingPaid(ctx, id, version, escrowRef, change); err != nil {
		// The hold is orphaned; cancel it so funds are not stuck.
		if cErr := s.gateway.Cancel(ctx, escrowRef); cErr != nil {
			s.logger.Error().Err(cErr).Str("escrow_ref", escrowRef).Msg("failed to cancel orphaned escrow hold")
		}
		return err
	}

	s.publish(events.EventBookingPaid, booking, booking.Status, actor, "")
	s.enqueueSync(ctx, "update_status", id)
	return nil
}

// Cancel closes the booking from any non-terminal status. A held
// payment is refunded in full before the cancellation commits; the
// refund is keyed so a retried cancel never refunds twice.
func (s *BookingService) Cancel(ctx context.Context, id, version int64, reason string, actor models.Actor) error {
	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && actor.ID != booking.CustomerID && actor.ID != booking.TailorID {
		return ErrUnauthorized
	}
	if err := s.guard(booking, models.BookingCancelled); err != nil {
		return err
	}

	paymentStatus := booking.PaymentStatus
	if booking.PaymentStatus == models.PaymentHeld && booking.Quote != nil {
		if err := s.refundHeld(ctx, booking); err != nil {
			return err
		}
		paymentStatus = models.PaymentRefunded
	}

	change := actorChange(models.BookingCancelled, actor, reason)
	if err := s.repo.CancelBooking(ctx, id, version, booking.Status, reason, paymentStatus, change); err != nil {
		return err
	}

	s.publish(events.EventBookingCancelled, booking, booking.Status, actor, reason)
	s.enqueueSync(ctx, "update_status", id)
	return nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

func (s *BookingService) GetBookingHistory(ctx context.Context, id int64, limit, offset int) ([]models.StatusChange, error) {
	if _, err := s.repo.GetBooking(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetBookingHistory(ctx, id, limit, offset)
}

func (s *BookingService) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	return s.repo.GetBookingsByDateRange(ctx, start, end)
}

func (s *BookingService) refundHeld(ctx context.Context, booking *models.Booking) error {
	key := fmt.Sprintf("refund:booking:%d", booking.ID)
	acquired, err := s.idem.Acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to acquire refund key: %w", err)
	}
	if !acquired {
		return nil // already refunded by an earlier attempt
	}
	if err := s.gateway.Refund(ctx, booking.EscrowRef, booking.Quote.TotalAmount); err != nil {
		if rErr := s.idem.Release(ctx, key); rErr != nil {
			s.logger.Error().Err(rErr).Str("key", key).Msg("failed to release refund key")
		}
		return gatewayErr("refund", err)
	}
	return nil
}

func (s *BookingService) guard(booking *models.Booking, to string) error {
	if !models.CanTransitionBooking(booking.Status, to) {
		return bookingTransitionErr(booking.Status, to)
	}
	return nil
}

func (s *BookingService) loadForTailor(ctx context.Context, id int64, actor models.Actor) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !(actor.Role == models.RoleTailor && actor.ID == booking.TailorID) {
		return nil, ErrUnauthorized
	}
	return booking, nil
}

func (s *BookingService) loadForCustomer(ctx context.Context, id int64, actor models.Actor) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !(actor.Role == models.RoleCustomer && actor.ID == booking.CustomerID) {
		return nil, ErrUnauthorized
	}
	return booking, nil
}

func (s *BookingService) publish(eventType string, booking *models.Booking, previous string, actor models.Actor, note string) {
	if s.eventBus == nil {
		return
	}
	payload := events.StatusChangePayload{
		Entity:         "booking",
		EntityID:       booking.ID,
		BookingID:      booking.ID,
		CustomerID:     booking.CustomerID,
		TailorID:       booking.TailorID,
		PreviousStatus: previous,
		NewStatus:      statusForEvent(eventType, booking.Status),
		ActorRole:      actor.Role,
		ActorID:        actor.ID,
		Note:           note,
		OccurredAt:     time.Now(),
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

// statusForEvent maps the event back to the status the transition just
// wrote; the loaded booking still carries the pre-transition status.
func statusForEvent(eventType, fallback string) string {
	switch eventType {
	case events.EventBookingRequested:
		return models.BookingPending
	case events.EventBookingConfirmed:
		return models.BookingConfirmed
	case events.EventBookingDeclined:
		return models.BookingDeclined
	case events.EventConsultationCompleted:
		return models.BookingConsultationDone
	case events.EventQuoteSubmitted:
		return models.BookingQuoteSubmitted
	case events.EventQuoteAccepted:
		return models.BookingQuoteAccepted
	case events.EventQuoteRejected:
		return models.BookingConsultationDone
	case events.EventBookingPaid:
		return models.BookingPaid
	case events.EventBookingConverted:
		return models.BookingConverted
	case events.EventBookingCancelled:
		return models.BookingCancelled
	}
	return fallback
}

func (s *BookingService) enqueueSync(ctx context.Context, taskType string, bookingID int64) {
	if s.syncWorker == nil {
		return
	}
	if err := s.syncWorker.EnqueueTask(ctx, taskType, "booking", bookingID, nil); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", bookingID).Msg("failed to enqueue sync task")
	}
}

func actorChange(status string, actor models.Actor, note string) models.StatusChange {
	return models.StatusChange{
		Status:    status,
		ChangedAt: time.Now(),
		ActorRole: actor.Role,
		ActorID:   actor.ID,
		Note:      note,
	}
}

// IsConflict reports whether the error belongs to the concurrency
// family that a client should retry after re-reading.
func IsConflict(err error) bool {
	return errors.Is(err, database.ErrConcurrentModification) ||
		errors.Is(err, database.ErrSlotTaken) ||
		errors.Is(err, database.ErrDuplicateOrder) ||
		errors.Is(err, database.ErrDuplicatePendingDelay)
}
