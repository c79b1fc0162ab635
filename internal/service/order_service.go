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

// OrderService drives the execution half of the workflow: work plan,
// stage progression, delays, completion, disputes. Escrow capture and
// refund are idempotency-keyed so retried transitions never move money
// twice.
type OrderService struct {
	repo       domain.OrderRepository
	bookings   domain.BookingRepository
	gateway    domain.PaymentGateway
	idem       domain.IdempotencyStore
	settings   domain.SettingsProvider
	eventBus   domain.EventPublisher
	syncWorker domain.SyncWorker
	logger     *zerolog.Logger
}

func NewOrderService(
	repo domain.OrderRepository,
	bookings domain.BookingRepository,
	gateway domain.PaymentGateway,
	idem domain.IdempotencyStore,
	settings domain.SettingsProvider,
	eventBus domain.EventPublisher,
	syncWorker domain.SyncWorker,
	logger *zerolog.Logger,
) *OrderService {
	return &OrderService{
		repo:       repo,
		bookings:   bookings,
		gateway:    gateway,
		idem:       idem,
		settings:   settings,
		eventBus:   eventBus,
		syncWorker: syncWorker,
		logger:     logger,
	}
}

// CreateFromBooking converts a paid booking into an order. With
// auto-plan enabled the order starts executing a default plan seeded
// from the quote's stage estimates; otherwise the tailor gets a plan
// deadline. Safe to retry: a second call finds the existing order.
func (s *OrderService) CreateFromBooking(ctx context.Context, bookingID int64, actor models.Actor) (*models.Order, error) {
	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingPaid {
		return nil, bookingTransitionErr(booking.Status, models.BookingConverted)
	}

	cfg := s.settings.Workflow(ctx)
	order := &models.Order{
		BookingID:  bookingID,
		CustomerID: booking.CustomerID,
		TailorID:   booking.TailorID,
	}

	var stages []models.Stage
	if cfg.AutoPlanEnabled {
		stages = defaultPlan(booking.Quote)
		total := 0
		for _, st := range stages {
			total += st.EstimatedDays
		}
		now := time.Now()
		completion := now.AddDate(0, 0, total)
		order.Status = models.OrderInProgress
		order.TotalEstimatedDays = total
		order.EstimatedCompletion = &completion
		stages[0].Status = models.StageInProgress
		stages[0].StartedAt = &now
	} else {
		deadline := time.Now().Add(time.Duration(cfg.PlanDeadlineHours) * time.Hour)
		order.Status = models.OrderAwaitingPlan
		order.PlanDeadline = &deadline
	}

	change := actorChange(order.Status, actor, "")
	if err := s.repo.CreateOrder(ctx, order, stages, change); err != nil {
		if errors.Is(err, database.ErrDuplicateOrder) {
			// The order survived an earlier attempt that died before
			// settling the booking: it is still paid (the guard above),
			// so finish the conversion here. A concurrent settle is fine.
			if mErr := s.bookings.MarkBookingConverted(ctx, bookingID, booking.Version,
				actorChange(models.BookingConverted, actor, "")); mErr != nil && !errors.Is(mErr, database.ErrConcurrentModification) {
				s.logger.Error().Err(mErr).Int64("booking_id", bookingID).Msg("booking not marked converted on conversion retry")
			}
			existing, gErr := s.repo.GetOrderByBookingID(ctx, bookingID)
			if gErr != nil {
				return nil, ErrOrderAlreadyExists
			}
			return existing, ErrOrderAlreadyExists
		}
		return nil, err
	}

	if err := s.bookings.MarkBookingConverted(ctx, bookingID, booking.Version,
		actorChange(models.BookingConverted, actor, "")); err != nil {
		// The order exists; a retry of the conversion will settle the
		// booking side.
		s.logger.Error().Err(err).Int64("booking_id", bookingID).Msg("order created but booking not marked converted")
	}

	s.publish(events.EventOrderCreated, order, "", actor, "")
	s.enqueueSync(ctx, "upsert", order.ID)
	return order, nil
}

// SubmitWorkPlan replaces the stage set from awaiting_plan or
// plan_rejected. Each resubmission archives the rejected plan; the
// revision count is capped. When customer approval is waived the plan
// goes straight into execution.
func (s *OrderService) SubmitWorkPlan(ctx context.Context, id, version int64, inputs []models.StageInput, actor models.Actor) error {
	order, err := s.loadForTailor(ctx, id, actor)
	if err != nil {
		return err
	}
	if order.Status != models.OrderAwaitingPlan && order.Status != models.OrderPlanRejected {
		return orderTransitionErr(order.Status, models.OrderPlanReview)
	}
	if len(inputs) == 0 {
		return ErrEmptyWorkPlan
	}

	stages := make([]models.Stage, len(inputs))
	total := 0
	for i, in := range inputs {
		if in.EstimatedDays <= 0 {
			return fmt.Errorf("stage %q must take at least one day", in.Name)
		}
		stages[i] = models.Stage{
			Seq:           i + 1,
			Name:          in.Name,
			Description:   in.Description,
			EstimatedDays: in.EstimatedDays,
			Status:        models.StagePending,
		}
		total += in.EstimatedDays
	}

	cfg := s.settings.Workflow(ctx)

	var archive *models.PlanRevision
	if order.Status == models.OrderPlanRejected {
		revisions, err := s.repo.CountPlanRevisions(ctx, id)
		if err != nil {
			return err
		}
		if revisions >= cfg.MaxPlanRevisions {
			return ErrRevisionLimitExceeded
		}
		archive = &models.PlanRevision{
			OrderID:   id,
			Revision:  revisions + 1,
			Stages:    order.Stages,
			Reason:    order.PlanRejectionReason,
			RevisedBy: actor.ID,
		}
	}

	to := models.OrderPlanReview
	eventType := events.EventWorkPlanSubmitted
	if !cfg.CustomerApprovalRequired {
		to = models.OrderInProgress
		eventType = events.EventWorkPlanApproved
	}
	completion := time.Now().AddDate(0, 0, total)

	change := actorChange(to, actor, "")
	if err := s.repo.ReplaceWorkPlan(ctx, id, version, order.Status, to, stages, total, completion, archive, change); err != nil {
		return err
	}

	s.publish(eventType, order, order.Status, actor, "")
	s.enqueueSync(ctx, "upsert", id)
	return nil
}

func (s *OrderService) ApproveWorkPlan(ctx context.Context, id, version int64, actor models.Actor) error {
	order, err := s.loadForCustomer(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.guard(order, models.OrderInProgress); err != nil {
		return err
	}

	change := actorChange(models.OrderInProgress, actor, "")
	if err := s.repo.StartOrderProgress(ctx, id, version, order.Status, change); err != nil {
		return err
	}

	s.publish(events.EventWorkPlanApproved, order, order.Status, actor, "")
	s.enqueueSync(ctx, "update_status", id)
	return nil
}

func (s *OrderService) RejectWorkPlan(ctx context.Context, id, version int64, reason string, actor models.Actor) error {
	order, err := s.loadForCustomer(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.guard(order, models.OrderPlanRejected); err != nil {
		return err
	}
	if reason == "" {
		return fmt.Errorf("rejection reason is required")
	}

	change := actorChange(models.OrderPlanRejected, actor, reason)
	if err := s.repo.RejectWorkPlan(ctx, id, version, reason, change); err != nil {
		return err
	}

	s.publish(events.EventWorkPlanRejected, order, order.Status, actor, reason)
	s.enqueueSync(ctx, "update_status", id)
	return nil
}

// CompleteStage closes the current stage. Completing the last stage
// moves the order to ready.
func (s *OrderService) CompleteStage(ctx context.Context, id, version int64, seq int, note string, actor models.Actor) error {
	order, err := s.loadForTailor(ctx, id, actor)
	if err != nil {
		return err
	}
	if order.Status != models.OrderInProgress {
		return orderTransitionErr(order.Status, models.OrderInProgress)
	}
	stage := order.StageBySeq(seq)
	if stage == nil || stage.Status == models.StageCompleted || seq != order.CurrentStage+1 {
		return ErrInvalidStage
	}

	last := seq == len(order.Stages)
	status := models.OrderInProgress
	eventType := events.EventStageCompleted
	if last {
		status = models.OrderReady
		eventType = events.EventOrderReady
	}

	change := actorChange(status, actor, fmt.Sprintf("stage %d (%s) completed", seq, stage.Name))
	if err := s.repo.CompleteStage(ctx, id, version, seq, note, last, change); err != nil {
		return err
	}

	s.publish(eventType, order, order.Status, actor, stage.Name)
	s.enqueueSync(ctx, "upsert", id)
	return nil
}

func (s *OrderService) AddStageNote(ctx context.Context, id int64, seq int, note string, actor models.Actor) error {
	if _, err := s.loadForTailor(ctx, id, actor); err != nil {
		return err
	}
	if note == "" {
		return fmt.Errorf("note must not be empty")
	}
	if err := s.repo.AddStageNote(ctx, id, seq, note); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrInvalidStage
		}
		return err
	}
	return nil
}

func (s *OrderService) RequestDelay(ctx context.Context, id int64, reason string, additionalDays int, actor models.Actor) (*models.DelayRequest, error) {
	order, err := s.loadForTailor(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderInProgress {
		return nil, orderTransitionErr(order.Status, models.OrderInProgress)
	}
	if additionalDays <= 0 {
		return nil, fmt.Errorf("additional days must be positive")
	}

	req := &models.DelayRequest{Reason: reason, AdditionalDays: additionalDays}
	if err := s.repo.CreateDelayRequest(ctx, id, req); err != nil {
		return nil, err
	}

	s.publish(events.EventDelayRequested, order, order.Status, actor, reason)
	return req, nil
}

// RespondToDelay resolves a pending delay request. Approval pushes the
// estimated completion out by the requested days.
func (s *OrderService) RespondToDelay(ctx context.Context, orderID, requestID int64, approve bool, notes string, actor models.Actor) error {
	order, err := s.loadForCustomer(ctx, orderID, actor)
	if err != nil {
		return err
	}

	var newCompletion *time.Time
	if approve {
		var req *models.DelayRequest
		for i := range order.DelayRequests {
			if order.DelayRequests[i].ID == requestID {
				req = &order.DelayRequests[i]
				break
			}
		}
		if req == nil {
			return database.ErrNotFound
		}
		base := time.Now()
		if order.EstimatedCompletion != nil {
			base = *order.EstimatedCompletion
		}
		c := base.AddDate(0, 0, req.AdditionalDays)
		newCompletion = &c
	}

	if err := s.repo.ReviewDelayRequest(ctx, orderID, requestID, approve, actor.ID, notes, newCompletion); err != nil {
		return err
	}

	s.publish(events.EventDelayReviewed, order, order.Status, actor, notes)
	s.enqueueSync(ctx, "upsert", orderID)
	return nil
}

// MarkCompleted closes a ready order: the escrow hold is captured for
// the tailor, then the order is completed with the customer's rating.
// The capture is keyed so a retry after a mid-flight failure never
// captures twice.
func (s *OrderService) MarkCompleted(ctx context.Context, id, version int64, rating *int, feedback string, actor models.Actor) error {
	order, err := s.loadForCustomer(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.guard(order, models.OrderCompleted); err != nil {
		return err
	}
	if rating != nil && (*rating < 1 || *rating > 5) {
		return ErrInvalidRating
	}

	booking, err := s.bookings.GetBooking(ctx, order.BookingID)
	if err != nil {
		return err
	}
	if booking.PaymentStatus == models.PaymentHeld {
		if err := s.captureHeld(ctx, booking); err != nil {
			return err
		}
	}

	change := actorChange(models.OrderCompleted, actor, feedback)
	if err := s.repo.CompleteOrder(ctx, id, version, rating, feedback, change); err != nil {
		return err
	}
	if err := s.bookings.UpdateBookingPaymentStatus(ctx, booking.ID, models.PaymentReleased); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("failed to record payment release")
	}

	s.publish(events.EventOrderCompleted, order, order.Status, actor, feedback)
	s.enqueueSync(ctx, "update_status", id)
	return nil
}

// Cancel closes the order from any open status, refunding the held
// escrow amount to the customer first.
func (s *OrderService) Cancel(ctx context.Context, id, version int64, reason string, actor models.Actor) error {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && actor.ID != order.CustomerID && actor.ID != order.TailorID {
		return ErrUnauthorized
	}
	if err := s.guard(order, models.OrderCancelled); err != nil {
		return err
	}

	if err := s.refundOrderEscrow(ctx, order); err != nil {
		return err
	}

	change := actorChange(models.OrderCancelled, actor, reason)
	if err := s.repo.CancelOrder(ctx, id, version, order.Status, reason, change); err != nil {
		return err
	}

	s.publish(events.EventOrderCancelled, order, order.Status, actor, reason)
	s.enqueueSync(ctx, "update_status", id)
	return nil
}

// RaiseDispute freezes the order. Only the two parties can open one.
func (s *OrderService) RaiseDispute(ctx context.Context, id, version int64, reason string, actor models.Actor) error {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if actor.ID != order.CustomerID && actor.ID != order.TailorID {
		return ErrUnauthorized
	}
	if err := s.guard(order, models.OrderDisputed); err != nil {
		return err
	}
	if reason == "" {
		return fmt.Errorf("dispute reason is required")
	}

	dispute := &models.Dispute{RaisedBy: actor.ID, RaisedRole: actor.Role, Reason: reason}
	change := actorChange(models.OrderDisputed, actor, reason)
	if err := s.repo.RaiseDispute(ctx, id, version, order.Status, dispute, change); err != nil {
		return err
	}

	s.publish(events.EventDisputeRaised, order, order.Status, actor, reason)
	s.enqueueSync(ctx, "update_status", id)
	return nil
}

func (s *OrderService) ReviewDispute(ctx context.Context, id int64, actor models.Actor) error {
	if !actor.IsAdmin() {
		return ErrUnauthorized
	}
	return s.repo.ReviewDispute(ctx, id, models.DisputeUnderReview)
}

// ResolveDispute closes the dispute. The order returns to the status it
// held before the dispute, or is cancelled (with refund) when the
// resolution terminates it.
func (s *OrderService) ResolveDispute(ctx context.Context, id, version int64, resolution string, cancelOrder bool, actor models.Actor) error {
	if !actor.IsAdmin() {
		return ErrUnauthorized
	}
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if order.Status != models.OrderDisputed || order.Dispute == nil {
		return orderTransitionErr(order.Status, models.OrderDisputed)
	}

	returnTo := order.Dispute.PriorStatus
	if cancelOrder {
		returnTo = models.OrderCancelled
		if err := s.refundOrderEscrow(ctx, order); err != nil {
			return err
		}
	}

	change := actorChange(returnTo, actor, resolution)
	if err := s.repo.ResolveDispute(ctx, id, version, resolution, returnTo, change); err != nil {
		return err
	}

	s.publish(events.EventDisputeResolved, order, order.Status, actor, resolution)
	s.enqueueSync(ctx, "update_status", id)
	return nil
}

func (s *OrderService) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

func (s *OrderService) GetOrderByBookingID(ctx context.Context, bookingID int64) (*models.Order, error) {
	return s.repo.GetOrderByBookingID(ctx, bookingID)
}

func (s *OrderService) GetOrderHistory(ctx context.Context, id int64, limit, offset int) ([]models.StatusChange, error) {
	if _, err := s.repo.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetOrderHistory(ctx, id, limit, offset)
}

func (s *OrderService) captureHeld(ctx context.Context, booking *models.Booking) error {
	key := fmt.Sprintf("capture:booking:%d", booking.ID)
	acquired, err := s.idem.Acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to acquire capture key: %w", err)
	}
	if !acquired {
		return nil // captured by an earlier attempt
	}
	if err := s.gateway.Capture(ctx, booking.EscrowRef); err != nil {
		if rErr := s.idem.Release(ctx, key); rErr != nil {
			s.logger.Error().Err(rErr).Str("key", key).Msg("failed to release capture key")
		}
		return gatewayErr("capture", err)
	}
	return nil
}

func (s *OrderService) refundOrderEscrow(ctx context.Context, order *models.Order) error {
	booking, err := s.bookings.GetBooking(ctx, order.BookingID)
	if err != nil {
		return err
	}
	if booking.PaymentStatus != models.PaymentHeld || booking.Quote == nil {
		return nil
	}

	key := fmt.Sprintf("refund:booking:%d", booking.ID)
	acquired, err := s.idem.Acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to acquire refund key: %w", err)
	}
	if acquired {
		if err := s.gateway.Refund(ctx, booking.EscrowRef, booking.Quote.TotalAmount); err != nil {
			if rErr := s.idem.Release(ctx, key); rErr != nil {
				s.logger.Error().Err(rErr).Str("key", key).Msg("failed to release refund key")
			}
			return gatewayErr("refund", err)
		}
	}
	if err := s.bookings.UpdateBookingPaymentStatus(ctx, booking.ID, models.PaymentRefunded); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("failed to record refund")
	}
	return nil
}

func (s *OrderService) guard(order *models.Order, to string) error {
	if !models.CanTransitionOrder(order.Status, to) {
		return orderTransitionErr(order.Status, to)
	}
	return nil
}

func (s *OrderService) loadForTailor(ctx context.Context, id int64, actor models.Actor) (*models.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !(actor.Role == models.RoleTailor && actor.ID == order.TailorID) {
		return nil, ErrUnauthorized
	}
	return order, nil
}

func (s *OrderService) loadForCustomer(ctx context.Context, id int64, actor models.Actor) (*models.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !(actor.Role == models.RoleCustomer && actor.ID == order.CustomerID) {
		return nil, ErrUnauthorized
	}
	return order, nil
}

func (s *OrderService) publish(eventType string, order *models.Order, previous string, actor models.Actor, note string) {
	if s.eventBus == nil {
		return
	}
	payload := events.StatusChangePayload{
		Entity:         "order",
		EntityID:       order.ID,
		BookingID:      order.BookingID,
		CustomerID:     order.CustomerID,
		TailorID:       order.TailorID,
		PreviousStatus: previous,
		NewStatus:      orderStatusForEvent(eventType, order),
		ActorRole:      actor.Role,
		ActorID:        actor.ID,
		Note:           note,
		OccurredAt:     time.Now(),
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func orderStatusForEvent(eventType string, order *models.Order) string {
	switch eventType {
	case events.EventOrderCreated:
		return order.Status
	case events.EventWorkPlanSubmitted:
		return models.OrderPlanReview
	case events.EventWorkPlanApproved:
		return models.OrderInProgress
	case events.EventWorkPlanRejected:
		return models.OrderPlanRejected
	case events.EventStageCompleted:
		return models.OrderInProgress
	case events.EventOrderReady:
		return models.OrderReady
	case events.EventOrderCompleted:
		return models.OrderCompleted
	case events.EventOrderCancelled:
		return models.OrderCancelled
	case events.EventDisputeRaised:
		return models.OrderDisputed
	}
	return order.Status
}

func (s *OrderService) enqueueSync(ctx context.Context, taskType string, orderID int64) {
	if s.syncWorker == nil {
		return
	}
	if err := s.syncWorker.EnqueueTask(ctx, taskType, "order", orderID, nil); err != nil {
		s.logger.Error().Err(err).Int64("order_id", orderID).Msg("failed to enqueue sync task")
	}
}

// defaultPlan builds the stage set used when auto-plan is enabled:
// the quote's estimates when present, otherwise design/sew/deliver.
func defaultPlan(quote *models.Quote) []models.Stage {
	if quote != nil && len(quote.StageEstimates) > 0 {
		stages := make([]models.Stage, len(quote.StageEstimates))
		for i, e := range quote.StageEstimates {
			stages[i] = models.Stage{Seq: i + 1, Name: e.Name, EstimatedDays: e.Days, Status: models.StagePending}
		}
		return stages
	}
	return []models.Stage{
		{Seq: 1, Name: models.StageDesign, EstimatedDays: 2, Status: models.StagePending},
		{Seq: 2, Name: models.StageSew, EstimatedDays: 5, Status: models.StagePending},
		{Seq: 3, Name: models.StageDeliver, EstimatedDays: 1, Status: models.StagePending},
	}
}
