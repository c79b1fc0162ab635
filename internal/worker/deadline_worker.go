package worker

import (
	"context"
	"time"

	"atelier/internal/domain"
	"atelier/internal/events"
	"atelier/internal/models"

	"github.com/rs/zerolog"
)

// DeadlineWorker periodically scans for orders whose work-plan
// deadline is approaching or missed, and for in-progress work past its
// estimated completion date. Each finding is flagged in the database
// so it fires once, then published for the notification pipeline.
type DeadlineWorker struct {
	repo       domain.OrderRepository
	eventBus   domain.EventPublisher
	interval   time.Duration
	remindLead time.Duration
	logger     *zerolog.Logger
}

func NewDeadlineWorker(repo domain.OrderRepository, eventBus domain.EventPublisher, interval, remindLead time.Duration, logger *zerolog.Logger) *DeadlineWorker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if remindLead <= 0 {
		remindLead = 24 * time.Hour
	}
	return &DeadlineWorker{
		repo:       repo,
		eventBus:   eventBus,
		interval:   interval,
		remindLead: remindLead,
		logger:     logger,
	}
}

// Start runs one scan immediately, then on every tick until ctx ends.
func (w *DeadlineWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("interval", w.interval).Msg("deadline_worker: started")
	defer w.logger.Info().Msg("deadline_worker: stopped")

	w.Scan(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Scan(ctx)
		}
	}
}

// Scan performs a single pass over plan deadlines and work overdue.
func (w *DeadlineWorker) Scan(ctx context.Context) {
	now := time.Now()
	w.scanPlanDeadlines(ctx, now)
	w.scanWorkOverdue(ctx, now)
}

func (w *DeadlineWorker) scanPlanDeadlines(ctx context.Context, now time.Time) {
	due, overdue, err := w.repo.ListPlanDeadlineOrders(ctx, now, w.remindLead)
	if err != nil {
		w.logger.Error().Err(err).Msg("deadline_worker: plan deadline scan failed")
		return
	}

	for _, order := range due {
		if err := w.repo.MarkPlanReminderSent(ctx, order.ID); err != nil {
			w.logger.Error().Err(err).Int64("order_id", order.ID).Msg("deadline_worker: mark reminder sent")
			continue
		}
		w.publish(events.EventPlanDeadlineReminder, order, now)
	}

	for _, order := range overdue {
		if err := w.repo.MarkPlanOverdue(ctx, order.ID); err != nil {
			w.logger.Error().Err(err).Int64("order_id", order.ID).Msg("deadline_worker: mark plan overdue")
			continue
		}
		w.logger.Warn().Int64("order_id", order.ID).Int64("tailor_id", order.TailorID).Msg("work plan deadline missed")
		w.publish(events.EventPlanOverdue, order, now)
	}
}

func (w *DeadlineWorker) scanWorkOverdue(ctx context.Context, now time.Time) {
	orders, err := w.repo.ListWorkOverdueOrders(ctx, now)
	if err != nil {
		w.logger.Error().Err(err).Msg("deadline_worker: work overdue scan failed")
		return
	}

	for _, order := range orders {
		if err := w.repo.MarkWorkOverdue(ctx, order.ID); err != nil {
			w.logger.Error().Err(err).Int64("order_id", order.ID).Msg("deadline_worker: mark work overdue")
			continue
		}
		w.logger.Warn().Int64("order_id", order.ID).Int64("tailor_id", order.TailorID).Msg("order past estimated completion")
		w.publish(events.EventOrderOverdue, order, now)
	}
}

func (w *DeadlineWorker) publish(eventType string, order *models.Order, now time.Time) {
	payload := events.StatusChangePayload{
		Entity:     "order",
		EntityID:   order.ID,
		BookingID:  order.BookingID,
		CustomerID: order.CustomerID,
		TailorID:   order.TailorID,
		NewStatus:  order.Status,
		ActorRole:  models.RoleSystem,
		OccurredAt: now,
	}
	if err := w.eventBus.PublishJSON(eventType, payload); err != nil {
		w.logger.Error().Err(err).Str("event", eventType).Int64("order_id", order.ID).Msg("deadline_worker: publish failed")
	}
}
