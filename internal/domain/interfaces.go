package domain

import (
	"context"
	"time"

	"atelier/internal/models"
)

// BookingRepository persists the negotiation entity. Every transition
// method is a conditional update keyed on (status, version): when the
// row no longer matches, the store returns ErrConcurrentModification
// and nothing is written. Successful transitions append exactly one
// status-history entry in the same transaction.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking *models.Booking, change models.StatusChange) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingHistory(ctx context.Context, id int64, limit, offset int) ([]models.StatusChange, error)
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)

	UpdateBookingStatusWithVersion(ctx context.Context, id, version int64, from, to string, change models.StatusChange) error
	CompleteBookingConsultation(ctx context.Context, id, version int64, notes string, change models.StatusChange) error
	SubmitBookingQuote(ctx context.Context, id, version int64, quote *models.Quote, change models.StatusChange) error
	RespondBookingQuote(ctx context.Context, id, version int64, quote *models.Quote, to string, change models.StatusChange) error
	MarkBookingPaid(ctx context.Context, id, version int64, escrowRef string, change models.StatusChange) error
	MarkBookingConverted(ctx context.Context, id, version int64, change models.StatusChange) error
	UpdateBookingPaymentStatus(ctx context.Context, id int64, paymentStatus string) error
	CancelBooking(ctx context.Context, id, version int64, from, reason, paymentStatus string, change models.StatusChange) error
}

// OrderRepository persists the execution entity with its stages, delay
// requests and plan revisions, under the same conditional-update
// contract as BookingRepository.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order, stages []models.Stage, change models.StatusChange) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByBookingID(ctx context.Context, bookingID int64) (*models.Order, error)
	GetOrderHistory(ctx context.Context, id int64, limit, offset int) ([]models.StatusChange, error)

	ReplaceWorkPlan(ctx context.Context, id, version int64, from, to string, stages []models.Stage, totalDays int, estimatedCompletion time.Time, archive *models.PlanRevision, change models.StatusChange) error
	CountPlanRevisions(ctx context.Context, orderID int64) (int, error)
	StartOrderProgress(ctx context.Context, id, version int64, from string, change models.StatusChange) error
	RejectWorkPlan(ctx context.Context, id, version int64, reason string, change models.StatusChange) error
	CompleteStage(ctx context.Context, id, version int64, seq int, note string, last bool, change models.StatusChange) error
	AddStageNote(ctx context.Context, orderID int64, seq int, note string) error

	CreateDelayRequest(ctx context.Context, orderID int64, req *models.DelayRequest) error
	ReviewDelayRequest(ctx context.Context, orderID, requestID int64, approved bool, reviewer int64, notes string, newEstimatedCompletion *time.Time) error

	CompleteOrder(ctx context.Context, id, version int64, rating *int, feedback string, change models.StatusChange) error
	CancelOrder(ctx context.Context, id, version int64, from, reason string, change models.StatusChange) error
	RaiseDispute(ctx context.Context, id, version int64, from string, dispute *models.Dispute, change models.StatusChange) error
	ReviewDispute(ctx context.Context, id int64, status string) error
	ResolveDispute(ctx context.Context, id, version int64, resolution string, returnTo string, change models.StatusChange) error

	ListPlanDeadlineOrders(ctx context.Context, now time.Time, remindBefore time.Duration) (due []*models.Order, overdue []*models.Order, err error)
	MarkPlanReminderSent(ctx context.Context, id int64) error
	MarkPlanOverdue(ctx context.Context, id int64) error
	ListWorkOverdueOrders(ctx context.Context, now time.Time) ([]*models.Order, error)
	MarkWorkOverdue(ctx context.Context, id int64) error
}

type TailorRepository interface {
	GetTailor(ctx context.Context, id int64) (*models.Tailor, error)
	UpsertTailor(ctx context.Context, tailor *models.Tailor) error
}

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// WorkflowSettings is the policy snapshot fetched once per transition.
type WorkflowSettings struct {
	MaxPlanRevisions         int
	PlanDeadlineHours        int
	QuoteValidityDays        int
	CustomerApprovalRequired bool
	AutoPlanEnabled          bool
}

type SettingsProvider interface {
	Workflow(ctx context.Context) WorkflowSettings
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// PaymentGateway is the external escrow provider. All operations must
// succeed before the corresponding local transition commits.
type PaymentGateway interface {
	AuthorizeAndHold(ctx context.Context, amount int64, currency string, destination int64, referenceID string) (string, error)
	Capture(ctx context.Context, escrowRef string) error
	Cancel(ctx context.Context, escrowRef string) error
	Refund(ctx context.Context, escrowRef string, amount int64) error
}

// IdempotencyStore records executed side-effect keys so retried
// transitions never re-issue gateway money movements. Acquire returns
// true only the first time a key is seen.
type IdempotencyStore interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType, entityType string, entityID int64, payload interface{}) error
}

type SheetsWriter interface {
	UpsertBookingRow(ctx context.Context, booking *models.Booking) error
	UpsertOrderRow(ctx context.Context, order *models.Order) error
	UpdateBookingStatusCell(ctx context.Context, bookingID int64, status string) error
	UpdateOrderStatusCell(ctx context.Context, orderID int64, status string) error
}

// Notifier delivers a rendered notification. Failures are logged by the
// dispatcher and never surfaced to the transition that caused them.
type Notifier interface {
	Send(ctx context.Context, text string) error
}
