package service

import (
	"context"
	"time"

	"atelier/internal/domain"
	"atelier/internal/models"

	"github.com/stretchr/testify/mock"
)

type mockBookingRepo struct {
	mock.Mock
}

func (m *mockBookingRepo) CreateBooking(ctx context.Context, b *models.Booking, c models.StatusChange) error {
	return m.Called(ctx, b, c).Error(0)
}
func (m *mockBookingRepo) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockBookingRepo) GetBookingHistory(ctx context.Context, id int64, limit, offset int) ([]models.StatusChange, error) {
	args := m.Called(ctx, id, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.StatusChange), args.Error(1)
}
func (m *mockBookingRepo) GetBookingsByDateRange(ctx context.Context, s, e time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, s, e)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockBookingRepo) UpdateBookingStatusWithVersion(ctx context.Context, id, v int64, from, to string, c models.StatusChange) error {
	return m.Called(ctx, id, v, from, to, c).Error(0)
}
func (m *mockBookingRepo) CompleteBookingConsultation(ctx context.Context, id, v int64, notes string, c models.StatusChange) error {
	return m.Called(ctx, id, v, notes, c).Error(0)
}
func (m *mockBookingRepo) SubmitBookingQuote(ctx context.Context, id, v int64, q *models.Quote, c models.StatusChange) error {
	return m.Called(ctx, id, v, q, c).Error(0)
}
func (m *mockBookingRepo) RespondBookingQuote(ctx context.Context, id, v int64, q *models.Quote, to string, c models.StatusChange) error {
	return m.Called(ctx, id, v, q, to, c).Error(0)
}
func (m *mockBookingRepo) MarkBookingPaid(ctx context.Context, id, v int64, ref string, c models.StatusChange) error {
	return m.Called(ctx, id, v, ref, c).Error(0)
}
func (m *mockBookingRepo) MarkBookingConverted(ctx context.Context, id, v int64, c models.StatusChange) error {
	return m.Called(ctx, id, v, c).Error(0)
}
func (m *mockBookingRepo) UpdateBookingPaymentStatus(ctx context.Context, id int64, status string) error {
	return m.Called(ctx, id, status).Error(0)
}
func (m *mockBookingRepo) CancelBooking(ctx context.Context, id, v int64, from, reason, paymentStatus string, c models.StatusChange) error {
	return m.Called(ctx, id, v, from, reason, paymentStatus, c).Error(0)
}

type mockOrderRepo struct {
	mock.Mock
}

func (m *mockOrderRepo) CreateOrder(ctx context.Context, o *models.Order, stages []models.Stage, c models.StatusChange) error {
	return m.Called(ctx, o, stages, c).Error(0)
}
func (m *mockOrderRepo) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}
func (m *mockOrderRepo) GetOrderByBookingID(ctx context.Context, bookingID int64) (*models.Order, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}
func (m *mockOrderRepo) GetOrderHistory(ctx context.Context, id int64, limit, offset int) ([]models.StatusChange, error) {
	args := m.Called(ctx, id, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.StatusChange), args.Error(1)
}
func (m *mockOrderRepo) ReplaceWorkPlan(ctx context.Context, id, v int64, from, to string, stages []models.Stage, totalDays int, completion time.Time, archive *models.PlanRevision, c models.StatusChange) error {
	return m.Called(ctx, id, v, from, to, stages, totalDays, completion, archive, c).Error(0)
}
func (m *mockOrderRepo) CountPlanRevisions(ctx context.Context, orderID int64) (int, error) {
	args := m.Called(ctx, orderID)
	return args.Int(0), args.Error(1)
}
func (m *mockOrderRepo) StartOrderProgress(ctx context.Context, id, v int64, from string, c models.StatusChange) error {
	return m.Called(ctx, id, v, from, c).Error(0)
}
func (m *mockOrderRepo) RejectWorkPlan(ctx context.Context, id, v int64, reason string, c models.StatusChange) error {
	return m.Called(ctx, id, v, reason, c).Error(0)
}
func (m *mockOrderRepo) CompleteStage(ctx context.Context, id, v int64, seq int, note string, last bool, c models.StatusChange) error {
	return m.Called(ctx, id, v, seq, note, last, c).Error(0)
}
func (m *mockOrderRepo) AddStageNote(ctx context.Context, orderID int64, seq int, note string) error {
	return m.Called(ctx, orderID, seq, note).Error(0)
}
func (m *mockOrderRepo) CreateDelayRequest(ctx context.Context, orderID int64, req *models.DelayRequest) error {
	return m.Called(ctx, orderID, req).Error(0)
}
func (m *mockOrderRepo) ReviewDelayRequest(ctx context.Context, orderID, requestID int64, approved bool, reviewer int64, notes string, newCompletion *time.Time) error {
	return m.Called(ctx, orderID, requestID, approved, reviewer, notes, newCompletion).Error(0)
}
func (m *mockOrderRepo) CompleteOrder(ctx context.Context, id, v int64, rating *int, feedback string, c models.StatusChange) error {
	return m.Called(ctx, id, v, rating, feedback, c).Error(0)
}
func (m *mockOrderRepo) CancelOrder(ctx context.Context, id, v int64, from, reason string, c models.StatusChange) error {
	return m.Called(ctx, id, v, from, reason, c).Error(0)
}
func (m *mockOrderRepo) RaiseDispute(ctx context.Context, id, v int64, from string, d *models.Dispute, c models.StatusChange) error {
	return m.Called(ctx, id, v, from, d, c).Error(0)
}
func (m *mockOrderRepo) ReviewDispute(ctx context.Context, id int64, status string) error {
	return m.Called(ctx, id, status).Error(0)
}
func (m *mockOrderRepo) ResolveDispute(ctx context.Context, id, v int64, resolution, returnTo string, c models.StatusChange) error {
	return m.Called(ctx, id, v, resolution, returnTo, c).Error(0)
}
func (m *mockOrderRepo) ListPlanDeadlineOrders(ctx context.Context, now time.Time, remind time.Duration) ([]*models.Order, []*models.Order, error) {
	args := m.Called(ctx, now, remind)
	var due, overdue []*models.Order
	if args.Get(0) != nil {
		due = args.Get(0).([]*models.Order)
	}
	if args.Get(1) != nil {
		overdue = args.Get(1).([]*models.Order)
	}
	return due, overdue, args.Error(2)
}
func (m *mockOrderRepo) MarkPlanReminderSent(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockOrderRepo) MarkPlanOverdue(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockOrderRepo) ListWorkOverdueOrders(ctx context.Context, now time.Time) ([]*models.Order, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Order), args.Error(1)
}
func (m *mockOrderRepo) MarkWorkOverdue(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type mockTailorRepo struct {
	mock.Mock
}

func (m *mockTailorRepo) GetTailor(ctx context.Context, id int64) (*models.Tailor, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tailor), args.Error(1)
}
func (m *mockTailorRepo) UpsertTailor(ctx context.Context, t *models.Tailor) error {
	return m.Called(ctx, t).Error(0)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) AuthorizeAndHold(ctx context.Context, amount int64, currency string, destination int64, referenceID string) (string, error) {
	args := m.Called(ctx, amount, currency, destination, referenceID)
	return args.String(0), args.Error(1)
}
func (m *mockGateway) Capture(ctx context.Context, ref string) error {
	return m.Called(ctx, ref).Error(0)
}
func (m *mockGateway) Cancel(ctx context.Context, ref string) error {
	return m.Called(ctx, ref).Error(0)
}
func (m *mockGateway) Refund(ctx context.Context, ref string, amount int64) error {
	return m.Called(ctx, ref, amount).Error(0)
}

type mockIdemStore struct {
	mock.Mock
}

func (m *mockIdemStore) Acquire(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}
func (m *mockIdemStore) Release(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type mockSyncWorker struct {
	mock.Mock
}

func (m *mockSyncWorker) EnqueueTask(ctx context.Context, taskType, entityType string, entityID int64, payload interface{}) error {
	return m.Called(ctx, taskType, entityType, entityID, payload).Error(0)
}

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}

type staticSettings struct {
	cfg domain.WorkflowSettings
}

func (s staticSettings) Workflow(ctx context.Context) domain.WorkflowSettings { return s.cfg }

func defaultSettings() domain.SettingsProvider {
	return staticSettings{cfg: domain.WorkflowSettings{
		MaxPlanRevisions:         3,
		PlanDeadlineHours:        168,
		QuoteValidityDays:        7,
		CustomerApprovalRequired: true,
		AutoPlanEnabled:          false,
	}}
}
