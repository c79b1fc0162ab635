package worker

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"atelier/internal/database"
	"atelier/internal/models"

	"github.com/rs/zerolog"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestWorker(t *testing.T, db *database.DB, sheets *fakeSheets, retry RetryPolicy) *SyncWorker {
	t.Helper()
	logger := zerolog.New(io.Discard)
	return NewSyncWorker(db, sheets, nil, retry, &logger)
}

type fakeSheets struct {
	upsertBookings int
	upsertOrders   int
	statusUpdates  int
	lastStatus     string
	err            error
}

func (f *fakeSheets) UpsertBookingRow(ctx context.Context, booking *models.Booking) error {
	f.upsertBookings++
	return f.err
}

func (f *fakeSheets) UpsertOrderRow(ctx context.Context, order *models.Order) error {
	f.upsertOrders++
	return f.err
}

func (f *fakeSheets) UpdateBookingStatusCell(ctx context.Context, bookingID int64, status string) error {
	f.statusUpdates++
	f.lastStatus = status
	return f.err
}

func (f *fakeSheets) UpdateOrderStatusCell(ctx context.Context, orderID int64, status string) error {
	f.statusUpdates++
	f.lastStatus = status
	return f.err
}

func seedBooking(t *testing.T, db *database.DB) *models.Booking {
	t.Helper()
	booking := &models.Booking{
		CustomerID:    1,
		TailorID:      10,
		Date:          time.Now().AddDate(0, 0, 3),
		StartTime:     "14:00",
		Service:       "suit fitting",
		PaymentStatus: models.PaymentPending,
		Status:        models.BookingPending,
	}
	change := models.StatusChange{Status: models.BookingPending, ActorRole: models.RoleSystem}
	if err := db.CreateBooking(context.Background(), booking, change); err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return booking
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (string, int, sql.NullTime) {
	t.Helper()
	var status string
	var retryCount int
	var nextRetry sql.NullTime
	row := db.QueryRowContext(context.Background(),
		`SELECT status, retry_count, next_retry_at FROM sync_queue WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("load task: %v", err)
	}
	return status, retryCount, nextRetry
}

func TestRetryPolicyBackoff(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}

	if d := policy.NextDelay(1); d != time.Second {
		t.Fatalf("attempt 1: expected 1s, got %v", d)
	}
	if d := policy.NextDelay(3); d != 4*time.Second {
		t.Fatalf("attempt 3: expected 4s, got %v", d)
	}
	if d := policy.NextDelay(10); d != 10*time.Second {
		t.Fatalf("attempt 10: expected clamp to 10s, got %v", d)
	}
	if d := policy.NextDelay(0); d != time.Second {
		t.Fatalf("attempt 0: expected 1s, got %v", d)
	}
}

func TestEnqueueValidation(t *testing.T) {
	db := newTestDB(t)
	worker := newTestWorker(t, db, &fakeSheets{}, RetryPolicy{})
	ctx := context.Background()

	if err := worker.EnqueueTask(ctx, "", EntityBooking, 1, nil); err == nil {
		t.Fatal("expected error for empty task type")
	}
	if err := worker.EnqueueTask(ctx, TaskUpsert, "invoice", 1, nil); err == nil {
		t.Fatal("expected error for unknown entity type")
	}
	if err := worker.EnqueueTask(ctx, TaskUpsert, EntityBooking, 0, nil); err == nil {
		t.Fatal("expected error for missing entity id")
	}
}

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := newTestWorker(t, db, sheets, RetryPolicy{})
	ctx := context.Background()

	booking := seedBooking(t, db)
	if err := worker.EnqueueTask(ctx, TaskUpsert, EntityBooking, booking.ID, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatal("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != "completed" {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatal("expected next_retry_at NULL on success")
	}
	if sheets.upsertBookings != 1 {
		t.Fatalf("expected one upsert call, got %d", sheets.upsertBookings)
	}
}

func TestProcessTaskReadsCurrentStatus(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := newTestWorker(t, db, sheets, RetryPolicy{})
	ctx := context.Background()

	booking := seedBooking(t, db)
	if err := worker.EnqueueTask(ctx, TaskUpdateStatus, EntityBooking, booking.ID, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Status moves on after the task is queued; the worker must write
	// what is current, not what was current at enqueue time.
	change := models.StatusChange{Status: models.BookingConfirmed, ActorRole: models.RoleTailor, ActorID: 10}
	if err := db.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version,
		models.BookingPending, models.BookingConfirmed, change); err != nil {
		t.Fatalf("transition: %v", err)
	}

	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	if sheets.lastStatus != models.BookingConfirmed {
		t.Fatalf("expected confirmed status written, got %q", sheets.lastStatus)
	}
}

func TestProcessTaskRetryThenDeadLetter(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{err: errors.New("quota exceeded")}
	worker := newTestWorker(t, db, sheets, RetryPolicy{MaxRetries: 2})
	ctx := context.Background()

	booking := seedBooking(t, db)
	if err := worker.EnqueueTask(ctx, TaskUpsert, EntityBooking, booking.ID, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != "retry" {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid {
		t.Fatal("expected next_retry_at set for retry")
	}

	// Second attempt exhausts the policy.
	task.RetryCount = retryCount
	worker.processTask(ctx, &task)

	status, _, _ = loadTaskStatus(t, db, task.ID)
	if status != "failed" {
		t.Fatalf("expected status=failed, got %s", status)
	}
}

func TestProcessTaskMissingEntityFailsPermanently(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := newTestWorker(t, db, sheets, RetryPolicy{MaxRetries: 5})
	ctx := context.Background()

	if err := worker.EnqueueTask(ctx, TaskUpsert, EntityOrder, 999, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	status, retryCount, _ := loadTaskStatus(t, db, task.ID)
	if status != "failed" {
		t.Fatalf("expected status=failed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected no retries for missing entity, got %d", retryCount)
	}
	if sheets.upsertOrders != 0 {
		t.Fatal("expected no sheet call for missing entity")
	}
}
