package database

import (
	"context"
	"os"
	"testing"
	"time"

	"atelier/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	logger := zerolog.New(os.Stdout)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	return db
}

func newTestBooking(customerID int64) *models.Booking {
	return &models.Booking{
		CustomerID:    customerID,
		TailorID:      10,
		Date:          time.Now().AddDate(0, 0, 3),
		StartTime:     "14:00",
		Service:       "suit fitting",
		PaymentStatus: models.PaymentPending,
		Status:        models.BookingPending,
	}
}

func systemChange(status string) models.StatusChange {
	return models.StatusChange{Status: status, ActorRole: models.RoleSystem}
}

func TestCreateAndGetBooking(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	booking := newTestBooking(1)
	err := db.CreateBooking(ctx, booking, systemChange(models.BookingPending))
	require.NoError(t, err)
	require.NotZero(t, booking.ID)
	assert.Equal(t, int64(1), booking.Version)

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.CustomerID, got.CustomerID)
	assert.Equal(t, booking.TailorID, got.TailorID)
	assert.Equal(t, "14:00", got.StartTime)
	assert.Equal(t, models.BookingPending, got.Status)
	assert.Nil(t, got.Quote)

	history, err := db.GetBookingHistory(ctx, booking.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.BookingPending, history[0].Status)
	assert.Equal(t, models.RoleSystem, history[0].ActorRole)
}

func TestGetBookingNotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.GetBooking(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateBookingSlotTaken(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	first := newTestBooking(1)
	require.NoError(t, db.CreateBooking(ctx, first, systemChange(models.BookingPending)))

	second := newTestBooking(2)
	err := db.CreateBooking(ctx, second, systemChange(models.BookingPending))
	assert.ErrorIs(t, err, ErrSlotTaken)

	// A different time on the same day is free.
	third := newTestBooking(2)
	third.StartTime = "16:00"
	assert.NoError(t, db.CreateBooking(ctx, third, systemChange(models.BookingPending)))

	// Cancelling the first releases its slot.
	err = db.CancelBooking(ctx, first.ID, first.Version, models.BookingPending, "changed plans", models.PaymentPending,
		systemChange(models.BookingCancelled))
	require.NoError(t, err)

	fourth := newTestBooking(3)
	assert.NoError(t, db.CreateBooking(ctx, fourth, systemChange(models.BookingPending)))
}

func TestBookingFullTransitionFlow(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	booking := newTestBooking(1)
	require.NoError(t, db.CreateBooking(ctx, booking, systemChange(models.BookingPending)))

	err := db.UpdateBookingStatusWithVersion(ctx, booking.ID, 1,
		models.BookingPending, models.BookingConfirmed, systemChange(models.BookingConfirmed))
	require.NoError(t, err)

	err = db.CompleteBookingConsultation(ctx, booking.ID, 2, "measurements taken",
		systemChange(models.BookingConsultationDone))
	require.NoError(t, err)

	quote := &models.Quote{
		Items:        []models.QuoteItem{{Description: "wool fabric", Amount: 12000}},
		LaborCost:    30000,
		MaterialCost: 12000,
		TotalAmount:  42000,
		Currency:     models.DefaultCurrency,
		StageEstimates: []models.StageEstimate{
			{Name: "design", Days: 2},
			{Name: "sew", Days: 7},
		},
		SubmittedAt: time.Now(),
		ValidUntil:  time.Now().AddDate(0, 0, 7),
		Response:    models.QuoteResponse{Status: models.QuotePending},
	}
	err = db.SubmitBookingQuote(ctx, booking.ID, 3, quote, systemChange(models.BookingQuoteSubmitted))
	require.NoError(t, err)

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Quote)
	assert.Equal(t, int64(42000), got.Quote.TotalAmount)
	assert.Equal(t, 9, got.Quote.EstimatedDays())
	assert.Equal(t, "measurements taken", got.ConsultationNotes)
	assert.Equal(t, int64(4), got.Version)

	now := time.Now()
	quote.Response = models.QuoteResponse{Status: models.QuoteAccepted, RespondedAt: &now}
	err = db.RespondBookingQuote(ctx, booking.ID, 4, quote, models.BookingQuoteAccepted,
		systemChange(models.BookingQuoteAccepted))
	require.NoError(t, err)

	err = db.MarkBookingPaid(ctx, booking.ID, 5, "escrow-abc", systemChange(models.BookingPaid))
	require.NoError(t, err)

	err = db.MarkBookingConverted(ctx, booking.ID, 6, systemChange(models.BookingConverted))
	require.NoError(t, err)

	got, err = db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConverted, got.Status)
	assert.Equal(t, "escrow-abc", got.EscrowRef)
	assert.Equal(t, models.PaymentHeld, got.PaymentStatus)
	assert.Equal(t, int64(7), got.Version)

	history, err := db.GetBookingHistory(ctx, booking.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 7)
	assert.Equal(t, models.BookingPending, history[0].Status)
	assert.Equal(t, models.BookingConverted, history[6].Status)
}

func TestBookingStaleVersionRejected(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	booking := newTestBooking(1)
	require.NoError(t, db.CreateBooking(ctx, booking, systemChange(models.BookingPending)))

	err := db.UpdateBookingStatusWithVersion(ctx, booking.ID, 1,
		models.BookingPending, models.BookingConfirmed, systemChange(models.BookingConfirmed))
	require.NoError(t, err)

	// Stale version.
	err = db.UpdateBookingStatusWithVersion(ctx, booking.ID, 1,
		models.BookingConfirmed, models.BookingCancelled, systemChange(models.BookingCancelled))
	assert.ErrorIs(t, err, ErrConcurrentModification)

	// Wrong expected status.
	err = db.UpdateBookingStatusWithVersion(ctx, booking.ID, 2,
		models.BookingPending, models.BookingDeclined, systemChange(models.BookingDeclined))
	assert.ErrorIs(t, err, ErrConcurrentModification)

	// Missing record.
	err = db.UpdateBookingStatusWithVersion(ctx, 999, 1,
		models.BookingPending, models.BookingConfirmed, systemChange(models.BookingConfirmed))
	assert.ErrorIs(t, err, ErrNotFound)

	// The failed attempts wrote no history.
	history, err := db.GetBookingHistory(ctx, booking.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestGetBookingsByDateRange(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 3; i++ {
		b := newTestBooking(int64(i + 1))
		b.Date = base.AddDate(0, 0, i*2)
		require.NoError(t, db.CreateBooking(ctx, b, systemChange(models.BookingPending)))
	}

	bookings, err := db.GetBookingsByDateRange(ctx, base, base.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Len(t, bookings, 2)
}
