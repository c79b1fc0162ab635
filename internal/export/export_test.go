package export

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"atelier/internal/database"
	"atelier/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func setupExporter(t *testing.T) (*database.DB, *Exporter) {
	logger := zerolog.New(os.Stdout)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	quiet := zerolog.New(io.Discard)
	return db, NewExporter(db, t.TempDir(), &quiet)
}

func TestOrderBookExport(t *testing.T) {
	db, exporter := setupExporter(t)
	ctx := context.Background()

	booking := &models.Booking{
		CustomerID:    1,
		TailorID:      10,
		Date:          time.Now().AddDate(0, 0, 2),
		StartTime:     "11:00",
		Service:       "coat alteration",
		PaymentStatus: models.PaymentPending,
		Status:        models.BookingPending,
		Quote:         nil,
	}
	change := models.StatusChange{Status: models.BookingPending, ActorRole: models.RoleSystem}
	require.NoError(t, db.CreateBooking(ctx, booking, change))

	order := &models.Order{BookingID: booking.ID, CustomerID: 1, TailorID: 10,
		Status: models.OrderInProgress, TotalEstimatedDays: 9, CurrentStage: 1}
	stages := []models.Stage{
		{Seq: 1, Name: "design", EstimatedDays: 2, Status: models.StageCompleted},
		{Seq: 2, Name: "sew", EstimatedDays: 7, Status: models.StageInProgress},
	}
	require.NoError(t, db.CreateOrder(ctx, order, stages,
		models.StatusChange{Status: models.OrderInProgress, ActorRole: models.RoleSystem}))

	start := time.Now().AddDate(0, 0, -1)
	end := time.Now().AddDate(0, 0, 7)
	path, err := exporter.OrderBook(ctx, start, end)
	require.NoError(t, err)
	require.FileExists(t, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	bookingRows, err := f.GetRows(bookingsSheet)
	require.NoError(t, err)
	require.Len(t, bookingRows, 2)
	assert.Equal(t, "ID", bookingRows[0][0])
	assert.Equal(t, "coat alteration", bookingRows[1][5])
	assert.Equal(t, "pending", bookingRows[1][6])

	orderRows, err := f.GetRows(ordersSheet)
	require.NoError(t, err)
	require.Len(t, orderRows, 2)
	assert.Equal(t, "in_progress", orderRows[1][4])
	assert.Equal(t, "1/2", orderRows[1][5])
	assert.Equal(t, "50", orderRows[1][6])
}

func TestOrderBookEmptyRange(t *testing.T) {
	_, exporter := setupExporter(t)

	start := time.Now().AddDate(0, 0, 30)
	end := time.Now().AddDate(0, 0, 31)
	path, err := exporter.OrderBook(context.Background(), start, end)
	require.NoError(t, err)
	require.FileExists(t, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(bookingsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
