package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"atelier/internal/database"
	"atelier/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet = "Bookings"
	ordersSheet   = "Orders"
)

// Exporter writes the order book for a date range into an Excel file
// with one sheet for bookings and one for orders.
type Exporter struct {
	db     *database.DB
	dir    string
	logger *zerolog.Logger
}

func NewExporter(db *database.DB, dir string, logger *zerolog.Logger) *Exporter {
	return &Exporter{db: db, dir: dir, logger: logger}
}

// OrderBook exports bookings and orders created in [startDate, endDate]
// and returns the saved file path.
func (e *Exporter) OrderBook(ctx context.Context, startDate, endDate time.Time) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	bookings, err := e.db.GetBookingsByDateRange(ctx, startDate, endDate)
	if err != nil {
		return "", fmt.Errorf("error getting bookings: %v", err)
	}
	orders, err := e.db.GetOrdersByDateRange(ctx, startDate, endDate)
	if err != nil {
		return "", fmt.Errorf("error getting orders: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := e.writeBookingsSheet(f, bookings); err != nil {
		return "", err
	}
	if err := e.writeOrdersSheet(f, orders); err != nil {
		return "", err
	}
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("orderbook_%s_to_%s.xlsx",
		startDate.Format("2006-01-02"),
		endDate.Format("2006-01-02"))
	filePath := filepath.Join(e.dir, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).
		Int("bookings", len(bookings)).Int("orders", len(orders)).
		Msg("order book exported")
	return filePath, nil
}

func (e *Exporter) writeBookingsSheet(f *excelize.File, bookings []*models.Booking) error {
	index, err := f.NewSheet(bookingsSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"ID", "Customer", "Tailor", "Date", "Time", "Service",
		"Status", "Quote Total", "Payment", "Created"}
	writeHeaderRow(f, bookingsSheet, headers)

	for i, b := range bookings {
		total := int64(0)
		if b.Quote != nil {
			total = b.Quote.TotalAmount
		}
		writeRow(f, bookingsSheet, i+2, []interface{}{
			b.ID,
			b.CustomerID,
			b.TailorID,
			b.Date.Format("2006-01-02"),
			b.StartTime,
			b.Service,
			b.Status,
			total,
			b.PaymentStatus,
			b.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	_ = f.SetColWidth(bookingsSheet, "A", "C", 12)
	_ = f.SetColWidth(bookingsSheet, "D", "J", 18)
	return nil
}

func (e *Exporter) writeOrdersSheet(f *excelize.File, orders []*models.Order) error {
	if _, err := f.NewSheet(ordersSheet); err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}

	headers := []string{"ID", "Booking", "Customer", "Tailor", "Status",
		"Stage", "Progress %", "Est. Days", "Est. Completion", "Rating", "Created"}
	writeHeaderRow(f, ordersSheet, headers)

	for i, o := range orders {
		completion := ""
		if o.EstimatedCompletion != nil {
			completion = o.EstimatedCompletion.Format("2006-01-02")
		}
		rating := ""
		if o.Rating != nil {
			rating = fmt.Sprintf("%d", *o.Rating)
		}
		writeRow(f, ordersSheet, i+2, []interface{}{
			o.ID,
			o.BookingID,
			o.CustomerID,
			o.TailorID,
			o.Status,
			fmt.Sprintf("%d/%d", o.CurrentStage, len(o.Stages)),
			o.ProgressPercentage(),
			o.TotalEstimatedDays,
			completion,
			rating,
			o.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	_ = f.SetColWidth(ordersSheet, "A", "D", 12)
	_ = f.SetColWidth(ordersSheet, "E", "K", 16)
	return nil
}

func writeHeaderRow(f *excelize.File, sheet string, headers []string) {
	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) {
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
