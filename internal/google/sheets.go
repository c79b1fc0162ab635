package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"atelier/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Sheet tab layout. Bookings go to A:J, orders to A:K; column A is the
// entity id in both tabs and drives the row lookup cache.
const (
	bookingsTab = "Bookings"
	ordersTab   = "Orders"
)

var ErrRowNotFound = errors.New("sheet row not found")

// SheetsService mirrors the workflow state into a Google spreadsheet
// the atelier staff use for day-to-day coordination. Writes come only
// from the sync worker, so best-effort consistency is fine here.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string

	cacheMu  sync.RWMutex
	rowCache map[string]map[int64]int // tab -> entity id -> 1-based row
}

func NewSheetsService(credentialsFile, spreadsheetID string) (*SheetsService, error) {
	ctx := context.Background()

	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %v", err)
	}

	service := &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		rowCache:      make(map[string]map[int64]int),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		service.WarmUpCache(ctx)
	}()

	return service, nil
}

// TestConnection проверяет подключение к таблице
func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, bookingsTab+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %v", err)
	}
	return nil
}

// GetServiceAccountEmail возвращает email сервисного аккаунта
func (s *SheetsService) GetServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	return creds.ClientEmail, nil
}

// WarmUpCache populates the row index cache for both tabs.
func (s *SheetsService) WarmUpCache(ctx context.Context) error {
	for _, tab := range []string{bookingsTab, ordersTab} {
		if err := s.warmTab(ctx, tab); err != nil {
			return err
		}
	}
	return nil
}

func (s *SheetsService) warmTab(ctx context.Context, tab string) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, tab+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[tab] = make(map[int64]int)

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		var id int64
		switch v := row[0].(type) {
		case float64:
			id = int64(v)
		case string:
			fmt.Sscanf(v, "%d", &id)
		}
		if id > 0 {
			s.rowCache[tab][id] = i + 1
		}
	}
	return nil
}

// UpsertBookingRow updates an existing booking row or appends one.
func (s *SheetsService) UpsertBookingRow(ctx context.Context, booking *models.Booking) error {
	if booking == nil {
		return fmt.Errorf("booking is nil")
	}
	return s.upsertRow(ctx, bookingsTab, booking.ID, bookingRowValues(booking), "J")
}

// UpsertOrderRow updates an existing order row or appends one.
func (s *SheetsService) UpsertOrderRow(ctx context.Context, order *models.Order) error {
	if order == nil {
		return fmt.Errorf("order is nil")
	}
	return s.upsertRow(ctx, ordersTab, order.ID, orderRowValues(order), "K")
}

// UpdateBookingStatusCell rewrites only the status and updated-at
// cells for a booking row.
func (s *SheetsService) UpdateBookingStatusCell(ctx context.Context, bookingID int64, status string) error {
	return s.updateStatusCell(ctx, bookingsTab, bookingID, status, "E", "J")
}

// UpdateOrderStatusCell rewrites only the status and updated-at cells
// for an order row.
func (s *SheetsService) UpdateOrderStatusCell(ctx context.Context, orderID int64, status string) error {
	return s.updateStatusCell(ctx, ordersTab, orderID, status, "E", "K")
}

func (s *SheetsService) upsertRow(ctx context.Context, tab string, id int64, values []interface{}, lastCol string) error {
	rowIdx, err := s.findRow(ctx, tab, id)
	if err != nil {
		if errors.Is(err, ErrRowNotFound) {
			return s.appendRow(ctx, tab, id, values)
		}
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:%s%d", tab, rowIdx, lastCol, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{values},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *SheetsService) appendRow(ctx context.Context, tab string, id int64, values []interface{}) error {
	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, tab+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{values},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err == nil {
		// The append position is unknown without another read; drop the
		// cached entry so the next lookup rescans the column.
		s.deleteCachedRow(tab, id)
	}
	return err
}

func (s *SheetsService) updateStatusCell(ctx context.Context, tab string, id int64, status, statusCol, updatedCol string) error {
	rowIdx, err := s.findRow(ctx, tab, id)
	if err != nil {
		return err
	}

	statusRange := fmt.Sprintf("%s!%s%d:%s%d", tab, statusCol, rowIdx, statusCol, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, statusRange, &sheets.ValueRange{
		Values: [][]interface{}{{status}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return err
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	updatedRange := fmt.Sprintf("%s!%s%d:%s%d", tab, updatedCol, rowIdx, updatedCol, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, updatedRange, &sheets.ValueRange{
		Values: [][]interface{}{{now}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// findRow locates the 1-based row index for id in column A with cache.
func (s *SheetsService) findRow(ctx context.Context, tab string, id int64) (int, error) {
	if id == 0 {
		return 0, fmt.Errorf("entity id is required")
	}

	if row, ok := s.getCachedRow(tab, id); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, tab+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		switch v := row[0].(type) {
		case float64:
			if int64(v) == id {
				rowIdx := i + 1
				s.setCachedRow(tab, id, rowIdx)
				return rowIdx, nil
			}
		case string:
			if v == fmt.Sprintf("%d", id) {
				rowIdx := i + 1
				s.setCachedRow(tab, id, rowIdx)
				return rowIdx, nil
			}
		}
	}

	return 0, ErrRowNotFound
}

func (s *SheetsService) getCachedRow(tab string, id int64) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[tab][id]
	return row, ok
}

func (s *SheetsService) setCachedRow(tab string, id int64, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.rowCache[tab] == nil {
		s.rowCache[tab] = make(map[int64]int)
	}
	s.rowCache[tab][id] = row
}

func (s *SheetsService) deleteCachedRow(tab string, id int64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache[tab], id)
}

// ClearCache clears the row index cache.
func (s *SheetsService) ClearCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]map[int64]int)
}

func bookingRowValues(b *models.Booking) []interface{} {
	total := int64(0)
	if b.Quote != nil {
		total = b.Quote.TotalAmount
	}
	return []interface{}{
		b.ID,
		b.CustomerID,
		b.TailorID,
		b.Date.Format("2006-01-02") + " " + b.StartTime,
		b.Status,
		b.Service,
		total,
		b.PaymentStatus,
		b.CreatedAt.Format("2006-01-02 15:04:05"),
		b.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}

func orderRowValues(o *models.Order) []interface{} {
	completion := ""
	if o.EstimatedCompletion != nil {
		completion = o.EstimatedCompletion.Format("2006-01-02")
	}
	return []interface{}{
		o.ID,
		o.BookingID,
		o.CustomerID,
		o.TailorID,
		o.Status,
		fmt.Sprintf("%d/%d", o.CurrentStage, len(o.Stages)),
		o.ProgressPercentage(),
		o.TotalEstimatedDays,
		completion,
		o.CreatedAt.Format("2006-01-02 15:04:05"),
		o.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}
