package google

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"atelier/internal/models"
)

func TestBookingRowValues(t *testing.T) {
	date := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	updatedAt := time.Date(2026, 3, 2, 11, 30, 0, 0, time.UTC)

	booking := &models.Booking{
		ID:            123,
		CustomerID:    456,
		TailorID:      789,
		Date:          date,
		StartTime:     "14:00",
		Service:       "wedding dress fitting",
		Status:        "quote_accepted",
		PaymentStatus: "unpaid",
		Quote:         &models.Quote{TotalAmount: 42000},
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}

	values := bookingRowValues(booking)

	expected := []interface{}{
		int64(123),
		int64(456),
		int64(789),
		"2026-03-14 14:00",
		"quote_accepted",
		"wedding dress fitting",
		int64(42000),
		"unpaid",
		"2026-03-01 10:00:00",
		"2026-03-02 11:30:00",
	}

	if len(values) != len(expected) {
		t.Fatalf("Expected %d values, got %d", len(expected), len(values))
	}
	for i, v := range values {
		if v != expected[i] {
			t.Errorf("At index %d: expected %v, got %v", i, expected[i], v)
		}
	}
}

func TestBookingRowValuesWithoutQuote(t *testing.T) {
	booking := &models.Booking{ID: 5, Status: "pending"}
	values := bookingRowValues(booking)
	if values[6] != int64(0) {
		t.Errorf("Expected zero total without quote, got %v", values[6])
	}
}

func TestOrderRowValues(t *testing.T) {
	completion := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	order := &models.Order{
		ID:                  7,
		BookingID:           123,
		CustomerID:          456,
		TailorID:            789,
		Status:              "in_progress",
		CurrentStage:        1,
		TotalEstimatedDays:  9,
		EstimatedCompletion: &completion,
		Stages: []models.Stage{
			{Seq: 1, Status: models.StageCompleted},
			{Seq: 2, Status: models.StageInProgress},
			{Seq: 3, Status: models.StagePending},
		},
	}

	values := orderRowValues(order)

	if values[5] != "1/3" {
		t.Errorf("Expected stage counter 1/3, got %v", values[5])
	}
	if values[6] != 33 {
		t.Errorf("Expected 33 percent progress, got %v", values[6])
	}
	if values[8] != "2026-04-01" {
		t.Errorf("Expected completion date, got %v", values[8])
	}
}

func TestCacheOperations(t *testing.T) {
	s := &SheetsService{rowCache: make(map[string]map[int64]int)}

	if _, ok := s.getCachedRow(bookingsTab, 1); ok {
		t.Error("Expected empty cache miss")
	}

	s.setCachedRow(bookingsTab, 1, 4)
	s.setCachedRow(ordersTab, 1, 9)

	if row, ok := s.getCachedRow(bookingsTab, 1); !ok || row != 4 {
		t.Errorf("Expected booking row 4, got %d (%v)", row, ok)
	}
	if row, ok := s.getCachedRow(ordersTab, 1); !ok || row != 9 {
		t.Errorf("Expected order row 9, got %d (%v)", row, ok)
	}

	s.deleteCachedRow(bookingsTab, 1)
	if _, ok := s.getCachedRow(bookingsTab, 1); ok {
		t.Error("Expected booking cache entry removed")
	}

	s.ClearCache()
	if _, ok := s.getCachedRow(ordersTab, 1); ok {
		t.Error("Expected cache cleared")
	}
}

func TestGetServiceAccountEmail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	creds := `{"type":"service_account","client_email":"sync@atelier-ops.iam.gserviceaccount.com"}`
	if err := os.WriteFile(path, []byte(creds), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}

	s := &SheetsService{}
	email, err := s.GetServiceAccountEmail(path)
	if err != nil {
		t.Fatalf("GetServiceAccountEmail: %v", err)
	}
	if email != "sync@atelier-ops.iam.gserviceaccount.com" {
		t.Errorf("Unexpected email %q", email)
	}

	if _, err := s.GetServiceAccountEmail(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing credentials file")
	}
}
