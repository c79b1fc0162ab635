package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"atelier/internal/config"
	"atelier/internal/database"
	"atelier/internal/events"
	"atelier/internal/export"
	"atelier/internal/models"
	"atelier/internal/repository"
	"atelier/internal/service"
	"atelier/internal/settings"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	holds    int
	captures int
	cancels  int
	refunds  int
}

func (g *fakeGateway) AuthorizeAndHold(ctx context.Context, amount int64, currency string, destination int64, referenceID string) (string, error) {
	g.holds++
	return fmt.Sprintf("hold-%d", g.holds), nil
}

func (g *fakeGateway) Capture(ctx context.Context, escrowRef string) error {
	g.captures++
	return nil
}

func (g *fakeGateway) Cancel(ctx context.Context, escrowRef string) error {
	g.cancels++
	return nil
}

func (g *fakeGateway) Refund(ctx context.Context, escrowRef string, amount int64) error {
	g.refunds++
	return nil
}

type noopSync struct{}

func (noopSync) EnqueueTask(ctx context.Context, taskType, entityType string, entityID int64, payload interface{}) error {
	return nil
}

func testConfig() config.APIConfig {
	return config.APIConfig{
		Port: 0,
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "backend-key", Name: "backend"},
				{Key: "reader-key", Name: "dashboard", Permissions: []string{"read:bookings", "read:orders"}},
			},
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *database.DB, *fakeGateway) {
	t.Helper()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gw := &fakeGateway{}
	bus := events.NewEventBus()
	idem := repository.NewMemoryIdempotencyStore(time.Hour)
	provider := settings.NewProvider(db, &logger)

	bookings := service.NewBookingService(db, db, gw, idem, provider, bus, noopSync{}, &logger)
	orders := service.NewOrderService(db, db, gw, idem, provider, bus, noopSync{}, &logger)
	exporter := export.NewExporter(db, t.TempDir(), &logger)

	srv := NewServer(testConfig(), bookings, orders, exporter, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	require.NoError(t, db.UpsertTailor(context.Background(),
		&models.Tailor{ID: 10, Name: "Mira", AcceptingBookings: true}))

	return ts, db, gw
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *errorBody      `json:"error"`
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, body interface{}, actor *models.Actor) (int, apiResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", "backend-key")
	if actor != nil {
		req.Header.Set("x-actor-id", fmt.Sprintf("%d", actor.ID))
		req.Header.Set("x-actor-role", actor.Role)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func decodeBooking(t *testing.T, raw json.RawMessage) *models.Booking {
	t.Helper()
	var b models.Booking
	require.NoError(t, json.Unmarshal(raw, &b))
	return &b
}

func decodeOrder(t *testing.T, raw json.RawMessage) *models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, json.Unmarshal(raw, &o))
	return &o
}

var (
	customer = models.Actor{ID: 100, Role: models.RoleCustomer}
	tailor   = models.Actor{ID: 10, Role: models.RoleTailor}
	admin    = models.Actor{ID: 1, Role: models.RoleAdmin}
)

func TestFullWorkflowOverHTTP(t *testing.T) {
	ts, _, gw := newTestServer(t)

	// Customer requests a consultation slot.
	status, resp := doRequest(t, ts, http.MethodPost, "/api/v1/bookings", map[string]interface{}{
		"tailor_id":  10,
		"date":       time.Now().AddDate(0, 0, 5).Format("2006-01-02"),
		"start_time": "14:00",
		"service":    "wedding dress",
	}, &customer)
	require.Equal(t, http.StatusCreated, status)
	booking := decodeBooking(t, resp.Data)
	require.NotZero(t, booking.ID)
	base := fmt.Sprintf("/api/v1/bookings/%d", booking.ID)

	// Tailor confirms, holds the consultation, quotes.
	status, resp = doRequest(t, ts, http.MethodPost, base+"/confirm",
		map[string]interface{}{"version": booking.Version}, &tailor)
	require.Equal(t, http.StatusOK, status)
	booking = decodeBooking(t, resp.Data)
	assert.Equal(t, models.BookingConfirmed, booking.Status)

	status, resp = doRequest(t, ts, http.MethodPost, base+"/consultation",
		map[string]interface{}{"version": booking.Version, "notes": "measured, silk chosen"}, &tailor)
	require.Equal(t, http.StatusOK, status)
	booking = decodeBooking(t, resp.Data)

	status, resp = doRequest(t, ts, http.MethodPost, base+"/quote", map[string]interface{}{
		"version":       booking.Version,
		"labor_cost":    30000,
		"material_cost": 12000,
		"items": []map[string]interface{}{
			{"description": "silk", "amount": 12000},
			{"description": "work", "amount": 30000},
		},
		"stage_estimates": []map[string]interface{}{
			{"name": "design", "days": 2},
			{"name": "sew", "days": 6},
			{"name": "deliver", "days": 1},
		},
	}, &tailor)
	require.Equal(t, http.StatusOK, status)
	booking = decodeBooking(t, resp.Data)
	require.NotNil(t, booking.Quote)
	assert.Equal(t, int64(42000), booking.Quote.TotalAmount)

	// Customer accepts and pays into escrow.
	status, resp = doRequest(t, ts, http.MethodPost, base+"/quote/response",
		map[string]interface{}{"version": booking.Version, "accept": true}, &customer)
	require.Equal(t, http.StatusOK, status)
	booking = decodeBooking(t, resp.Data)
	assert.Equal(t, models.BookingQuoteAccepted, booking.Status)

	status, resp = doRequest(t, ts, http.MethodPost, base+"/pay",
		map[string]interface{}{"version": booking.Version}, &customer)
	require.Equal(t, http.StatusOK, status)
	booking = decodeBooking(t, resp.Data)
	assert.Equal(t, models.BookingPaid, booking.Status)
	assert.Equal(t, 1, gw.holds)

	// Conversion opens the order with a plan deadline.
	status, resp = doRequest(t, ts, http.MethodPost, "/api/v1/orders",
		map[string]interface{}{"booking_id": booking.ID}, &admin)
	require.Equal(t, http.StatusCreated, status)
	order := decodeOrder(t, resp.Data)
	assert.Equal(t, models.OrderAwaitingPlan, order.Status)
	require.NotNil(t, order.PlanDeadline)
	orderBase := fmt.Sprintf("/api/v1/orders/%d", order.ID)

	// Tailor plans, customer approves.
	status, resp = doRequest(t, ts, http.MethodPost, orderBase+"/plan", map[string]interface{}{
		"version": order.Version,
		"stages": []map[string]interface{}{
			{"name": "design", "estimated_days": 2},
			{"name": "sew", "estimated_days": 6},
			{"name": "deliver", "estimated_days": 1},
		},
	}, &tailor)
	require.Equal(t, http.StatusOK, status)
	order = decodeOrder(t, resp.Data)
	assert.Equal(t, models.OrderPlanReview, order.Status)
	assert.Equal(t, 9, order.TotalEstimatedDays)

	status, resp = doRequest(t, ts, http.MethodPost, orderBase+"/plan/approve",
		map[string]interface{}{"version": order.Version}, &customer)
	require.Equal(t, http.StatusOK, status)
	order = decodeOrder(t, resp.Data)
	assert.Equal(t, models.OrderInProgress, order.Status)

	// Stages complete in sequence.
	for seq := 1; seq <= 3; seq++ {
		status, resp = doRequest(t, ts, http.MethodPost,
			fmt.Sprintf("%s/stages/%d/complete", orderBase, seq),
			map[string]interface{}{"version": order.Version}, &tailor)
		require.Equal(t, http.StatusOK, status)
		order = decodeOrder(t, resp.Data)
	}
	assert.Equal(t, models.OrderReady, order.Status)

	// Progress endpoint reflects full completion.
	status, resp = doRequest(t, ts, http.MethodGet, orderBase+"/progress", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var progress struct {
		ProgressPercent int    `json:"progress_percent"`
		Status          string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &progress))
	assert.Equal(t, 100, progress.ProgressPercent)

	// Delivery confirmation captures the escrow hold.
	rating := 5
	status, resp = doRequest(t, ts, http.MethodPost, orderBase+"/complete",
		map[string]interface{}{"version": order.Version, "rating": rating, "feedback": "perfect fit"}, &customer)
	require.Equal(t, http.StatusOK, status)
	order = decodeOrder(t, resp.Data)
	assert.Equal(t, models.OrderCompleted, order.Status)
	require.NotNil(t, order.Rating)
	assert.Equal(t, 5, *order.Rating)
	assert.Equal(t, 1, gw.captures)
}

func TestErrorMapping(t *testing.T) {
	ts, _, _ := newTestServer(t)

	// Unknown booking.
	status, resp := doRequest(t, ts, http.MethodGet, "/api/v1/bookings/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)

	// Create a booking to exercise transition failures.
	status, resp = doRequest(t, ts, http.MethodPost, "/api/v1/bookings", map[string]interface{}{
		"tailor_id":  10,
		"date":       time.Now().AddDate(0, 0, 3).Format("2006-01-02"),
		"start_time": "10:00",
		"service":    "hem adjustment",
	}, &customer)
	require.Equal(t, http.StatusCreated, status)
	booking := decodeBooking(t, resp.Data)
	base := fmt.Sprintf("/api/v1/bookings/%d", booking.ID)

	// Customer cannot confirm a booking.
	status, resp = doRequest(t, ts, http.MethodPost, base+"/confirm",
		map[string]interface{}{"version": booking.Version}, &customer)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", resp.Error.Code)

	// Stale version is a retryable conflict.
	status, resp = doRequest(t, ts, http.MethodPost, base+"/confirm",
		map[string]interface{}{"version": int64(99)}, &tailor)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "version_conflict", resp.Error.Code)

	// Paying before a quote is accepted is an invalid transition.
	status, resp = doRequest(t, ts, http.MethodPost, base+"/pay",
		map[string]interface{}{"version": booking.Version}, &customer)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_transition", resp.Error.Code)

	// Slot collision for the same tailor, date and time.
	status, resp = doRequest(t, ts, http.MethodPost, "/api/v1/bookings", map[string]interface{}{
		"tailor_id":  10,
		"date":       time.Now().AddDate(0, 0, 3).Format("2006-01-02"),
		"start_time": "10:00",
		"service":    "another fitting",
	}, &customer)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "slot_unavailable", resp.Error.Code)

	// A missing start_time must be rejected, not booked: every
	// empty-start-time request for one tailor and day would otherwise
	// occupy the same slot.
	for _, startTime := range []string{"", "noonish", "25:00"} {
		status, resp = doRequest(t, ts, http.MethodPost, "/api/v1/bookings", map[string]interface{}{
			"tailor_id":  10,
			"date":       time.Now().AddDate(0, 0, 4).Format("2006-01-02"),
			"start_time": startTime,
			"service":    "sleeve repair",
		}, &customer)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "bad_request", resp.Error.Code)
	}
}

func TestActorHeaderRequired(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, resp := doRequest(t, ts, http.MethodPost, "/api/v1/bookings", map[string]interface{}{
		"tailor_id": 10,
		"date":      time.Now().AddDate(0, 0, 3).Format("2006-01-02"),
		"service":   "fitting",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "bad_request", resp.Error.Code)
}

func TestExportEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, resp := doRequest(t, ts, http.MethodPost, "/api/v1/exports/orderbook", map[string]interface{}{
		"start_date": time.Now().AddDate(0, 0, -7).Format("2006-01-02"),
		"end_date":   time.Now().AddDate(0, 0, 7).Format("2006-01-02"),
	}, &admin)
	require.Equal(t, http.StatusOK, status)

	var out struct {
		File string `json:"file"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.NotEmpty(t, out.File)
	assert.FileExists(t, out.File)
}
