package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"atelier/internal/config"
	"atelier/internal/export"
	"atelier/internal/metrics"
	"atelier/internal/service"

	"github.com/rs/zerolog"
)

// Server exposes the workflow over HTTP. Routing uses method-qualified
// patterns; auth and rate limiting wrap the whole mux.
type Server struct {
	cfg      config.APIConfig
	bookings *service.BookingService
	orders   *service.OrderService
	exporter *export.Exporter
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewServer(cfg config.APIConfig, bookings *service.BookingService, orders *service.OrderService, exporter *export.Exporter, logger *zerolog.Logger) *Server {
	srv := &Server{
		cfg:      cfg,
		bookings: bookings,
		orders:   orders,
		exporter: exporter,
		auth:     NewHTTPAuth(cfg),
		logger:   logger,
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler builds the full middleware-wrapped route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/v1/bookings", s.handleRequestBooking)
	mux.HandleFunc("GET /api/v1/bookings/{id}", s.handleGetBooking)
	mux.HandleFunc("GET /api/v1/bookings/{id}/history", s.handleBookingHistory)
	mux.HandleFunc("POST /api/v1/bookings/{id}/confirm", s.handleConfirmBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/decline", s.handleDeclineBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/consultation", s.handleCompleteConsultation)
	mux.HandleFunc("POST /api/v1/bookings/{id}/quote", s.handleSubmitQuote)
	mux.HandleFunc("POST /api/v1/bookings/{id}/quote/response", s.handleRespondToQuote)
	mux.HandleFunc("POST /api/v1/bookings/{id}/pay", s.handlePayBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", s.handleCancelBooking)

	mux.HandleFunc("POST /api/v1/orders", s.handleCreateOrder)
	mux.HandleFunc("GET /api/v1/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("GET /api/v1/orders/{id}/history", s.handleOrderHistory)
	mux.HandleFunc("GET /api/v1/orders/{id}/progress", s.handleOrderProgress)
	mux.HandleFunc("POST /api/v1/orders/{id}/plan", s.handleSubmitWorkPlan)
	mux.HandleFunc("POST /api/v1/orders/{id}/plan/approve", s.handleApproveWorkPlan)
	mux.HandleFunc("POST /api/v1/orders/{id}/plan/reject", s.handleRejectWorkPlan)
	mux.HandleFunc("POST /api/v1/orders/{id}/stages/{seq}/complete", s.handleCompleteStage)
	mux.HandleFunc("POST /api/v1/orders/{id}/stages/{seq}/notes", s.handleAddStageNote)
	mux.HandleFunc("POST /api/v1/orders/{id}/delays", s.handleRequestDelay)
	mux.HandleFunc("POST /api/v1/orders/{id}/delays/{requestID}/review", s.handleReviewDelay)
	mux.HandleFunc("POST /api/v1/orders/{id}/complete", s.handleCompleteOrder)
	mux.HandleFunc("POST /api/v1/orders/{id}/cancel", s.handleCancelOrder)
	mux.HandleFunc("POST /api/v1/orders/{id}/dispute", s.handleRaiseDispute)
	mux.HandleFunc("POST /api/v1/orders/{id}/dispute/review", s.handleReviewDispute)
	mux.HandleFunc("POST /api/v1/orders/{id}/dispute/resolve", s.handleResolveDispute)

	mux.HandleFunc("POST /api/v1/exports/orderbook", s.handleExportOrderBook)

	return s.loggingMiddleware(mux, s.auth.Wrap(mux))
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) loggingMiddleware(mux *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		// Route pattern keeps the metric label cardinality bounded.
		_, endpoint := mux.Handler(r)
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
