package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"atelier/internal/models"
)

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

func requireActor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "x-actor-id and x-actor-role headers are required")
	}
	return actor, ok
}

func (s *Server) handleRequestBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != models.RoleCustomer {
		writeError(w, http.StatusForbidden, "forbidden", "only customers request bookings")
		return
	}

	var body struct {
		TailorID  int64  `json:"tailor_id"`
		Date      string `json:"date"`
		StartTime string `json:"start_time"`
		Service   string `json:"service"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.TailorID <= 0 || body.Service == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "tailor_id and service are required")
		return
	}

	date, err := time.Parse("2006-01-02", body.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid date format; expected YYYY-MM-DD")
		return
	}
	// The slot key is (tailor, date, start_time); a free-form value
	// here would let malformed bookings collide with each other.
	if _, err := time.Parse("15:04", body.StartTime); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid start_time; expected HH:MM")
		return
	}

	booking := &models.Booking{
		CustomerID: actor.ID,
		TailorID:   body.TailorID,
		Date:       date,
		StartTime:  body.StartTime,
		Service:    body.Service,
	}
	if err := s.bookings.RequestBooking(r.Context(), booking); err != nil {
		writeServiceError(w, "booking", err)
		return
	}
	writeData(w, http.StatusCreated, booking)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid booking id")
		return
	}
	booking, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		writeServiceError(w, "booking", err)
		return
	}
	writeData(w, http.StatusOK, booking)
}

func (s *Server) handleBookingHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid booking id")
		return
	}
	limit, offset := pagination(r)
	history, err := s.bookings.GetBookingHistory(r.Context(), id, limit, offset)
	if err != nil {
		writeServiceError(w, "booking", err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"history": history})
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// versioned transition handlers share one request shape.
type transitionRequest struct {
	Version int64  `json:"version"`
	Reason  string `json:"reason,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

func (s *Server) handleConfirmBooking(w http.ResponseWriter, r *http.Request) {
	s.bookingTransition(w, r, func(id int64, body transitionRequest, actor models.Actor) error {
		return s.bookings.Confirm(r.Context(), id, body.Version, actor)
	})
}

func (s *Server) handleDeclineBooking(w http.ResponseWriter, r *http.Request) {
	s.bookingTransition(w, r, func(id int64, body transitionRequest, actor models.Actor) error {
		return s.bookings.Decline(r.Context(), id, body.Version, body.Reason, actor)
	})
}

func (s *Server) handleCompleteConsultation(w http.ResponseWriter, r *http.Request) {
	s.bookingTransition(w, r, func(id int64, body transitionRequest, actor models.Actor) error {
		return s.bookings.CompleteConsultation(r.Context(), id, body.Version, body.Notes, actor)
	})
}

func (s *Server) handlePayBooking(w http.ResponseWriter, r *http.Request) {
	s.bookingTransition(w, r, func(id int64, body transitionRequest, actor models.Actor) error {
		return s.bookings.Pay(r.Context(), id, body.Version, actor)
	})
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	s.bookingTransition(w, r, func(id int64, body transitionRequest, actor models.Actor) error {
		return s.bookings.Cancel(r.Context(), id, body.Version, body.Reason, actor)
	})
}

func (s *Server) bookingTransition(w http.ResponseWriter, r *http.Request, apply func(int64, transitionRequest, models.Actor) error) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid booking id")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body transitionRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := apply(id, body, actor); err != nil {
		writeServiceError(w, "booking", err)
		return
	}
	booking, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		writeServiceError(w, "booking", err)
		return
	}
	writeData(w, http.StatusOK, booking)
}

func (s *Server) handleSubmitQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid booking id")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body struct {
		Version        int64                  `json:"version"`
		Items          []models.QuoteItem     `json:"items"`
		LaborCost      int64                  `json:"labor_cost"`
		MaterialCost   int64                  `json:"material_cost"`
		Currency       string                 `json:"currency"`
		StageEstimates []models.StageEstimate `json:"stage_estimates"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	quote := &models.Quote{
		Items:          body.Items,
		LaborCost:      body.LaborCost,
		MaterialCost:   body.MaterialCost,
		Currency:       body.Currency,
		StageEstimates: body.StageEstimates,
	}
	if err := s.bookings.SubmitQuote(r.Context(), id, body.Version, quote, actor); err != nil {
		writeServiceError(w, "booking", err)
		return
	}

	booking, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		writeServiceError(w, "booking", err)
		return
	}
	writeData(w, http.StatusOK, booking)
}

func (s *Server) handleRespondToQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid booking id")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body struct {
		Version int64  `json:"version"`
		Accept  bool   `json:"accept"`
		Reason  string `json:"reason,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.bookings.RespondToQuote(r.Context(), id, body.Version, body.Accept, body.Reason, actor); err != nil {
		writeServiceError(w, "booking", err)
		return
	}

	booking, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		writeServiceError(w, "booking", err)
		return
	}
	writeData(w, http.StatusOK, booking)
}
