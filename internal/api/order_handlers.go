package api

import (
	"net/http"
	"time"

	"atelier/internal/models"
)

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body struct {
		BookingID int64 `json:"booking_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.BookingID <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "booking_id is required")
		return
	}

	order, err := s.orders.CreateFromBooking(r.Context(), body.BookingID, actor)
	if err != nil {
		writeServiceError(w, "order", err)
		return
	}
	writeData(w, http.StatusCreated, order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid order id")
		return
	}
	order, err := s.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, "order", err)
		return
	}
	writeData(w, http.StatusOK, order)
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid order id")
		return
	}
	limit, offset := pagination(r)
	history, err := s.orders.GetOrderHistory(r.Context(), id, limit, offset)
	if err != nil {
		writeServiceError(w, "order", err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"history": history})
}

func (s *Server) handleOrderProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid order id")
		return
	}
	order, err := s.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, "order", err)
		return
	}

	now := time.Now()
	writeData(w, http.StatusOK, map[string]interface{}{
		"order_id":             order.ID,
		"status":               order.Status,
		"progress_percent":     order.ProgressPercentage(),
		"current_stage":        order.CurrentStage,
		"total_stages":         len(order.Stages),
		"stages":               order.Stages,
		"estimated_completion": order.EstimatedCompletion,
		"days_remaining":       order.DaysRemaining(now),
		"overdue":              order.IsOverdue(now),
	})
}

func (s *Server) handleSubmitWorkPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid order id")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body struct {
		Version int64               `json:"version"`
		Stages  []models.StageInput `json:"stages"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.orders.SubmitWorkPlan(r.Context(), id, body.Version, body.Stages, actor); err != nil {
		writeServiceError(w, "order", err)
		return
	}
	s.respondWithOrder(w, r, id)
}

func (s *Server) handleApproveWorkPlan(w http.ResponseWriter, r *http.Request) {
	s.orderTransition(w, r, func(id int64, body transitionRequest, actor models.Actor) error {
		return s.orders.ApproveWorkPlan(r.Context(), id, body.Version, actor)
	})
}

func (s *Server) handleRejectWorkPlan(w http.ResponseWriter, r *http.Request) {
	s.orderTransition(w, r, func(id int64, body transitionRequest, actor models.Actor) error {
		return s.orders.RejectWorkPlan(r.Context(), id, body.Version, body.Reason, actor)
	})
}

func (s *Server) handleCompleteStage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid order id")
		return
	}
	seq, ok := pathID(r, "seq")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid stage seq")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body struct {
		Version int64  `json:"version"`
		Note    string `json:"note,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.orders.CompleteStage(r.Context(), id, body.Version, int(seq), body.Note, actor); err != nil {
		writeServiceError(w, "order", err)
		return
	}
	s.respondWithOrder(w, r, id)
}

func (s *Server) handleAddStageNote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid order id")
		return
	}
	seq, ok := pathID(r, "seq")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid stage seq")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body struct {
		Note string `json:"note"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Note == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "note is required")
		return
	}

	if err := s.orders.AddStageNote(r.Context(), id, int(seq), body.Note, actor); err != nil {
		writeServiceError(w, "order", err)
		return
	}
	s.respondWithOrder(w, r, id)
}

func (s *Server) handleRequestDelay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid order id")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body struct {
		Reason         string `json:"reason"`
		AdditionalDays int    `json:"additional_days"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	request, err := s.orders.RequestDelay(r.Context(), id, body.Reason, body.AdditionalDays, actor)
	if err != nil {
		writeServiceError(w, "order", err)
		return
	}
	writeData(w, http.StatusCreated, request)
}

func (s *Server) handleReviewDelay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid order id")
		return
	}
	requestID, ok := pathID(r, "requestID")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid delay request id")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body struct {
		Approve bool   `json:"approve"`
		Notes   string `json:"notes,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.orders.RespondToDelay(r.Context(), id, requestID, body.Approve, body.Notes, actor); err != nil {
		writeServiceError(w, "order", err)
		return
	}
	s.respondWithOrder(w, r, id)
}

func (s *Server) handleCompleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid order id")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body struct {
		Version  int64  `json:"version"`
		Rating   *int   `json:"rating,omitempty"`
		Feedback string `json:"feedback,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.orders.MarkCompleted(r.Context(), id, body.Version, body.Rating, body.Feedback, actor); err != nil {
		writeServiceError(w, "order", err)
		return
	}
	s.respondWithOrder(w, r, id)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.orderTransition(w, r, func(id int64, body transitionRequest, actor models.Actor) error {
		return s.orders.Cancel(r.Context(), id, body.Version, body.Reason, actor)
	})
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request) {
	s.orderTransition(w, r, func(id int64, body transitionRequest, actor models.Actor) error {
		return s.orders.RaiseDispute(r.Context(), id, body.Version, body.Reason, actor)
	})
}

func (s *Server) handleReviewDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid order id")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := s.orders.ReviewDispute(r.Context(), id, actor); err != nil {
		writeServiceError(w, "order", err)
		return
	}
	s.respondWithOrder(w, r, id)
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid order id")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body struct {
		Version     int64  `json:"version"`
		Resolution  string `json:"resolution"`
		CancelOrder bool   `json:"cancel_order"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.orders.ResolveDispute(r.Context(), id, body.Version, body.Resolution, body.CancelOrder, actor); err != nil {
		writeServiceError(w, "order", err)
		return
	}
	s.respondWithOrder(w, r, id)
}

func (s *Server) handleExportOrderBook(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export_disabled", "exports are not configured")
		return
	}

	var body struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	start, err := time.Parse("2006-01-02", body.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid start_date; expected YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid end_date; expected YYYY-MM-DD")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "bad_request", "end_date is before start_date")
		return
	}

	path, err := s.exporter.OrderBook(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "export failed")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"file": path})
}

func (s *Server) orderTransition(w http.ResponseWriter, r *http.Request, apply func(int64, transitionRequest, models.Actor) error) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid order id")
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
		writeServiceError(w, "order", err)
		return
	}
	s.respondWithOrder(w, r, id)
}

func (s *Server) respondWithOrder(w http.ResponseWriter, r *http.Request, id int64) {
	order, err := s.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, "order", err)
		return
	}
	writeData(w, http.StatusOK, order)
}
