package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"atelier/internal/database"
	"atelier/internal/metrics"
	"atelier/internal/service"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, envelope{Success: false, Error: &errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeServiceError maps workflow errors onto HTTP statuses. Version
// and slot races surface as 409 so clients reload and retry; policy
// rejections are 422; gateway trouble is the gateway's 502. The entity
// label feeds the conflict counter.
func writeServiceError(w http.ResponseWriter, entity string, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", "actor is not a party to this resource")
	case errors.Is(err, database.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_unavailable", "the requested slot is already booked")
	case errors.Is(err, database.ErrConcurrentModification):
		metrics.IncConflict(entity)
		writeError(w, http.StatusConflict, "version_conflict", "resource was modified concurrently, reload and retry")
	case errors.Is(err, service.ErrOrderAlreadyExists):
		writeError(w, http.StatusConflict, "order_exists", "an order for this booking already exists")
	case errors.Is(err, database.ErrDuplicatePendingDelay):
		writeError(w, http.StatusConflict, "delay_pending", "a delay request is already pending")
	case errors.Is(err, database.ErrDelayProcessed):
		writeError(w, http.StatusConflict, "delay_processed", "the delay request was already reviewed")
	case errors.Is(err, service.ErrQuoteExpired):
		writeError(w, http.StatusConflict, "quote_expired", "the quote validity window has passed")
	case errors.Is(err, service.ErrRevisionLimitExceeded):
		writeError(w, http.StatusConflict, "revision_limit", "work plan revision limit reached")
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, service.ErrTailorNotAccepting):
		writeError(w, http.StatusUnprocessableEntity, "tailor_not_accepting", "the tailor is not accepting bookings")
	case errors.Is(err, service.ErrPastDate):
		writeError(w, http.StatusUnprocessableEntity, "past_date", "booking date is in the past")
	case errors.Is(err, service.ErrEmptyWorkPlan):
		writeError(w, http.StatusUnprocessableEntity, "empty_plan", "work plan needs at least one stage")
	case errors.Is(err, service.ErrInvalidStage):
		writeError(w, http.StatusUnprocessableEntity, "invalid_stage", "stage does not exist or is out of order")
	case errors.Is(err, service.ErrInvalidRating):
		writeError(w, http.StatusUnprocessableEntity, "invalid_rating", "rating must be between 1 and 5")
	case errors.Is(err, service.ErrPaymentGateway):
		writeError(w, http.StatusBadGateway, "payment_gateway", "escrow provider rejected the operation")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
