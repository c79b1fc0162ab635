package models

import "time"

// Booking is the negotiation record between a customer and a tailor,
// from the initial request up to payment and conversion into an Order.
type Booking struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customer_id"`
	TailorID   int64     `json:"tailor_id"`
	Date       time.Time `json:"date"`
	StartTime  string    `json:"start_time"` // HH:MM
	Service    string    `json:"service"`

	ConsultationNotes string     `json:"consultation_notes,omitempty"`
	ConsultationAt    *time.Time `json:"consultation_at,omitempty"`

	Quote *Quote `json:"quote,omitempty"`

	EscrowRef     string `json:"escrow_ref,omitempty"`
	PaymentStatus string `json:"payment_status"`

	Status       string `json:"status"`
	CancelReason string `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// Quote is the itemized price and time estimate a tailor submits
// while a booking is in negotiation. Stored as a JSON document on
// the booking row.
type Quote struct {
	Items          []QuoteItem     `json:"items"`
	LaborCost      int64           `json:"labor_cost"`
	MaterialCost   int64           `json:"material_cost"`
	TotalAmount    int64           `json:"total_amount"`
	Currency       string          `json:"currency"`
	StageEstimates []StageEstimate `json:"stage_estimates"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	ValidUntil     time.Time       `json:"valid_until"`
	Response       QuoteResponse   `json:"response"`
}

type QuoteItem struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

// StageEstimate carries the per-stage day estimate quoted by the tailor.
type StageEstimate struct {
	Name string `json:"name"`
	Days int    `json:"days"`
}

type QuoteResponse struct {
	Status      string     `json:"status"` // pending, accepted, rejected
	Reason      string     `json:"reason,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// EstimatedDays sums the per-stage estimates.
func (q *Quote) EstimatedDays() int {
	total := 0
	for _, e := range q.StageEstimates {
		total += e.Days
	}
	return total
}

// StatusChange is one append-only entry in an entity's status history.
type StatusChange struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
	ActorRole string    `json:"actor_role"`
	ActorID   int64     `json:"actor_id,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// Tailor is the minimal tailor record the engine needs: whether new
// booking requests are currently accepted.
type Tailor struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	AcceptingBookings bool      `json:"accepting_bookings"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Actor identifies who triggered a transition.
type Actor struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
