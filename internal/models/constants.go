package models

// Booking statuses.
const (
	BookingPending          = "pending"
	BookingConfirmed        = "confirmed"
	BookingConsultationDone = "consultation_done"
	BookingQuoteSubmitted   = "quote_submitted"
	BookingQuoteAccepted    = "quote_accepted"
	BookingPaid             = "paid"
	BookingConverted        = "converted"
	BookingCancelled        = "cancelled"
	BookingDeclined         = "declined"
)

// Order statuses.
const (
	OrderAwaitingPlan = "awaiting_plan"
	OrderPlanReview   = "plan_review"
	OrderPlanRejected = "plan_rejected"
	OrderInProgress   = "in_progress"
	OrderReady        = "ready"
	OrderCompleted    = "completed"
	OrderCancelled    = "cancelled"
	OrderDisputed     = "disputed"
)

// Payment statuses of the escrow linkage on a booking.
const (
	PaymentPending  = "pending"
	PaymentHeld     = "held"
	PaymentReleased = "released"
	PaymentRefunded = "refunded"
)

// Stage statuses.
const (
	StagePending    = "pending"
	StageInProgress = "in_progress"
	StageCompleted  = "completed"
)

// Delay request statuses.
const (
	DelayPending  = "pending"
	DelayApproved = "approved"
	DelayRejected = "rejected"
)

// Dispute statuses.
const (
	DisputeOpen        = "open"
	DisputeUnderReview = "under_review"
	DisputeResolved    = "resolved"
)

// Quote response statuses.
const (
	QuotePending  = "pending"
	QuoteAccepted = "accepted"
	QuoteRejected = "rejected"
)

// Actor roles.
const (
	RoleCustomer = "customer"
	RoleTailor   = "tailor"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

const (
	// DefaultCurrency for quotes and escrow amounts.
	DefaultCurrency = "USD"

	// Default three-stage plan built when auto-plan is enabled.
	StageDesign  = "design"
	StageSew     = "sew"
	StageDeliver = "deliver"

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 1000

	// DefaultHistoryPageSize bounds status history reads.
	DefaultHistoryPageSize = 50
)
