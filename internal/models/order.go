package models

import "time"

// Order is the execution contract created once a booking is paid. It
// tracks the work plan, stage progression, delay negotiation and the
// optional dispute until delivery.
type Order struct {
	ID         int64 `json:"id"`
	BookingID  int64 `json:"booking_id"`
	CustomerID int64 `json:"customer_id"`
	TailorID   int64 `json:"tailor_id"`

	Status  string `json:"status"`
	Version int64  `json:"version"`

	PlanSubmittedAt     *time.Time `json:"plan_submitted_at,omitempty"`
	PlanApprovedAt      *time.Time `json:"plan_approved_at,omitempty"`
	PlanRejectedAt      *time.Time `json:"plan_rejected_at,omitempty"`
	PlanRejectionReason string     `json:"plan_rejection_reason,omitempty"`

	TotalEstimatedDays  int        `json:"total_estimated_days"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`

	// CurrentStage indexes the first non-completed stage; equals
	// len(Stages) once every stage is completed.
	CurrentStage int     `json:"current_stage"`
	Stages       []Stage `json:"stages"`

	DelayRequests []DelayRequest `json:"delay_requests,omitempty"`

	PlanDeadline     *time.Time `json:"plan_deadline,omitempty"`
	PlanReminderSent bool       `json:"plan_reminder_sent"`
	PlanOverdue      bool       `json:"plan_overdue"`
	WorkOverdue      bool       `json:"work_overdue"`

	WorkCompletedAt *time.Time `json:"work_completed_at,omitempty"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Rating          *int       `json:"rating,omitempty"`
	Feedback        string     `json:"feedback,omitempty"`

	Dispute *Dispute `json:"dispute,omitempty"`

	CancelReason string `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stage is one unit of work within an order's work plan.
type Stage struct {
	ID            int64      `json:"id"`
	OrderID       int64      `json:"order_id"`
	Seq           int        `json:"seq"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	EstimatedDays int        `json:"estimated_days"`
	Status        string     `json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Notes         []string   `json:"notes,omitempty"`
}

// StageInput is the tailor-submitted shape of a stage before persistence.
type StageInput struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	EstimatedDays int    `json:"estimated_days"`
}

// DelayRequest is a tailor-initiated proposal to extend the estimated
// completion date.
type DelayRequest struct {
	ID             int64      `json:"id"`
	OrderID        int64      `json:"order_id"`
	Reason         string     `json:"reason"`
	AdditionalDays int        `json:"additional_days"`
	Status         string     `json:"status"`
	RequestedAt    time.Time  `json:"requested_at"`
	ReviewedBy     int64      `json:"reviewed_by,omitempty"`
	ReviewNotes    string     `json:"review_notes,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
}

// PlanRevision is an immutable snapshot of a prior stage set, archived
// when the tailor resubmits a rejected work plan.
type PlanRevision struct {
	ID         int64     `json:"id"`
	OrderID    int64     `json:"order_id"`
	Revision   int       `json:"revision"`
	Stages     []Stage   `json:"stages"`
	Reason     string    `json:"reason,omitempty"`
	RevisedBy  int64     `json:"revised_by"`
	ArchivedAt time.Time `json:"archived_at"`
}

type Dispute struct {
	RaisedBy    int64      `json:"raised_by"`
	RaisedRole  string     `json:"raised_role"`
	Reason      string     `json:"reason"`
	Status      string     `json:"status"`
	Resolution  string     `json:"resolution,omitempty"`
	PriorStatus string     `json:"prior_status"`
	RaisedAt    time.Time  `json:"raised_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// ProgressPercentage is completed stages over total stages, 0-100.
func (o *Order) ProgressPercentage() int {
	if len(o.Stages) == 0 {
		return 0
	}
	done := 0
	for _, s := range o.Stages {
		if s.Status == StageCompleted {
			done++
		}
	}
	return done * 100 / len(o.Stages)
}

// IsOverdue reports whether the order has passed its estimated
// completion without reaching a terminal status.
func (o *Order) IsOverdue(now time.Time) bool {
	if o.EstimatedCompletion == nil || IsTerminalOrderStatus(o.Status) {
		return false
	}
	return now.After(*o.EstimatedCompletion)
}

// DaysRemaining until the estimated completion; negative when overdue.
func (o *Order) DaysRemaining(now time.Time) int {
	if o.EstimatedCompletion == nil {
		return 0
	}
	return int(o.EstimatedCompletion.Sub(now).Hours() / 24)
}

// PendingDelay returns the unresolved delay request, if any.
func (o *Order) PendingDelay() *DelayRequest {
	for i := range o.DelayRequests {
		if o.DelayRequests[i].Status == DelayPending {
			return &o.DelayRequests[i]
		}
	}
	return nil
}

// StageBySeq returns the stage with the given sequence number.
func (o *Order) StageBySeq(seq int) *Stage {
	for i := range o.Stages {
		if o.Stages[i].Seq == seq {
			return &o.Stages[i]
		}
	}
	return nil
}
