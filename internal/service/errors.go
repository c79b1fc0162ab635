package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrUnauthorized          = errors.New("actor is not allowed to perform this transition")
	ErrRevisionLimitExceeded = errors.New("work plan revision limit exceeded")
	ErrTailorNotAccepting    = errors.New("tailor is not accepting bookings")
	ErrOrderAlreadyExists    = errors.New("order already exists for this booking")
	ErrInvalidStage          = errors.New("stage is not the current stage of the order")
	ErrQuoteExpired          = errors.New("quote validity window has passed")
	ErrPaymentGateway        = errors.New("payment gateway operation failed")
	ErrPastDate              = errors.New("booking date is in the past")
	ErrEmptyWorkPlan         = errors.New("work plan must contain at least one stage")
	ErrInvalidRating         = errors.New("rating must be between 1 and 5")
)

// TransitionError names the current and the attempted status of a
// rejected transition. It unwraps to ErrInvalidTransition.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move %s from %s to %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func bookingTransitionErr(from, to string) error {
	return &TransitionError{Entity: "booking", From: from, To: to}
}

func orderTransitionErr(from, to string) error {
	return &TransitionError{Entity: "order", From: from, To: to}
}

func gatewayErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPaymentGateway, op, err)
}
