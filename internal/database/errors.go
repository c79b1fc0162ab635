package database

import "errors"

var (
	// ErrNotFound covers missing bookings, orders and stages.
	ErrNotFound = errors.New("record not found")

	// ErrConcurrentModification is returned when a conditional update
	// matches no row because status or version moved underneath it.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrSlotTaken signals an active booking already occupies the
	// tailor/date/start-time slot.
	ErrSlotTaken = errors.New("booking slot is not available")

	// ErrDuplicateOrder signals the booking already has an order
	// (UNIQUE constraint on orders.booking_id).
	ErrDuplicateOrder = errors.New("order already exists for booking")

	// ErrDuplicatePendingDelay signals an unresolved delay request
	// already exists on the order.
	ErrDuplicatePendingDelay = errors.New("pending delay request already exists")

	// ErrDelayProcessed signals the delay request is no longer pending.
	ErrDelayProcessed = errors.New("delay request already processed")
)
