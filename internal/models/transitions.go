package models

// BookingTransitions represents the booking state flow (diagram) as code.
// quote_submitted → consultation_done is the quote-rejection edge: the
// tailor may revise and resubmit.
var BookingTransitions = map[string][]string{
	BookingPending:          {BookingConfirmed, BookingDeclined, BookingCancelled},
	BookingConfirmed:        {BookingConsultationDone, BookingCancelled},
	BookingConsultationDone: {BookingQuoteSubmitted, BookingCancelled},
	BookingQuoteSubmitted:   {BookingQuoteAccepted, BookingConsultationDone, BookingCancelled},
	BookingQuoteAccepted:    {BookingPaid, BookingCancelled},
	BookingPaid:             {BookingConverted, BookingCancelled},
}

// OrderTransitions represents the order state flow as code. disputed is
// entered from any open state; resolution returns the order to the
// status it held when the dispute was raised.
var OrderTransitions = map[string][]string{
	OrderAwaitingPlan: {OrderPlanReview, OrderInProgress, OrderCancelled, OrderDisputed},
	OrderPlanReview:   {OrderInProgress, OrderPlanRejected, OrderCancelled, OrderDisputed},
	OrderPlanRejected: {OrderPlanReview, OrderInProgress, OrderCancelled, OrderDisputed},
	OrderInProgress:   {OrderReady, OrderCancelled, OrderDisputed},
	OrderReady:        {OrderCompleted, OrderCancelled, OrderDisputed},
	OrderDisputed:     {OrderAwaitingPlan, OrderPlanReview, OrderPlanRejected, OrderInProgress, OrderReady, OrderCancelled},
}

func CanTransitionBooking(from, to string) bool {
	return containsStatus(BookingTransitions[from], to)
}

func CanTransitionOrder(from, to string) bool {
	return containsStatus(OrderTransitions[from], to)
}

func containsStatus(next []string, to string) bool {
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalBookingStatus reports statuses with no outgoing edges.
func IsTerminalBookingStatus(s string) bool {
	switch s {
	case BookingConverted, BookingCancelled, BookingDeclined:
		return true
	default:
		return false
	}
}

func IsTerminalOrderStatus(s string) bool {
	switch s {
	case OrderCompleted, OrderCancelled:
		return true
	default:
		return false
	}
}

// IsOpenOrderStatus reports whether a dispute may still be raised.
func IsOpenOrderStatus(s string) bool {
	return !IsTerminalOrderStatus(s) && s != OrderDisputed
}
