package domain

import "time"

// EventType names a payment lifecycle notification
type EventType string

const (
	EventPaymentAuthorized EventType = "payment_authorized"
	EventPaymentCaptured   EventType = "payment_captured"
	EventPaymentComplete   EventType = "payment_complete"
)

// Event is published to subscribers after the ledger reflects the change.
// Payment is a snapshot; subscribers must not expect later mutations to show.
type Event struct {
	Type       EventType
	Payment    *Payment
	DealIDs    []string
	OccurredAt time.Time
}

// NewEvent snapshots the payment into an event
func NewEvent(eventType EventType, payment *Payment, dealIDs []string, at time.Time) Event {
	return Event{
		Type:       eventType,
		Payment:    payment.Clone(),
		DealIDs:    append([]string(nil), dealIDs...),
		OccurredAt: at,
	}
}
