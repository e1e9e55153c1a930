package model

import "time"

// Lifecycle event types published to the session-events topic and
// pushed to subscribed tutors.
const (
	EventRequestCreated   = "instant.request.created"
	EventRequestAccepted  = "instant.request.accepted"
	EventRequestCancelled = "instant.request.cancelled"

	EventBookingCreated   = "booking.created"
	EventBookingCancelled = "booking.cancelled"
)

// RequestEvent is the payload fanned out to tutor subscriptions. The
// same shape travels over the Kafka bridge between instances; EventID
// is the dedupe key on re-injection.
type RequestEvent struct {
	EventID    string         `json:"event_id"`
	Type       string         `json:"type"`
	Request    InstantRequest `json:"request"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// BookingEvent is published to the bus for downstream consumers
// (dashboards, payment capture). No subscriber inside this core reads
// it back.
type BookingEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	Booking    Booking   `json:"booking"`
	OccurredAt time.Time `json:"occurred_at"`
}
