package model

import "time"

const (
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

// Booking ties a requester to exactly one reservation unit on a class
// session. A confirmed booking owns its reservation token; cancelling
// flips the status (never deletes) and releases the token exactly once.
// ReservationReleased records whether the release reached the ledger,
// so a reconciliation sweep can retry releases that were lost to a
// partial failure.
type Booking struct {
	ID                  string    `json:"id,omitempty" bson:"_id,omitempty" validate:"omitempty,mongodb"`
	SessionID           string    `json:"session_id" bson:"session_id" validate:"required,mongodb"`
	RequesterID         string    `json:"requester_id" bson:"requester_id" validate:"required,min=1,max=64"`
	Status              string    `json:"status" bson:"status" validate:"omitempty,oneof=confirmed cancelled"`
	ReservationToken    string    `json:"-" bson:"reservation_token"`
	ReservationReleased bool      `json:"-" bson:"reservation_released"`
	CreatedAt           time.Time `json:"created_at" bson:"created_at"`
}
