package model

import "time"

const (
	SessionScheduled = "scheduled"
	SessionCancelled = "cancelled"
	SessionCompleted = "completed"
)

// ClassSession is a seat-limited group class offered by a tutor.
// Capacity is immutable after creation; Reserved moves only through the
// ledger's atomic reserve/release operations and never exceeds Capacity.
// ReservationTokens holds one opaque token per outstanding reservation
// unit, so len(ReservationTokens) == Reserved at all times.
type ClassSession struct {
	ID                string    `json:"id,omitempty" bson:"_id,omitempty" validate:"omitempty,mongodb"`
	TutorID           string    `json:"tutor_id" bson:"tutor_id" validate:"required,min=1,max=64"`
	Subject           string    `json:"subject" bson:"subject" validate:"required,min=2,max=100"`
	StartsAt          time.Time `json:"starts_at" bson:"starts_at" validate:"required"`
	Capacity          int       `json:"capacity" bson:"capacity" validate:"required,min=1"`
	Reserved          int       `json:"reserved" bson:"reserved"`
	ReservationTokens []string  `json:"-" bson:"reservation_tokens"`
	Status            string    `json:"status" bson:"status" validate:"omitempty,oneof=scheduled cancelled completed"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
}

// SeatsLeft is a read-time convenience; under concurrency it is only a
// snapshot, never a promise.
func (s *ClassSession) SeatsLeft() int {
	return s.Capacity - s.Reserved
}
