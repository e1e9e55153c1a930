package model

import "time"

const (
	RequestPending   = "pending"
	RequestAccepted  = "accepted"
	RequestCancelled = "cancelled"
)

// InstantRequest is a student's broadcast for immediate help. Pending is
// the only non-terminal state: it moves to accepted by exactly one
// winning tutor, or to cancelled by its requester, and never back.
// AcceptedBy is non-empty if and only if Status is accepted.
//
// MeetingHandle is assigned at creation so it can be communicated to
// both sides immediately, but it only goes live once the request is
// accepted.
type InstantRequest struct {
	ID            string    `json:"id,omitempty" bson:"_id,omitempty" validate:"omitempty,mongodb"`
	RequesterID   string    `json:"requester_id" bson:"requester_id" validate:"required,min=1,max=64"`
	Subject       string    `json:"subject" bson:"subject" validate:"required,min=2,max=100"`
	Status        string    `json:"status" bson:"status" validate:"omitempty,oneof=pending accepted cancelled"`
	AcceptedBy    string    `json:"accepted_by,omitempty" bson:"accepted_by,omitempty"`
	MeetingHandle string    `json:"meeting_handle" bson:"meeting_handle"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// SessionMatch is the audit record written after a tutor wins an
// acceptance race. It is best-effort: a failed write is logged, never
// unwound, because the match itself already happened.
type SessionMatch struct {
	ID            string    `json:"id,omitempty" bson:"_id,omitempty"`
	RequestID     string    `json:"request_id" bson:"request_id"`
	RequesterID   string    `json:"requester_id" bson:"requester_id"`
	TutorID       string    `json:"tutor_id" bson:"tutor_id"`
	MeetingHandle string    `json:"meeting_handle" bson:"meeting_handle"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}
