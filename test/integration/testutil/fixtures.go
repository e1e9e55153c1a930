package testutil

import (
	"time"

	"tutordesk/pkg/model"
)

// ScheduledSession returns a bookable class session fixture.
func ScheduledSession(capacity int) *model.ClassSession {
	return &model.ClassSession{
		TutorID:           "tutor_1",
		Subject:           "linear algebra",
		StartsAt:          time.Now().Add(24 * time.Hour).UTC().Truncate(time.Millisecond),
		Capacity:          capacity,
		Status:            model.SessionScheduled,
		ReservationTokens: []string{},
	}
}

// PendingRequest returns an open instant-request fixture.
func PendingRequest(requesterID string) *model.InstantRequest {
	return &model.InstantRequest{
		RequesterID:   requesterID,
		Subject:       "calculus",
		Status:        model.RequestPending,
		MeetingHandle: "meet-fixture",
	}
}
