package validator

import (
	"testing"
	"time"

	"tutordesk/pkg/logger"
	"tutordesk/pkg/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newTestValidator() *ClassesValidator {
	log := logger.New(logger.Config{Level: logger.ERROR, Format: logger.JSON, Service: "test"})
	return NewClassesValidator(log)
}

func validSession() *model.ClassSession {
	return &model.ClassSession{
		TutorID:  "tutor-1",
		Subject:  "calculus",
		StartsAt: time.Now().Add(24 * time.Hour),
		Capacity: 10,
		Status:   model.SessionScheduled,
	}
}

func TestValidateSession(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name    string
		mutate  func(s *model.ClassSession)
		wantErr bool
	}{
		{"valid", func(s *model.ClassSession) {}, false},
		{"missing tutor", func(s *model.ClassSession) { s.TutorID = "" }, true},
		{"subject too short", func(s *model.ClassSession) { s.Subject = "x" }, true},
		{"zero capacity", func(s *model.ClassSession) { s.Capacity = 0 }, true},
		{"capacity above maximum", func(s *model.ClassSession) { s.Capacity = 500 }, true},
		{"starts in the past", func(s *model.ClassSession) { s.StartsAt = time.Now().Add(-time.Hour) }, true},
		{"bad status", func(s *model.ClassSession) { s.Status = "paused" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSession()
			tt.mutate(s)
			err := v.ValidateSession(s, 200)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSession() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBooking(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name    string
		booking *model.Booking
		wantErr bool
	}{
		{
			"valid",
			&model.Booking{
				SessionID:   primitive.NewObjectID().Hex(),
				RequesterID: "student-1",
				Status:      model.BookingConfirmed,
			},
			false,
		},
		{
			"session id not an object id",
			&model.Booking{SessionID: "not-hex", RequesterID: "student-1", Status: model.BookingConfirmed},
			true,
		},
		{
			"missing requester",
			&model.Booking{SessionID: primitive.NewObjectID().Hex(), Status: model.BookingConfirmed},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateBooking(tt.booking)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBooking() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
