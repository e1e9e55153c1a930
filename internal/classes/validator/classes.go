package validator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tutordesk/pkg/logger"
	"tutordesk/pkg/model"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

// ClassesValidator validates class sessions and bookings coming in over
// the API.
type ClassesValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewClassesValidator(log *logger.Logger) *ClassesValidator {
	return &ClassesValidator{
		validate: validator.New(),
		logger:   log,
	}
}

func (v *ClassesValidator) ValidateSession(session *model.ClassSession, maxCapacity int) error {
	if err := v.validate.Struct(session); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return translateValidationErrors(validationErrs)
		}
		return err
	}

	if session.Capacity > maxCapacity {
		return ValidationErrors{
			ValidationError{
				Field:   "Capacity",
				Message: fmt.Sprintf("capacity (%d) exceeds the maximum allowed (%d)", session.Capacity, maxCapacity),
			},
		}
	}

	if session.StartsAt.Before(time.Now()) {
		return ValidationErrors{
			ValidationError{
				Field:   "StartsAt",
				Message: "starts_at cannot be in the past",
			},
		}
	}

	return nil
}

func (v *ClassesValidator) ValidateBooking(booking *model.Booking) error {
	if err := v.validate.Struct(booking); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return translateValidationErrors(validationErrs)
		}
		return err
	}
	return nil
}

func translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
		case "mongodb":
			message = fmt.Sprintf("%s must be a valid MongoDB ObjectID", err.Field())
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", err.Field(), err.Param())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
