package errors

import "errors"

var (
	ErrSessionNotFound = errors.New("class session not found")

	ErrBookingNotFound = errors.New("booking not found")

	ErrInvalidID = errors.New("invalid ID format")

	// ErrClassFull means the guarded reserve matched nothing because the
	// session has no seats left.
	ErrClassFull = errors.New("class session is full")

	// ErrAlreadyReleased means the release found no document holding the
	// token: it was already released, or never issued.
	ErrAlreadyReleased = errors.New("reservation token already released")

	ErrSessionNotBookable = errors.New("class session is not open for booking")
)
