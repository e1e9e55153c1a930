package errors

import "errors"

var (
	ErrRequestNotFound = errors.New("instant request not found")

	ErrInvalidID = errors.New("invalid instant request ID format")

	// ErrNotOwner means the caller asked to cancel a request created by
	// someone else.
	ErrNotOwner = errors.New("instant request belongs to another requester")

	// ErrAlreadyResolved means the request left the pending state before
	// the caller's guarded update landed.
	ErrAlreadyResolved = errors.New("instant request already resolved")
)
