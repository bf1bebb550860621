package delivery

import "errors"

// Sentinel errors for the delivery service.
var (
	// ErrNotFound indicates the requested record does not exist, or a
	// compare-and-set found the row in a different status.
	ErrNotFound = errors.New("delivery record not found")

	// ErrValidation indicates a malformed input, such as a staged event
	// with no correlation id.
	ErrValidation = errors.New("invalid delivery input")

	// ErrUnmatchedEvent indicates a provider event whose correlation id
	// has no delivery record yet. The event stays staged and is retried
	// on a later reconcile pass.
	ErrUnmatchedEvent = errors.New("event matches no delivery record")

	// ErrNotRedrivable indicates a redrive was requested for an instance
	// that is not in a failed state.
	ErrNotRedrivable = errors.New("instance is not in a redrivable state")

	// ErrInvalidTransition indicates the requested status change is not
	// permitted from the instance's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)
