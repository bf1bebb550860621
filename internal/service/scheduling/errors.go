package scheduling

import "errors"

// Sentinel errors for the scheduling service.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("scheduling record not found")

	// ErrValidation indicates a misconfigured stage chain or bad input.
	// A resolution pass that hits this aborts without creating any rows.
	ErrValidation = errors.New("invalid scheduling configuration")

	// ErrAlreadyEnrolled indicates the user already holds an active or
	// paused enrollment in the same group.
	ErrAlreadyEnrolled = errors.New("user already enrolled in group")

	// ErrEmailTaken indicates another user already owns the email address.
	ErrEmailTaken = errors.New("email address already in use")

	// ErrUnknownTimezone indicates a timezone name the IANA database does
	// not recognize.
	ErrUnknownTimezone = errors.New("unknown IANA timezone")

	// ErrInvalidTransition indicates the requested status change is not
	// permitted from the record's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)
