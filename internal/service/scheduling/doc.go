// Package scheduling implements the assignment and action scheduling core:
// enrolling users into groups, resolving the ordered stage chain into
// per-user stage assignments with computed start dates, materializing
// action templates into per-user action instances pinned to absolute
// instants, and the periodic sweeps that activate due stages and complete
// finished ones.
//
// All creation paths are idempotent. Stage assignments and action
// instances are guarded by store uniqueness constraints; a concurrent
// duplicate creation converges on the winner's row and is surfaced as a
// benign no-op, never an error. The one exception is enrollment itself,
// where a duplicate is a real conflict the caller must hear about
// (ErrAlreadyEnrolled).
//
// The clock is injectable; a single resolution or sweep pass reads it
// exactly once so same-day boundary decisions stay consistent within the
// pass.
//
// Repository implementations live in repository/postgres/ and
// repository/memory/.
package scheduling
