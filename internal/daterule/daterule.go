// Package daterule computes stage start dates from an anchor date, a
// non-negative day offset, and an optional weekday constraint.
//
// Everything here is pure: no clock, no I/O, no store. Dates are civil
// dates represented as time.Time at midnight UTC, which keeps day
// arithmetic free of DST effects; timezone handling happens later, when
// the materializer combines a date with a wall-clock time.
package daterule

import (
	"errors"
	"time"
)

// Sentinel errors. Callers treat both as configuration validation failures.
var (
	ErrNegativeOffset    = errors.New("day offset must not be negative")
	ErrWeekdayOutOfRange = errors.New("weekday must be between Sunday (0) and Saturday (6)")
)

// DateOnly truncates t to its civil date at midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Resolve returns the start date derived from anchor: anchor + offsetDays,
// advanced forward (never backward) to the next date matching dayOfWeek
// when one is given. A candidate already on the requested weekday is
// returned unshifted.
func Resolve(anchor time.Time, offsetDays int, dayOfWeek *time.Weekday) (time.Time, error) {
	if offsetDays < 0 {
		return time.Time{}, ErrNegativeOffset
	}
	candidate := DateOnly(anchor).AddDate(0, 0, offsetDays)
	if dayOfWeek == nil {
		return candidate, nil
	}
	dow := *dayOfWeek
	if dow < time.Sunday || dow > time.Saturday {
		return time.Time{}, ErrWeekdayOutOfRange
	}
	delta := (int(dow) - int(candidate.Weekday()) + 7) % 7
	if delta == 0 {
		return candidate, nil
	}
	return candidate.AddDate(0, 0, delta), nil
}
