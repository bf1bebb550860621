package tzlocal

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestInstantPlainReading(t *testing.T) {
	got, err := Instant(day(2023, time.June, 15), 9, 30, "America/New_York")
	if err != nil {
		t.Fatalf("Instant: %v", err)
	}
	want := time.Date(2023, time.June, 15, 13, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got.UTC(), want)
	}
}

func TestInstantUTCZone(t *testing.T) {
	got, err := Instant(day(2024, time.February, 29), 23, 59, "UTC")
	if err != nil {
		t.Fatalf("Instant: %v", err)
	}
	want := time.Date(2024, time.February, 29, 23, 59, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got.UTC(), want)
	}
}

func TestInstantSpringForwardGap(t *testing.T) {
	// 2023-03-12 02:30 does not exist in New York (02:00 jumps to 03:00).
	// Pre-gap offset is EST (-5), so the reading resolves to 07:30 UTC,
	// which reads 03:30 EDT: just past the gap.
	got, err := Instant(day(2023, time.March, 12), 2, 30, "America/New_York")
	if err != nil {
		t.Fatalf("Instant: %v", err)
	}
	want := time.Date(2023, time.March, 12, 7, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got.UTC(), want)
	}
}

func TestInstantFallBackAmbiguity(t *testing.T) {
	// 2023-11-05 01:30 occurs twice in New York: 05:30 UTC (EDT) and
	// 06:30 UTC (EST). The later instant wins.
	got, err := Instant(day(2023, time.November, 5), 1, 30, "America/New_York")
	if err != nil {
		t.Fatalf("Instant: %v", err)
	}
	want := time.Date(2023, time.November, 5, 6, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got.UTC(), want)
	}
}

func TestInstantReadingJustOutsideTransition(t *testing.T) {
	// Readings adjacent to the transition stay unaffected.
	got, err := Instant(day(2023, time.March, 12), 3, 0, "America/New_York")
	if err != nil {
		t.Fatalf("Instant: %v", err)
	}
	want := time.Date(2023, time.March, 12, 7, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("03:00 EDT: got %s, want %s", got.UTC(), want)
	}

	got, err = Instant(day(2023, time.March, 12), 1, 59, "America/New_York")
	if err != nil {
		t.Fatalf("Instant: %v", err)
	}
	want = time.Date(2023, time.March, 12, 6, 59, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("01:59 EST: got %s, want %s", got.UTC(), want)
	}
}

func TestInstantUnknownZone(t *testing.T) {
	if _, err := Instant(day(2023, time.June, 15), 9, 0, "Mars/Olympus_Mons"); err == nil {
		t.Error("unknown zone should fail")
	}
}
