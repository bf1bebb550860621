// Package tzlocal resolves wall-clock readings in IANA timezones to
// absolute instants.
//
// DST transitions make some readings ambiguous (clocks set back, the
// reading occurs twice) and some nonexistent (clocks set forward, the
// reading is skipped). The policy here is deterministic: ambiguous
// readings resolve to the later instant (the post-transition offset),
// and nonexistent readings are interpreted with the pre-transition
// offset, which lands them just past the gap (02:30 in a 02:00->03:00
// gap becomes 03:30).
package tzlocal

import (
	"fmt"
	"time"
)

// probeDeltas cover every DST shift in the IANA database (30m, 1h, 2h
// variants exist; Lord Howe uses 30m, Troll uses 2h).
var probeDeltas = []time.Duration{
	-2 * time.Hour, -time.Hour, -30 * time.Minute,
	30 * time.Minute, time.Hour, 2 * time.Hour,
}

// Instant resolves the wall-clock reading (date's civil day, hour:minute)
// in the named IANA zone to an absolute instant under the policy above.
func Instant(date time.Time, hour, minute int, zoneName string) (time.Time, error) {
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return time.Time{}, fmt.Errorf("load zone %q: %w", zoneName, err)
	}
	y, m, d := date.Date()

	// Collect every instant whose wall clock matches the reading. One match
	// is the normal case; two means the reading is ambiguous and the later
	// instant wins. time.Date picks an unspecified side near transitions,
	// so probe around it rather than trusting it.
	t := time.Date(y, m, d, hour, minute, 0, 0, loc)
	var best time.Time
	found := false
	consider := func(c time.Time) {
		if matchesWall(c, y, m, d, hour, minute) && (!found || c.After(best)) {
			best, found = c, true
		}
	}
	consider(t)
	for _, delta := range probeDeltas {
		consider(t.Add(delta))
	}
	if found {
		return best, nil
	}

	// No instant carries this wall clock: the reading sits inside a
	// spring-forward gap. Interpret it with the pre-transition offset.
	// The offset 20 hours before the reading is safely on the old side of
	// the transition (zone offsets stay within +/-14h and transitions are
	// months apart).
	utcGuess := time.Date(y, m, d, hour, minute, 0, 0, time.UTC)
	_, offOld := utcGuess.Add(-20 * time.Hour).In(loc).Zone()
	return utcGuess.Add(-time.Duration(offOld) * time.Second).In(loc), nil
}

func matchesWall(t time.Time, y int, m time.Month, d, hour, minute int) bool {
	ty, tm, td := t.Date()
	return ty == y && tm == m && td == d && t.Hour() == hour && t.Minute() == minute
}
