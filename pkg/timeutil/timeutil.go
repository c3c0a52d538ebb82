// Package timeutil provides calendar-day utilities for streak and rolling-window math.
// Every helper takes the *time.Location that defines where a day starts, so the
// day boundary is a configuration decision rather than the server's local zone.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// DefaultLocation is the day boundary used when none is configured.
var DefaultLocation = time.UTC

// FormatDate is the standard date format (YYYY-MM-DD), also used as a day key.
const FormatDate = "2006-01-02"

// LoadLocation resolves an IANA zone name, falling back to UTC for "".
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown location %q: %w", name, err)
	}
	return loc, nil
}

func orDefault(loc *time.Location) *time.Location {
	if loc == nil {
		return DefaultLocation
	}
	return loc
}

// StartOfDay returns 00:00:00 of the day containing t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(orDefault(loc))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}

// DayKey returns the YYYY-MM-DD key of the day containing t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(orDefault(loc)).Format(FormatDate)
}

// PreviousDay returns the start of the calendar day before the one starting at dayStart.
// AddDate keeps this correct across DST transitions where a day is not 24h.
func PreviousDay(dayStart time.Time) time.Time {
	return dayStart.AddDate(0, 0, -1)
}

// IsSameDay checks if two times fall on the same calendar day in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	return DayKey(t1, loc) == DayKey(t2, loc)
}

// DaysBetween returns the number of calendar days from t1 to t2 in loc (absolute).
func DaysBetween(t1, t2 time.Time, loc *time.Location) int {
	a := StartOfDay(t1, loc)
	b := StartOfDay(t2, loc)
	if b.Before(a) {
		a, b = b, a
	}
	days := 0
	for a.Before(b) {
		a = a.AddDate(0, 0, 1)
		days++
	}
	return days
}

// TrailingWindow returns the start of a rolling window of the given length ending at now.
func TrailingWindow(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}
