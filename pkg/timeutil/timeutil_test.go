package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayKey_RespectsLocation(t *testing.T) {
	// 23:30 UTC is already the next day in UTC+5.
	ts := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	almaty := time.FixedZone("UTC+5", 5*60*60)

	assert.Equal(t, "2026-03-10", DayKey(ts, time.UTC))
	assert.Equal(t, "2026-03-11", DayKey(ts, almaty))
	assert.Equal(t, "2026-03-10", DayKey(ts, nil))
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2026, 1, 30, 22, 0, 0, 0, time.UTC)
	b := time.Date(2026, 2, 2, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, 3, DaysBetween(a, b, time.UTC))
	assert.Equal(t, 3, DaysBetween(b, a, time.UTC))
	assert.Equal(t, 0, DaysBetween(a, a.Add(time.Hour), time.UTC))
}

func TestPreviousDay_AcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// 2026-03-29 is 23h long in Berlin.
	start := StartOfDay(time.Date(2026, 3, 30, 12, 0, 0, 0, loc), loc)
	prev := PreviousDay(start)

	assert.Equal(t, "2026-03-29", prev.Format(FormatDate))
	assert.Equal(t, 0, prev.Hour())
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = LoadLocation("Mars/Olympus_Mons")
	assert.Error(t, err)
}
