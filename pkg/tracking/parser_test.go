package tracking_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"racecontrol-api/pkg/tracking"
)

func TestParseLocationNorthEast(t *testing.T) {
	lat, lon, ok := tracking.ParseLocation("[1.3733° N, 32.2903° E]")
	require.True(t, ok)
	require.InDelta(t, 1.3733, lat, 1e-9)
	require.InDelta(t, 32.2903, lon, 1e-9)
}

func TestParseLocationSouthWestNegates(t *testing.T) {
	lat, lon, ok := tracking.ParseLocation("[1.50° S, 32.00° W]")
	require.True(t, ok)
	require.InDelta(t, -1.50, lat, 1e-9)
	require.InDelta(t, -32.00, lon, 1e-9)
}

func TestParseLocationMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":             "",
		"missing brackets":  "1.50° S, 32.00° W",
		"missing close":     "[1.50° S, 32.00° W",
		"wrong hemisphere":  "[1.50° X, 32.00° E]",
		"missing degree":    "[1.50 S, 32.00 W]",
		"malformed number":  "[1..5.0° N, 32° E]",
		"swapped separator": "[1.50° N; 32.00° E]",
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, ok := tracking.ParseLocation(raw)
			require.False(t, ok)
		})
	}
}

func TestParseTimestampISOWithUTCOffset(t *testing.T) {
	got := tracking.ParseTimestamp("2024-05-01 10:00:00UTC+3")
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("", 3*60*60))
	require.True(t, want.Equal(got), "got %s, want %s", got, want)
}

func TestParseTimestampDayMonthYearLayout(t *testing.T) {
	got := tracking.ParseTimestamp("01/05/2024 10:00:00UTC-2")
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("", -2*60*60))
	require.True(t, want.Equal(got), "got %s, want %s", got, want)
}

func TestParseTimestampOffsetWithMinutes(t *testing.T) {
	got := tracking.ParseTimestamp("2024-05-01 10:00:00UTC+5:30")
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("", 5*60*60+30*60))
	require.True(t, want.Equal(got), "got %s, want %s", got, want)
}

func TestParseTimestampFallsBackToNow(t *testing.T) {
	for _, raw := range []string{"not a date", "", "   "} {
		before := time.Now()
		got := tracking.ParseTimestamp(raw)
		after := time.Now()

		require.False(t, got.Before(before), "fallback for %q should be current time", raw)
		require.False(t, got.After(after), "fallback for %q should be current time", raw)
	}
}

func TestParseAcceleration(t *testing.T) {
	require.InDelta(t, 3.5, tracking.ParseAcceleration("3.5"), 1e-9)
	require.InDelta(t, -0.25, tracking.ParseAcceleration(" -0.25 "), 1e-9)
	require.Zero(t, tracking.ParseAcceleration("garbage"))
	require.Zero(t, tracking.ParseAcceleration(""))
}
