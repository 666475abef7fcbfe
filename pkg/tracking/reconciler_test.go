package tracking_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"racecontrol-api/pkg/domain"
	"racecontrol-api/pkg/tracking"
)

var testRoster = []domain.Racer{
	{UserID: "racer-a", Username: "alice", CarTag: "car1"},
	{UserID: "racer-b", Username: "bob", CarTag: "car2"},
}

func envelope(kind, docID, carTag, location, ts string) domain.TelemetryEnvelope {
	return domain.TelemetryEnvelope{
		Kind:       kind,
		DocumentID: docID,
		Record: domain.RawTelemetryRecord{
			RaceID:       "spring-rally",
			CarID:        carTag,
			Location:     location,
			Acceleration: "1.0",
			Time:         ts,
		},
	}
}

func TestReconcilerAddedIsIdempotent(t *testing.T) {
	rec := tracking.NewReconciler(testRoster)

	first := envelope("added", "doc-1", "car1", "[0.10° N, 0.10° E]", "2024-05-01 10:00:00UTC+0")
	pos, ok := rec.Apply(first)
	require.True(t, ok)
	require.Equal(t, "racer-a", pos.RacerID)
	require.Equal(t, 1, rec.Len())

	// Same document again: still usable, but no second entry.
	_, ok = rec.Apply(first)
	require.True(t, ok)
	require.Equal(t, 1, rec.Len())
}

func TestReconcilerAddedDoesNotOverwrite(t *testing.T) {
	rec := tracking.NewReconciler(testRoster)

	rec.Apply(envelope("added", "doc-1", "car1", "[0.10° N, 0.10° E]", "2024-05-01 10:00:00UTC+0"))
	rec.Apply(envelope("added", "doc-1", "car1", "[0.90° N, 0.90° E]", "2024-05-01 10:05:00UTC+0"))

	positions := rec.Positions()
	require.Len(t, positions, 1)
	require.InDelta(t, 0.10, positions[0].Latitude, 1e-9)
}

func TestReconcilerModifiedOverwrites(t *testing.T) {
	rec := tracking.NewReconciler(testRoster)

	rec.Apply(envelope("added", "doc-1", "car1", "[0.10° N, 0.10° E]", "2024-05-01 10:00:10UTC+0"))
	rec.Apply(envelope("modified", "doc-1", "car1", "[0.20° N, 0.20° E]", "2024-05-01 10:00:20UTC+0"))

	positions := rec.Positions()
	require.Len(t, positions, 1)
	require.InDelta(t, 0.20, positions[0].Latitude, 1e-9)
	require.Equal(t, 20, positions[0].Timestamp.Second())
}

func TestReconcilerModifiedInsertsWhenAbsent(t *testing.T) {
	rec := tracking.NewReconciler(testRoster)

	_, ok := rec.Apply(envelope("modified", "doc-9", "car2", "[0.30° S, 0.30° W]", "2024-05-01 10:00:00UTC+0"))
	require.True(t, ok)
	require.Equal(t, 1, rec.Len())

	positions := rec.Positions()
	require.Equal(t, "racer-b", positions[0].RacerID)
	require.InDelta(t, -0.30, positions[0].Latitude, 1e-9)
}

func TestReconcilerDropsUnparsableLocation(t *testing.T) {
	rec := tracking.NewReconciler(testRoster)

	_, ok := rec.Apply(envelope("added", "doc-1", "car1", "somewhere in Kampala", "2024-05-01 10:00:00UTC+0"))
	require.False(t, ok)
	require.Zero(t, rec.Len())
}

func TestReconcilerIgnoresUnknownKind(t *testing.T) {
	rec := tracking.NewReconciler(testRoster)

	_, ok := rec.Apply(envelope("removed", "doc-1", "car1", "[0.10° N, 0.10° E]", "2024-05-01 10:00:00UTC+0"))
	require.False(t, ok)
	require.Zero(t, rec.Len())
}

func TestReconcilerKeepsUnmatchedCarTag(t *testing.T) {
	rec := tracking.NewReconciler(testRoster)

	pos, ok := rec.Apply(envelope("added", "doc-1", "car99", "[0.10° N, 0.10° E]", "2024-05-01 10:00:00UTC+0"))
	require.True(t, ok)
	require.Empty(t, pos.RacerID)
	require.Equal(t, "car99", pos.CarID)
	require.Equal(t, 1, rec.Len())
}
