package tracking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCrossingLatchFiresOncePerRacerAndKind(t *testing.T) {
	latch := newCrossingLatch()

	require.True(t, latch.FirstCrossing("racer-a", CrossingStart))
	require.False(t, latch.FirstCrossing("racer-a", CrossingStart))

	// A different kind or racer is an independent latch.
	require.True(t, latch.FirstCrossing("racer-a", CrossingEnd))
	require.True(t, latch.FirstCrossing("racer-b", CrossingStart))
	require.False(t, latch.FirstCrossing("racer-b", CrossingStart))
}
