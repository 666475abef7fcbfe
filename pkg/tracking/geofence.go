package tracking

import (
	"math"

	"racecontrol-api/pkg/domain"
)

// Crossing kinds, also used as latch keys and result event names.
const (
	CrossingStart = "start"
	CrossingEnd   = "end"
)

// Crossing reports which of a race's reference points a position is
// within tolerance of. Start and end are evaluated independently; both
// can be true when the reference points sit close together.
type Crossing struct {
	Start bool
	End   bool
}

// Evaluate runs the proximity test for one position against the race
// geofence: inside when both axis deltas are strictly under the
// tolerance. A missing reference point never fires.
func Evaluate(pos domain.NormalizedPosition, fence domain.RaceGeofence) Crossing {
	return Crossing{
		Start: withinTolerance(pos, fence.StartingPoint, fence.Tolerance),
		End:   withinTolerance(pos, fence.EndingPoint, fence.Tolerance),
	}
}

func withinTolerance(pos domain.NormalizedPosition, ref *domain.Coordinate, tolerance float64) bool {
	if ref == nil {
		return false
	}
	return math.Abs(pos.Latitude-ref.Latitude) < tolerance &&
		math.Abs(pos.Longitude-ref.Longitude) < tolerance
}

// crossingLatch remembers which (racer, kind) pairs have already been
// notified this session, so a racer idling inside the geofence does not
// re-fire the notification on every telemetry sample.
type crossingLatch struct {
	fired map[latchKey]struct{}
}

type latchKey struct {
	racerID string
	kind    string
}

func newCrossingLatch() *crossingLatch {
	return &crossingLatch{fired: make(map[latchKey]struct{})}
}

// FirstCrossing returns true exactly once per (racer, kind).
func (l *crossingLatch) FirstCrossing(racerID, kind string) bool {
	key := latchKey{racerID: racerID, kind: kind}
	if _, seen := l.fired[key]; seen {
		return false
	}
	l.fired[key] = struct{}{}
	return true
}
