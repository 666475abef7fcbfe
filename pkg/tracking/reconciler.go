package tracking

import (
	"log"

	"racecontrol-api/pkg/domain"
	"racecontrol-api/pkg/shared"
)

// Reconciler merges a stream of added/modified telemetry change events
// into one keyed collection: exactly one NormalizedPosition per source
// document id. It is not safe for concurrent use; the owning session
// serializes access.
type Reconciler struct {
	state map[string]domain.NormalizedPosition // document id -> position

	// car tag -> racer id, built once from the roster
	tagIndex map[string]string
}

func NewReconciler(roster []domain.Racer) *Reconciler {
	tags := make(map[string]string, len(roster))
	for _, racer := range roster {
		tags[racer.CarTag] = racer.UserID
	}
	return &Reconciler{
		state:    make(map[string]domain.NormalizedPosition),
		tagIndex: tags,
	}
}

// Apply normalizes one change event and merges it into the reconciled
// state. "added" inserts if the document id is unseen and is a no-op
// otherwise; "modified" overwrites, inserting if somehow absent. Any
// other kind is ignored. Records whose location does not parse are
// dropped and never enter the state.
//
// The normalized position is returned (ok=true) whenever the record was
// usable, including duplicate adds, so the caller can run geofence
// checks on every incoming update.
func (r *Reconciler) Apply(env domain.TelemetryEnvelope) (domain.NormalizedPosition, bool) {
	switch env.Kind {
	case shared.ChangeKindAdded, shared.ChangeKindModified:
	default:
		log.Printf("[Reconciler] ignoring change kind %q for document %s", env.Kind, env.DocumentID)
		return domain.NormalizedPosition{}, false
	}

	lat, lon, ok := ParseLocation(env.Record.Location)
	if !ok {
		log.Printf("[Reconciler] invalid location for document %s: %q", env.DocumentID, env.Record.Location)
		return domain.NormalizedPosition{}, false
	}

	pos := domain.NormalizedPosition{
		DocumentID: env.DocumentID,
		RacerID:    r.tagIndex[env.Record.CarID],
		CarID:      env.Record.CarID,
		Latitude:   lat,
		Longitude:  lon,
		Accel:      domain.Accel{X: ParseAcceleration(env.Record.Acceleration)},
		Timestamp:  ParseTimestamp(env.Record.Time),
	}

	if env.Kind == shared.ChangeKindAdded {
		if _, exists := r.state[env.DocumentID]; !exists {
			r.state[env.DocumentID] = pos
		}
	} else {
		r.state[env.DocumentID] = pos
	}

	return pos, true
}

// Positions returns a copy of the reconciled state.
func (r *Reconciler) Positions() []domain.NormalizedPosition {
	out := make([]domain.NormalizedPosition, 0, len(r.state))
	for _, pos := range r.state {
		out = append(out, pos)
	}
	return out
}

// Len reports the number of reconciled documents.
func (r *Reconciler) Len() int {
	return len(r.state)
}
