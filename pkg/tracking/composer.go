package tracking

import (
	"sort"

	"racecontrol-api/pkg/domain"
)

// Project combines reconciled positions with the race roster into one
// view row per racer: latest position plus the full path in timestamp
// order. Every roster entry appears in the output, with a nil latest
// position and empty path when no telemetry matched, so consumers render
// "no data" instead of dropping the racer.
//
// A position matches a racer by resolved racer id or, failing that, by
// car tag. The whole projection is recomputed on every call; cardinality
// is tens of racers and hundreds of points, so there is nothing to gain
// from diffing.
func Project(positions []domain.NormalizedPosition, roster []domain.Racer) []domain.PerRacerView {
	views := make([]domain.PerRacerView, 0, len(roster))

	for _, racer := range roster {
		path := []domain.NormalizedPosition{}
		for _, pos := range positions {
			if pos.RacerID == racer.UserID || pos.CarID == racer.CarTag {
				path = append(path, pos)
			}
		}

		sort.Slice(path, func(i, j int) bool {
			if path[i].Timestamp.Equal(path[j].Timestamp) {
				return path[i].DocumentID < path[j].DocumentID
			}
			return path[i].Timestamp.Before(path[j].Timestamp)
		})

		view := domain.PerRacerView{
			Racer: racer,
			Path:  path,
		}
		if len(path) > 0 {
			latest := path[len(path)-1]
			view.LatestPosition = &latest
		}

		views = append(views, view)
	}

	return views
}
