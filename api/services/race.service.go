package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"racecontrol-api/pkg/domain"
	embeddednats "racecontrol-api/pkg/services/embedded-nats"
	"racecontrol-api/pkg/shared"
	"racecontrol-api/pkg/tracking"
)

type RaceService struct {
	db   *sql.DB
	nats *embeddednats.EmbeddedNATS
}

// RaceService doubles as the tracking core's notifier: geofence
// crossings land in race_results through MarkStart/MarkEnd.
var _ tracking.Notifier = (*RaceService)(nil)

func NewRaceService(db *sql.DB, nats *embeddednats.EmbeddedNATS) *RaceService {
	return &RaceService{db: db, nats: nats}
}

func (s *RaceService) CreateRace(req *domain.CreateRaceRequest) (*domain.Race, error) {
	raceID := uuid.New().String()
	now := time.Now()

	var startLat, startLon, endLat, endLon interface{}
	if req.StartingPoint != nil {
		startLat = req.StartingPoint.Latitude
		startLon = req.StartingPoint.Longitude
	}
	if req.EndingPoint != nil {
		endLat = req.EndingPoint.Latitude
		endLon = req.EndingPoint.Longitude
	}

	_, err := s.db.Exec(
		`INSERT INTO races (race_id, name, description, start_lat, start_lon, end_lat, end_lon, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		raceID, req.Name, req.Description, startLat, startLon, endLat, endLon,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create race: %w", err)
	}

	race := &domain.Race{
		RaceID:        raceID,
		Name:          req.Name,
		Description:   req.Description,
		StartingPoint: req.StartingPoint,
		EndingPoint:   req.EndingPoint,
		Racers:        []domain.Racer{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	go publishEvent(s.nats, "race-service", shared.RaceEventSubject(shared.EventTypeCreated), shared.EventTypeCreated, map[string]interface{}{
		"race_id": race.RaceID,
		"name":    race.Name,
	})

	return race, nil
}

func (s *RaceService) ListRaces() ([]domain.Race, error) {
	rows, err := s.db.Query(
		`SELECT race_id, name, description, start_time, end_time, start_lat, start_lon, end_lat, end_lon, created_at, updated_at
		 FROM races ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query races: %w", err)
	}
	defer rows.Close()

	var races []domain.Race
	for rows.Next() {
		race, err := scanRace(rows)
		if err != nil {
			return nil, err
		}
		races = append(races, *race)
	}

	for i := range races {
		racers, err := s.listRacers(races[i].RaceID)
		if err != nil {
			return nil, err
		}
		races[i].Racers = racers
	}

	return races, nil
}

func (s *RaceService) GetRace(raceID string) (*domain.Race, error) {
	row := s.db.QueryRow(
		`SELECT race_id, name, description, start_time, end_time, start_lat, start_lon, end_lat, end_lon, created_at, updated_at
		 FROM races WHERE race_id = ?`,
		raceID,
	)

	race, err := scanRace(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("race not found")
	}
	if err != nil {
		return nil, err
	}

	racers, err := s.listRacers(raceID)
	if err != nil {
		return nil, err
	}
	race.Racers = racers

	return race, nil
}

func (s *RaceService) UpdateRace(raceID string, updates map[string]interface{}) (*domain.Race, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("no updates provided")
	}

	query := "UPDATE races SET updated_at = ?"
	args := []interface{}{time.Now().Format(time.RFC3339)}

	for key, value := range updates {
		switch key {
		case "name", "description", "start_time", "end_time":
			query += fmt.Sprintf(", %s = ?", key)
			args = append(args, value)
		case "starting_point":
			lat, lon, ok := coordinateFields(value)
			if !ok {
				return nil, fmt.Errorf("invalid starting_point")
			}
			query += ", start_lat = ?, start_lon = ?"
			args = append(args, lat, lon)
		case "ending_point":
			lat, lon, ok := coordinateFields(value)
			if !ok {
				return nil, fmt.Errorf("invalid ending_point")
			}
			query += ", end_lat = ?, end_lon = ?"
			args = append(args, lat, lon)
		}
	}

	query += " WHERE race_id = ?"
	args = append(args, raceID)

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update race: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return nil, fmt.Errorf("race not found")
	}

	race, err := s.GetRace(raceID)
	if err != nil {
		return nil, err
	}

	go publishEvent(s.nats, "race-service", shared.RaceEventSubject(shared.EventTypeUpdated), shared.EventTypeUpdated, map[string]interface{}{
		"race_id": race.RaceID,
		"name":    race.Name,
	})

	return race, nil
}

func (s *RaceService) DeleteRace(raceID string) error {
	result, err := s.db.Exec("DELETE FROM races WHERE race_id = ?", raceID)
	if err != nil {
		return fmt.Errorf("failed to delete race: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("race not found")
	}

	go publishEvent(s.nats, "race-service", shared.RaceEventSubject(shared.EventTypeDeleted), shared.EventTypeDeleted, map[string]interface{}{
		"race_id": raceID,
	})

	return nil
}

// AddRacer registers a user for a race. The car tag defaults to the
// username, which is how the telemetry provider labels samples.
func (s *RaceService) AddRacer(req *domain.AddRacerRequest) error {
	var username string
	err := s.db.QueryRow("SELECT username FROM users WHERE user_id = ?", req.UserID).Scan(&username)
	if err == sql.ErrNoRows {
		return fmt.Errorf("user not found")
	}
	if err != nil {
		return fmt.Errorf("failed to query user: %w", err)
	}

	carTag := req.CarTag
	if carTag == "" {
		carTag = username
	}

	_, err = s.db.Exec(
		`INSERT INTO race_racers (race_id, user_id, car_tag, added_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(race_id, user_id) DO UPDATE SET car_tag = excluded.car_tag`,
		req.RaceID, req.UserID, carTag, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to add racer: %w", err)
	}

	return nil
}

func (s *RaceService) RemoveRacer(req *domain.RemoveRacerRequest) error {
	result, err := s.db.Exec(
		"DELETE FROM race_racers WHERE race_id = ? AND user_id = ?",
		req.RaceID, req.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove racer: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("racer not on roster")
	}

	return nil
}

// MarkStart records a racer crossing the start line. The first start
// time wins: repeat notifications for the same racer leave the stored
// value untouched.
func (s *RaceService) MarkStart(ctx context.Context, raceID, racerID string, ts time.Time) error {
	return s.markResult(ctx, raceID, racerID, "start_time", tracking.CrossingStart, ts)
}

// MarkEnd records a racer crossing the finish line, first write wins.
func (s *RaceService) MarkEnd(ctx context.Context, raceID, racerID string, ts time.Time) error {
	return s.markResult(ctx, raceID, racerID, "end_time", tracking.CrossingEnd, ts)
}

func (s *RaceService) markResult(ctx context.Context, raceID, racerID, column, kind string, ts time.Time) error {
	query := fmt.Sprintf(
		`INSERT INTO race_results (race_id, user_id, %s, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(race_id, user_id) DO UPDATE SET
		   %s = COALESCE(race_results.%s, excluded.%s),
		   updated_at = excluded.updated_at`,
		column, column, column, column,
	)

	_, err := s.db.ExecContext(ctx, query,
		raceID, racerID, ts.UTC().Format(time.RFC3339), time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", kind, err)
	}

	eventType := shared.EventTypeStarted
	if kind == tracking.CrossingEnd {
		eventType = shared.EventTypeEnded
	}
	go publishEvent(s.nats, "race-service", shared.RaceResultEventSubject(kind), eventType, map[string]interface{}{
		"race_id":   raceID,
		"racer_id":  racerID,
		"timestamp": ts.UTC().Format(time.RFC3339),
	})

	return nil
}

// Leaderboard lists racers who completed the race, fastest first.
func (s *RaceService) Leaderboard(raceID string) ([]domain.LeaderboardEntry, error) {
	rows, err := s.db.Query(
		`SELECT r.user_id, u.username, r.start_time, r.end_time
		 FROM race_results r JOIN users u ON u.user_id = r.user_id
		 WHERE r.race_id = ? AND r.start_time IS NOT NULL AND r.end_time IS NOT NULL`,
		raceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var entry domain.LeaderboardEntry
		var startStr, endStr string
		if err := rows.Scan(&entry.RacerID, &entry.Username, &startStr, &endStr); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entry.StartTime, _ = time.Parse(time.RFC3339, startStr)
		entry.EndTime, _ = time.Parse(time.RFC3339, endStr)
		entry.DurationSeconds = entry.EndTime.Sub(entry.StartTime).Seconds()
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DurationSeconds < entries[j].DurationSeconds
	})

	return entries, nil
}

func (s *RaceService) listRacers(raceID string) ([]domain.Racer, error) {
	rows, err := s.db.Query(
		`SELECT rr.user_id, u.username, rr.car_tag
		 FROM race_racers rr JOIN users u ON u.user_id = rr.user_id
		 WHERE rr.race_id = ? ORDER BY rr.added_at`,
		raceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query racers: %w", err)
	}
	defer rows.Close()

	racers := []domain.Racer{}
	for rows.Next() {
		var racer domain.Racer
		if err := rows.Scan(&racer.UserID, &racer.Username, &racer.CarTag); err != nil {
			return nil, fmt.Errorf("failed to scan racer: %w", err)
		}
		racers = append(racers, racer)
	}

	return racers, nil
}

func scanRace(scanner interface{ Scan(...interface{}) error }) (*domain.Race, error) {
	var race domain.Race
	var createdAt, updatedAt string
	var startTime, endTime sql.NullString
	var startLat, startLon, endLat, endLon sql.NullFloat64

	err := scanner.Scan(
		&race.RaceID, &race.Name, &race.Description, &startTime, &endTime,
		&startLat, &startLon, &endLat, &endLon, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if startTime.Valid {
		if t, err := time.Parse(time.RFC3339, startTime.String); err == nil {
			race.StartTime = &t
		}
	}
	if endTime.Valid {
		if t, err := time.Parse(time.RFC3339, endTime.String); err == nil {
			race.EndTime = &t
		}
	}
	if startLat.Valid && startLon.Valid {
		race.StartingPoint = &domain.Coordinate{Latitude: startLat.Float64, Longitude: startLon.Float64}
	}
	if endLat.Valid && endLon.Valid {
		race.EndingPoint = &domain.Coordinate{Latitude: endLat.Float64, Longitude: endLon.Float64}
	}

	race.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	race.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &race, nil
}

func coordinateFields(value interface{}) (float64, float64, bool) {
	m, ok := value.(map[string]interface{})
	if !ok {
		return 0, 0, false
	}
	lat, latOK := m["latitude"].(float64)
	lon, lonOK := m["longitude"].(float64)
	if !latOK || !lonOK {
		return 0, 0, false
	}
	return lat, lon, true
}
