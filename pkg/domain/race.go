package domain

import (
	"time"
)

type Race struct {
	RaceID        string      `json:"race_id" db:"race_id"`
	Name          string      `json:"name" db:"name"`
	Description   string      `json:"description,omitempty" db:"description"`
	StartTime     *time.Time  `json:"start_time,omitempty" db:"start_time"`
	EndTime       *time.Time  `json:"end_time,omitempty" db:"end_time"`
	StartingPoint *Coordinate `json:"starting_point,omitempty"`
	EndingPoint   *Coordinate `json:"ending_point,omitempty"`
	Racers        []Racer     `json:"racers"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// Racer is one roster entry: a user registered for a race plus the car
// tag the telemetry provider identifies them by.
type Racer struct {
	UserID   string `json:"user_id" db:"user_id"`
	Username string `json:"username" db:"username"`
	CarTag   string `json:"car_tag" db:"car_tag"`
}

type Coordinate struct {
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
}

type CreateRaceRequest struct {
	Name          string      `json:"name" validate:"required,min=1,max=255"`
	Description   string      `json:"description,omitempty"`
	StartingPoint *Coordinate `json:"starting_point,omitempty"`
	EndingPoint   *Coordinate `json:"ending_point,omitempty"`
}

type AddRacerRequest struct {
	RaceID string `json:"race_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
	CarTag string `json:"car_tag,omitempty"`
}

type RemoveRacerRequest struct {
	RaceID string `json:"race_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
}

type MarkRacerRequest struct {
	RaceID    string    `json:"race_id" validate:"required"`
	RacerID   string    `json:"racer_id" validate:"required"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

type LeaderboardEntry struct {
	RacerID         string    `json:"racer_id"`
	Username        string    `json:"username"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
}
