package domain

import (
	"time"
)

// RawTelemetryRecord is a sample exactly as the telemetry provider
// delivers it: every field is a string in the provider's own notation.
// RaceID here is the provider's race string, which may differ from the
// stable race identifier the record was published under.
type RawTelemetryRecord struct {
	RaceID       string `json:"race_id"`
	CarID        string `json:"car_id"`
	Location     string `json:"location"`     // "[1.3733° N, 32.2903° E]"
	Acceleration string `json:"acceleration"` // scalar, forward axis
	Time         string `json:"time"`
}

// TelemetryEnvelope is the tagged change event carried on the telemetry
// stream. Kind is validated at the boundary; consumers ignore unknown
// kinds.
type TelemetryEnvelope struct {
	Kind       string             `json:"kind" validate:"required,oneof=added modified"`
	DocumentID string             `json:"document_id" validate:"required"`
	Record     RawTelemetryRecord `json:"record"`
}

type IngestTelemetryRequest struct {
	RaceID     string             `json:"race_id" validate:"required"`
	DocumentID string             `json:"document_id,omitempty"`
	Record     RawTelemetryRecord `json:"record"`
}

type Accel struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// NormalizedPosition is a RawTelemetryRecord after parsing. RacerID is
// empty when the car tag matched nobody on the roster; the position is
// still kept so the map can plot it.
type NormalizedPosition struct {
	DocumentID string    `json:"document_id"`
	RacerID    string    `json:"racer_id,omitempty"`
	CarID      string    `json:"car_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accel      Accel     `json:"accel"`
	Timestamp  time.Time `json:"timestamp"`
}

// RaceGeofence is the start/end proximity test configuration for one
// race. Tolerance is in decimal degrees on each axis.
type RaceGeofence struct {
	RaceID        string      `json:"race_id"`
	StartingPoint *Coordinate `json:"starting_point,omitempty"`
	EndingPoint   *Coordinate `json:"ending_point,omitempty"`
	Tolerance     float64     `json:"tolerance"`
}

// PerRacerView is one row of the live view: a roster entry with its
// latest known position and full path history. Racers with no telemetry
// yet are included with a nil position and empty path.
type PerRacerView struct {
	Racer          Racer                `json:"racer"`
	LatestPosition *NormalizedPosition  `json:"latest_position,omitempty"`
	Path           []NormalizedPosition `json:"path"`
}
