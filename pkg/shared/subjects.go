package shared

import "fmt"

// NATS Subject patterns
const (
	// Base subject prefix
	SubjectPrefix = "racecontrol"

	// Telemetry subjects - one token per race so sessions can filter
	SubjectTelemetry     = "racecontrol.telemetry"
	SubjectTelemetryAll  = "racecontrol.telemetry.>"
	SubjectTelemetryRace = "racecontrol.telemetry.%s" // race_id

	// Lifecycle event subjects
	SubjectEvents          = "racecontrol.events"
	SubjectEventsAll       = "racecontrol.events.>"
	SubjectUserEvent       = "racecontrol.events.users.%s"   // event type
	SubjectRaceEvent       = "racecontrol.events.races.%s"   // event type
	SubjectRaceResultEvent = "racecontrol.events.results.%s" // start|end
)

// Stream names
const (
	StreamTelemetry = "RACECONTROL_TELEMETRY"
	StreamEvents    = "RACECONTROL_EVENTS"
)

// Consumer names
const (
	ConsumerAuditProcessor = "audit-processor"
)

// Helper functions to generate subjects
func TelemetryRaceSubject(raceID string) string {
	return fmt.Sprintf(SubjectTelemetryRace, raceID)
}

func UserEventSubject(eventType string) string {
	return fmt.Sprintf(SubjectUserEvent, eventType)
}

func RaceEventSubject(eventType string) string {
	return fmt.Sprintf(SubjectRaceEvent, eventType)
}

func RaceResultEventSubject(kind string) string {
	return fmt.Sprintf(SubjectRaceResultEvent, kind)
}
