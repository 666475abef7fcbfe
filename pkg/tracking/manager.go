package tracking

import (
	"fmt"
	"log"
	"sync"

	"github.com/nats-io/nats.go"

	"racecontrol-api/pkg/domain"
)

// DefaultTolerance is the geofence threshold in decimal degrees used
// when no override is configured (roughly 1.1km of latitude).
const DefaultTolerance = 0.01

// Manager owns the single active tracking session. Selecting a race
// tears down the previous session completely; nothing carries over
// between sessions, even for the same race.
type Manager struct {
	js        nats.JetStreamContext
	notifier  Notifier
	tolerance float64

	mu     sync.Mutex
	active *Session
}

func NewManager(js nats.JetStreamContext, notifier Notifier, tolerance float64) (*Manager, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream not initialized")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier not provided")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Manager{
		js:        js,
		notifier:  notifier,
		tolerance: tolerance,
	}, nil
}

// StartSession begins tracking the given race, replacing any active
// session. A subscription-establishment failure is returned to the
// caller and leaves no session active.
func (m *Manager) StartSession(race *domain.Race) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		log.Printf("[Tracking] replacing session for race %s", m.active.RaceID())
		m.active.Stop()
		m.active = nil
	}

	fence := domain.RaceGeofence{
		RaceID:        race.RaceID,
		StartingPoint: race.StartingPoint,
		EndingPoint:   race.EndingPoint,
		Tolerance:     m.tolerance,
	}

	session, err := newSession(m.js, race, fence, m.notifier)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry subscription: %w", err)
	}

	m.active = session
	return session, nil
}

// StopSession tears down the active session, if any.
func (m *Manager) StopSession() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.active.Stop()
		m.active = nil
	}
}

// Active returns the current session, or nil when no race is selected.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Shutdown stops tracking as part of process teardown.
func (m *Manager) Shutdown() {
	m.StopSession()
}
