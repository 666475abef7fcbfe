package tracking

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"racecontrol-api/pkg/domain"
	"racecontrol-api/pkg/shared"
)

// Notifier records a racer crossing the start or end line. Calls are
// fire-and-forget from the session's point of view: failures are logged
// and never retried, and they never block or roll back reconciliation.
type Notifier interface {
	MarkStart(ctx context.Context, raceID, racerID string, ts time.Time) error
	MarkEnd(ctx context.Context, raceID, racerID string, ts time.Time) error
}

const (
	SessionStatusLive    = "live"
	SessionStatusStopped = "stopped"
	SessionStatusError   = "error"
)

// SessionView is the live tracking snapshot served to the presentation
// layer.
type SessionView struct {
	RaceID    string                `json:"race_id"`
	RaceName  string                `json:"race_name"`
	Status    string                `json:"status"`
	Error     string                `json:"error,omitempty"`
	Documents int                   `json:"documents"`
	Racers    []domain.PerRacerView `json:"racers"`
}

// Session consumes one race's telemetry subject for as long as the race
// stays selected. The DeliverAll subscription replays every retained
// record first (the initial snapshot) and then delivers live changes on
// the same ordered stream, so there is no separate bulk fetch to race
// against later updates.
//
// One goroutine owns all state mutation; readers take snapshots under
// the lock.
type Session struct {
	raceID   string
	raceName string
	roster   []domain.Racer
	fence    domain.RaceGeofence
	notifier Notifier

	sub    *nats.Subscription
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	rec    *Reconciler
	latch  *crossingLatch
	status string
	err    error
}

func newSession(js nats.JetStreamContext, race *domain.Race, fence domain.RaceGeofence, notifier Notifier) (*Session, error) {
	sub, err := js.PullSubscribe(
		shared.TelemetryRaceSubject(race.RaceID),
		"", // ephemeral: each session replays from the beginning
		nats.DeliverAll(),
		nats.AckExplicit(),
		nats.InactiveThreshold(time.Minute),
	)
	if err != nil {
		return nil, err
	}

	s := &Session{
		raceID:   race.RaceID,
		raceName: race.Name,
		roster:   race.Racers,
		fence:    fence,
		notifier: notifier,
		sub:      sub,
		done:     make(chan struct{}),
		rec:      NewReconciler(race.Racers),
		latch:    newCrossingLatch(),
		status:   SessionStatusLive,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)

	return s, nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if err := s.sub.Unsubscribe(); err != nil {
			log.Printf("[Session %s] unsubscribe: %v", s.raceID, err)
		}
	}()

	log.Printf("[Session %s] tracking started for race %q", s.raceID, s.raceName)

	for {
		select {
		case <-ctx.Done():
			s.setStatus(SessionStatusStopped, nil)
			log.Printf("[Session %s] tracking stopped", s.raceID)
			return
		default:
			msgs, err := s.sub.Fetch(64, nats.MaxWait(2*time.Second))
			if err != nil && err != nats.ErrTimeout {
				if ctx.Err() != nil {
					s.setStatus(SessionStatusStopped, nil)
					return
				}
				// Reconciliation pauses until the race is reselected.
				s.setStatus(SessionStatusError, err)
				log.Printf("[Session %s] subscription failed: %v", s.raceID, err)
				return
			}

			for _, msg := range msgs {
				s.handleMessage(msg.Data)
				if err := msg.Ack(); err != nil {
					log.Printf("[Session %s] ack: %v", s.raceID, err)
				}
			}
		}
	}
}

func (s *Session) handleMessage(data []byte) {
	var env domain.TelemetryEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[Session %s] malformed telemetry message: %v", s.raceID, err)
		return
	}

	s.mu.Lock()
	pos, ok := s.rec.Apply(env)
	s.mu.Unlock()
	if !ok || pos.RacerID == "" {
		return
	}

	crossing := Evaluate(pos, s.fence)

	s.mu.Lock()
	fireStart := crossing.Start && s.latch.FirstCrossing(pos.RacerID, CrossingStart)
	fireEnd := crossing.End && s.latch.FirstCrossing(pos.RacerID, CrossingEnd)
	s.mu.Unlock()

	if fireStart {
		go s.notify(CrossingStart, pos)
	}
	if fireEnd {
		go s.notify(CrossingEnd, pos)
	}
}

// notify runs detached from the session lifecycle: an in-flight call is
// allowed to complete or fail after teardown.
func (s *Session) notify(kind string, pos domain.NormalizedPosition) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch kind {
	case CrossingStart:
		err = s.notifier.MarkStart(ctx, s.raceID, pos.RacerID, pos.Timestamp)
	case CrossingEnd:
		err = s.notifier.MarkEnd(ctx, s.raceID, pos.RacerID, pos.Timestamp)
	}
	if err != nil {
		log.Printf("[Session %s] failed to record %s for racer %s: %v", s.raceID, kind, pos.RacerID, err)
		return
	}
	log.Printf("[Session %s] recorded %s for racer %s at %s", s.raceID, kind, pos.RacerID, pos.Timestamp.Format(time.RFC3339))
}

// Snapshot projects the current reconciled state into the live view.
func (s *Session) Snapshot() SessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view := SessionView{
		RaceID:    s.raceID,
		RaceName:  s.raceName,
		Status:    s.status,
		Documents: s.rec.Len(),
		Racers:    Project(s.rec.Positions(), s.roster),
	}
	if s.err != nil {
		view.Error = s.err.Error()
	}
	return view
}

// RaceID reports which race this session is tracking.
func (s *Session) RaceID() string {
	return s.raceID
}

// Stop cancels the subscription and waits for the consume loop to exit.
// No state mutation happens afterwards.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
}

func (s *Session) setStatus(status string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A session that already failed stays failed until reselection.
	if s.status == SessionStatusError {
		return
	}
	s.status = status
	s.err = err
}
