package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	embeddednats "racecontrol-api/pkg/services/embedded-nats"
	"racecontrol-api/pkg/shared"
)

// Worker consumes every lifecycle event on the events stream through a
// durable consumer and persists it to the audit_log table. Durability
// means events published while the worker is down are caught up on
// restart.
type Worker struct {
	db  *sql.DB
	js  nats.JetStreamContext
	sub *nats.Subscription

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewWorker(db *sql.DB, natsClient *embeddednats.EmbeddedNATS) (*Worker, error) {
	js := natsClient.JetStream()
	if js == nil {
		return nil, fmt.Errorf("JetStream not initialized")
	}

	return &Worker{db: db, js: js}, nil
}

func (w *Worker) Start() error {
	sub, err := w.js.PullSubscribe(shared.SubjectEventsAll, "",
		nats.Durable(shared.ConsumerAuditProcessor),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverAll(),
		nats.Bind(shared.StreamEvents, shared.ConsumerAuditProcessor),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events stream: %w", err)
	}
	w.sub = sub

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processMessages(ctx)
	}()

	log.Printf("[Audit] worker started on stream: %s", shared.StreamEvents)
	return nil
}

func (w *Worker) processMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Audit] worker stopping")
			return
		default:
			msgs, err := w.sub.Fetch(10, nats.MaxWait(2*time.Second))
			if err != nil && err != nats.ErrTimeout {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[Audit] error fetching messages: %v", err)
				continue
			}

			for _, msg := range msgs {
				w.record(msg)
				if err := msg.Ack(); err != nil {
					log.Printf("[Audit] error acknowledging message: %v", err)
				}
			}
		}
	}
}

func (w *Worker) record(msg *nats.Msg) {
	var event shared.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Printf("[Audit] malformed event on %s: %v", msg.Subject, err)
		return
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		data = []byte("{}")
	}

	_, err = w.db.Exec(
		`INSERT INTO audit_log (event_id, event_type, subject, source, data, occurred_at, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(event_id) DO NOTHING`,
		event.ID, event.Type, event.Subject, event.Source, string(data),
		event.Timestamp.Format(time.RFC3339), time.Now().Format(time.RFC3339),
	)
	if err != nil {
		log.Printf("[Audit] failed to record event %s: %v", event.ID, err)
	}
}

func (w *Worker) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	if w.sub != nil {
		return w.sub.Drain()
	}
	return nil
}
