package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	embeddednats "racecontrol-api/pkg/services/embedded-nats"
	"racecontrol-api/pkg/shared"
)

// publishEvent emits a lifecycle event onto the events stream. NATS
// being unavailable is not an error a CRUD operation should surface;
// the event is simply skipped with a log line.
func publishEvent(en *embeddednats.EmbeddedNATS, source, subject, eventType string, data map[string]interface{}) {
	if en == nil || en.JetStream() == nil {
		log.Printf("NATS not available for publishing %s event", eventType)
		return
	}

	event := shared.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to marshal %s event: %v", eventType, err)
		return
	}

	if err := en.PublishWithDedup(subject, payload, eventMessageID(subject, eventType, data)); err != nil {
		log.Printf("Failed to publish %s event: %v", eventType, err)
	}
}

// eventMessageID derives the dedup message id from what the event says,
// not when it was built, so retries of the same state change collapse
// inside the stream's duplicate window. Map keys marshal in sorted
// order, which keeps the digest stable.
func eventMessageID(subject, eventType string, data map[string]interface{}) string {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte("{}")
	}

	sum := sha256.Sum256([]byte(subject + "|" + eventType + "|" + string(payload)))
	return hex.EncodeToString(sum[:])
}
