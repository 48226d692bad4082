package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for published events.
const (
	EventTypeBatchCompleted = "acquisition.batch_completed"
	EventTypeBatchFailed    = "acquisition.batch_failed"
)

// Event is an envelope for a domain event published to the message bus.
type Event struct {
	EventID       string          `json:"event_id"`
	EventVersion  int             `json:"event_version"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// BatchEventPayload summarizes a finished batch.
type BatchEventPayload struct {
	BatchID   string         `json:"batch_id"`
	Status    BatchStatus    `json:"status"`
	Requested int            `json:"requested"`
	Available int            `json:"available"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Reasons   map[string]int `json:"reasons,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  float64        `json:"duration_seconds"`
}

// NewBatchEvent builds the event announcing that result finished.
func NewBatchEvent(result *BatchResult) (*Event, error) {
	payload := BatchEventPayload{
		BatchID:   result.ID.String(),
		Status:    result.Status,
		Requested: result.Requested,
		Available: result.Available,
		Succeeded: result.SucceededCount(),
		Failed:    result.FailedCount(),
		Error:     result.Error,
		Duration:  result.Duration().Seconds(),
	}
	for _, o := range result.Outcomes {
		if o.Succeeded() {
			continue
		}
		if payload.Reasons == nil {
			payload.Reasons = make(map[string]int)
		}
		payload.Reasons[string(o.Reason)]++
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	eventType := EventTypeBatchCompleted
	if result.Status == BatchStatusFailed {
		eventType = EventTypeBatchFailed
	}

	return &Event{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		EventType:     eventType,
		AggregateID:   result.ID.String(),
		AggregateType: "acquisition_batch",
		Payload:       payloadBytes,
		CreatedAt:     time.Now().UTC(),
	}, nil
}
