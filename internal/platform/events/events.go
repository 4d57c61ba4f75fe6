// Package events publishes appointment lifecycle events to RabbitMQ, or to
// the log when no broker is configured.
package events

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// New stamps a fresh event with a random ID and the current UTC time.
func New(eventType string, payload interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Encode renders evt as the JSON message body.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// LogPublisher writes each event to the logger instead of a broker.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	body, err := Encode(evt)
	if err != nil {
		return err
	}
	p.logger.Info().
		Str("event_id", evt.ID).
		Str("event_type", evt.Type).
		RawJSON("event", body).
		Msg("event published")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
