package events

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNew_StampsIDAndTime(t *testing.T) {
	before := time.Now().UTC()
	evt := New("appointment.booked", map[string]int64{"appointment_id": 7})
	if evt.ID == "" {
		t.Error("expected event ID")
	}
	if evt.Type != "appointment.booked" {
		t.Errorf("unexpected type %q", evt.Type)
	}
	if evt.OccurredAt.Before(before) || evt.OccurredAt.Location() != time.UTC {
		t.Errorf("unexpected occurred_at %v", evt.OccurredAt)
	}
	if other := New("appointment.booked", nil); other.ID == evt.ID {
		t.Error("expected distinct IDs")
	}
}

func TestEncode(t *testing.T) {
	evt := Event{
		ID:         "evt-1",
		Type:       "appointment.cancelled",
		OccurredAt: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		Payload:    map[string]interface{}{"appointment_id": 42},
	}
	body, err := Encode(evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["type"] != "appointment.cancelled" {
		t.Errorf("unexpected type %v", decoded["type"])
	}
	if decoded["occurred_at"] != "2025-06-02T09:00:00Z" {
		t.Errorf("unexpected occurred_at %v", decoded["occurred_at"])
	}
	payload := decoded["payload"].(map[string]interface{})
	if payload["appointment_id"] != float64(42) {
		t.Errorf("unexpected payload %v", payload)
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))

	evt := New("appointment.reminder", map[string]int64{"appointment_id": 3})
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("invalid log line: %v", err)
	}
	if line["event_type"] != "appointment.reminder" || line["event_id"] != evt.ID {
		t.Errorf("unexpected log fields %v", line)
	}
	if line["component"] != "events" {
		t.Errorf("expected component field, got %v", line["component"])
	}
	if _, ok := line["event"].(map[string]interface{}); !ok {
		t.Errorf("expected embedded event object, got %T", line["event"])
	}
	if err := p.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}
