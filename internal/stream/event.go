// Package stream frames turn progress events for server-sent delivery and
// decodes them back from arbitrarily chunked byte streams.
package stream

import (
	"encoding/json"
	"fmt"
)

// EventType names a kind of progress event.
type EventType string

const (
	TypeStatus        EventType = "status"
	TypeProgress      EventType = "progress"
	TypeClarification EventType = "clarification"
	TypeComplete      EventType = "complete"
	TypeError         EventType = "error"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case TypeStatus, TypeProgress, TypeClarification, TypeComplete, TypeError:
		return true
	}
	return false
}

// Event is one progress event of a turn. Status and error events carry
// Message; the others carry a typed payload in Data.
type Event struct {
	Type    EventType       `json:"type"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Status returns a status event.
func Status(msg string) Event {
	return Event{Type: TypeStatus, Message: msg}
}

// ErrorPayload is the data carried by an error event.
type ErrorPayload struct {
	Kind string `json:"kind"`
}

// Error returns an error event with a stable kind and readable message.
func Error(kind, msg string) Event {
	data, _ := json.Marshal(ErrorPayload{Kind: kind})
	return Event{Type: TypeError, Message: msg, Data: data}
}

// ProgressPayload is the data carried by a progress event.
type ProgressPayload struct {
	Step string          `json:"step"`
	Data json.RawMessage `json:"data"`
}

// Progress returns a progress event for a named pipeline step.
func Progress(step string, v any) (Event, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s progress: %w", step, err)
	}
	data, err := json.Marshal(ProgressPayload{Step: step, Data: inner})
	if err != nil {
		return Event{}, fmt.Errorf("encode %s progress: %w", step, err)
	}
	return Event{Type: TypeProgress, Data: data}, nil
}

// WithData returns an event of type t whose payload is v.
func WithData(t EventType, v any) (Event, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s event: %w", t, err)
	}
	return Event{Type: t, Data: data}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s event has no data", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}
