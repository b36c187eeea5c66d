package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart is published when a generation begins.
	EventTypeStart EventType = "start"
	// EventTypeFinal carries the response text of a completed generation.
	EventTypeFinal EventType = "final"
	// EventTypeError carries a terminal failure.
	EventTypeError EventType = "error"
	// EventTypeInterrupt signals that the user stopped the generation. This
	// is deliberately distinct from an error so UIs can render it as a
	// notice instead of an error banner.
	EventTypeInterrupt EventType = "interrupt"
	// EventTypeStatus carries intermediate progress (attachment waits,
	// retries).
	EventTypeStatus EventType = "status"
)

// EventMetadata ties an event to the generation that produced it.
type EventMetadata struct {
	GenerationID   string `json:"generation_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Model          string `json:"model,omitempty"`
	Slot           int    `json:"slot,omitempty"`
}

func (m EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("generation_id", m.GenerationID)
	if m.ConversationID != "" {
		e.Str("conversation_id", m.ConversationID)
	}
	if m.Model != "" {
		e.Str("model", m.Model)
	}
}

type Event interface {
	Type() EventType
	Metadata() EventMetadata
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`
	Text      string        `json:"text,omitempty"`
	ErrorMsg  string        `json:"error,omitempty"`
	Status    string        `json:"status,omitempty"`
}

func (e *EventImpl) Type() EventType         { return e.Type_ }
func (e *EventImpl) Metadata() EventMetadata { return e.Metadata_ }

func NewStartEvent(meta EventMetadata) *EventImpl {
	return &EventImpl{Type_: EventTypeStart, Metadata_: meta}
}

func NewFinalEvent(meta EventMetadata, text string) *EventImpl {
	return &EventImpl{Type_: EventTypeFinal, Metadata_: meta, Text: text}
}

func NewErrorEvent(meta EventMetadata, err error) *EventImpl {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &EventImpl{Type_: EventTypeError, Metadata_: meta, ErrorMsg: msg}
}

func NewInterruptEvent(meta EventMetadata) *EventImpl {
	return &EventImpl{Type_: EventTypeInterrupt, Metadata_: meta}
}

func NewStatusEvent(meta EventMetadata, status string) *EventImpl {
	return &EventImpl{Type_: EventTypeStatus, Metadata_: meta, Status: status}
}

// NewEventFromJSON decodes an event previously serialized by the publisher.
func NewEventFromJSON(b []byte) (*EventImpl, error) {
	var e EventImpl
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Wrap(err, "could not parse event")
	}
	if e.Type_ == "" {
		return nil, errors.New("event has no type")
	}
	return &e, nil
}
