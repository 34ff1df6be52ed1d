package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageEnvelopeBuilder struct {
	envelope *MessageEnvelope
}

func NewMessageEnvelopeBuilder() *MessageEnvelopeBuilder {
	return &MessageEnvelopeBuilder{
		envelope: &MessageEnvelope{
			Payload: make(map[string]interface{}),
		},
	}
}

func (b *MessageEnvelopeBuilder) WithID(id string) *MessageEnvelopeBuilder {
	b.envelope.ID = id
	return b
}

func (b *MessageEnvelopeBuilder) WithSource(source string) *MessageEnvelopeBuilder {
	b.envelope.Source = source
	return b
}

func (b *MessageEnvelopeBuilder) WithTimestamp(timestamp time.Time) *MessageEnvelopeBuilder {
	b.envelope.Timestamp = timestamp
	return b
}

func (b *MessageEnvelopeBuilder) WithPayload(payload map[string]interface{}) *MessageEnvelopeBuilder {
	b.envelope.Payload = payload
	return b
}

func (b *MessageEnvelopeBuilder) WithTraceID(traceID string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.TraceID = traceID
	return b
}

func (b *MessageEnvelopeBuilder) WithEventType(eventType string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.EventType = eventType
	return b
}

func (b *MessageEnvelopeBuilder) WithPartitionKey(key string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.PartitionKey = key
	return b
}

// Build fills a random id and the current time when they were not set.
func (b *MessageEnvelopeBuilder) Build() MessageEnvelope {
	if b.envelope.ID == "" {
		b.envelope.ID = uuid.NewString()
	}
	if b.envelope.Timestamp.IsZero() {
		b.envelope.Timestamp = time.Now().UTC()
	}
	return *b.envelope
}

// NewVersionEnvelope wraps a VersionEvent, keyed by event number. Passing the outbox row id
// keeps the envelope id stable across redeliveries so consumers can drop duplicates.
func NewVersionEnvelope(id, source, traceID string, ev VersionEvent) MessageEnvelope {
	return NewMessageEnvelopeBuilder().
		WithID(id).
		WithSource(source).
		WithTimestamp(ev.OccurredAt).
		WithPayload(ev.Payload()).
		WithTraceID(traceID).
		WithEventType(ev.EventType).
		WithPartitionKey(ev.EventNo).
		Build()
}
