package models

import "time"

type MessageEnvelope struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  Metadata               `json:"metadata"`
}

type Metadata struct {
	TraceID   string `json:"trace_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	// PartitionKey groups all messages of one business event so consumers see them in order.
	PartitionKey string `json:"partition_key,omitempty"`
}

func (msg *MessageEnvelope) GetPayloadField(name string) (interface{}, bool) {
	if msg.Payload == nil {
		return nil, false
	}
	value, ok := msg.Payload[name]
	return value, ok
}
