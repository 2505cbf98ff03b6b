package models

import (
	"fmt"
	"time"
)

// Metadata attributes set by the pipeline. Consumers route on these without
// decoding the payload.
const (
	AttrFunctionID     = "function_id"
	AttrStatus         = "status"
	AttrEventType      = "event_type"
	AttrServiceType    = "service_type"
	AttrDLQReason      = "dlq_reason"
	AttrDLQError       = "dlq_error"
	AttrDLQSourceTopic = "dlq_source_topic"
	AttrDLQTimestamp   = "dlq_timestamp"
)

// MessageEnvelope is the JSON document carried by every Kafka message: events
// on the input topic, invocation results, config updates and dead letters.
type MessageEnvelope struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  Metadata               `json:"metadata"`
}

type Metadata struct {
	TraceID    string                 `json:"trace_id,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

func (m *Metadata) SetAttribute(key string, value interface{}) {
	if m.Attributes == nil {
		m.Attributes = make(map[string]interface{})
	}
	m.Attributes[key] = value
}

// Attribute returns the attribute under key when it is a string.
func (m Metadata) Attribute(key string) (string, bool) {
	s, ok := m.Attributes[key].(string)
	return s, ok
}

// NewEnvelope wraps payload with a UTC timestamp of now.
func NewEnvelope(id, source string, payload map[string]interface{}) MessageEnvelope {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return MessageEnvelope{
		ID:        id,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Validate checks the parts of an inbound envelope every consumer relies on.
// The id may be empty when the payload carries a uuid.
func (e *MessageEnvelope) Validate() error {
	if e == nil {
		return &ValidationError{Field: "envelope", Message: "is nil"}
	}
	if e.Payload == nil {
		return &ValidationError{Field: "payload", Message: "is required"}
	}
	if e.ID == "" {
		if _, ok := e.Payload["uuid"].(string); !ok {
			return &ValidationError{Field: "id", Message: "id or payload uuid is required"}
		}
	}
	return nil
}

// ValidationError reports a malformed message. Consumers treat it as fatal.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
