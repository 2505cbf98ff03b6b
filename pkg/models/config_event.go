package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventTypeHogFunctionUpdated = "hog_function_updated"
	EventTypeActionUpdated      = "action_updated"
	EventTypeTemplateUpdated    = "template_updated"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionToggle = "toggle"
	ActionReload = "reload"
)

const ServiceTypeDestinations = "destinations"

// ConfigUpdateEvent announces that a function, action or template changed and
// the destination services must reload.
type ConfigUpdateEvent struct {
	EventType   string    `json:"event_type"`
	ServiceType string    `json:"service_type"`
	EntityID    string    `json:"entity_id,omitempty"`
	Action      string    `json:"action"`
	Timestamp   time.Time `json:"timestamp"`
	ChangedBy   string    `json:"changed_by,omitempty"`
}

// Envelope wraps e for the config update topic. Event and service type are
// copied to attributes so consumers can route without decoding the payload.
func (e ConfigUpdateEvent) Envelope(id, source string) (MessageEnvelope, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return MessageEnvelope{}, err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return MessageEnvelope{}, err
	}

	env := NewEnvelope(id, source, payload)
	env.Metadata.SetAttribute(AttrEventType, e.EventType)
	env.Metadata.SetAttribute(AttrServiceType, e.ServiceType)
	return env, nil
}

// ConfigUpdateEventFromEnvelope decodes the payload of env. Routing attributes
// take precedence over payload fields.
func ConfigUpdateEventFromEnvelope(env MessageEnvelope) (ConfigUpdateEvent, error) {
	var event ConfigUpdateEvent
	data, err := json.Marshal(env.Payload)
	if err != nil {
		return event, err
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("invalid config update event: %w", err)
	}
	if v, ok := env.Metadata.Attribute(AttrEventType); ok {
		event.EventType = v
	}
	if v, ok := env.Metadata.Attribute(AttrServiceType); ok {
		event.ServiceType = v
	}
	if event.EventType == "" {
		return event, &ValidationError{Field: "event_type", Message: "is required"}
	}
	if event.ServiceType == "" {
		return event, &ValidationError{Field: "service_type", Message: "is required"}
	}
	return event, nil
}
