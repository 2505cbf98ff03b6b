package models

import (
	"fmt"
	"strings"
	"time"
)

// Event is an analytics event carried in the payload of an inbound envelope:
//
//	{"uuid": "...", "event": "$pageview", "distinct_id": "...", "timestamp": "...",
//	 "properties": {...}, "person": {"id": "...", "properties": {...}}}
type Event struct {
	UUID       string                 `json:"uuid"`
	Name       string                 `json:"event"`
	DistinctID string                 `json:"distinct_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Properties map[string]interface{} `json:"properties"`
	URL        string                 `json:"url,omitempty"`
	// Person is set when the producer already resolved the person.
	Person *EventPerson `json:"person,omitempty"`
}

type EventPerson struct {
	ID         string                 `json:"id"`
	Properties map[string]interface{} `json:"properties"`
}

// EventFromEnvelope reads the event in env.Payload. The envelope id stands in for
// a missing uuid and the envelope timestamp for a missing event timestamp.
func EventFromEnvelope(env MessageEnvelope) (Event, error) {
	if err := env.Validate(); err != nil {
		return Event{}, err
	}
	p := env.Payload
	ev := Event{
		UUID:       stringField(p, "uuid"),
		Name:       stringField(p, "event"),
		DistinctID: stringField(p, "distinct_id"),
		URL:        stringField(p, "url"),
		Properties: mapField(p, "properties"),
		Timestamp:  env.Timestamp,
	}
	if ev.Name == "" {
		ev.Name = stringField(p, "name")
	}
	if ev.UUID == "" {
		ev.UUID = env.ID
	}
	if ts := stringField(p, "timestamp"); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Event{}, &ValidationError{Field: "timestamp", Message: fmt.Sprintf("invalid timestamp %q", ts)}
		}
		ev.Timestamp = parsed
	}
	if person, ok := p["person"].(map[string]interface{}); ok {
		ev.Person = &EventPerson{
			ID:         stringField(person, "id"),
			Properties: mapField(person, "properties"),
		}
	}

	if strings.TrimSpace(ev.Name) == "" {
		return Event{}, &ValidationError{Field: "event", Message: "event name is required"}
	}
	if ev.UUID == "" {
		return Event{}, &ValidationError{Field: "uuid", Message: "event uuid is required"}
	}
	return ev, nil
}

// Payload is the inverse of EventFromEnvelope.
func (e Event) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"uuid":        e.UUID,
		"event":       e.Name,
		"distinct_id": e.DistinctID,
		"timestamp":   e.Timestamp.UTC().Format(time.RFC3339Nano),
		"properties":  e.Properties,
	}
	if e.URL != "" {
		p["url"] = e.URL
	}
	if e.Person != nil {
		p["person"] = map[string]interface{}{"id": e.Person.ID, "properties": e.Person.Properties}
	}
	return p
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func mapField(m map[string]interface{}, key string) map[string]interface{} {
	if v, ok := m[key].(map[string]interface{}); ok {
		return v
	}
	return map[string]interface{}{}
}
