package models

import (
	"time"

	"hogflow/pkg/hog"
)

// Invocation statuses.
const (
	InvocationSucceeded = "succeeded"
	InvocationFailed    = "failed"
	InvocationSkipped   = "skipped"
)

// InvocationResult records one execution of a hog function for one event. It is
// stored in the invocation log and published to the results topic.
type InvocationResult struct {
	ID         string            `json:"id" bson:"_id"`
	FunctionID string            `json:"function_id" bson:"function_id"`
	TemplateID string            `json:"template_id,omitempty" bson:"template_id,omitempty"`
	EventUUID  string            `json:"event_uuid" bson:"event_uuid"`
	EventName  string            `json:"event_name" bson:"event_name"`
	Status     string            `json:"status" bson:"status"`
	ErrorKind  string            `json:"error_kind,omitempty" bson:"error_kind,omitempty"`
	Error      string            `json:"error,omitempty" bson:"error,omitempty"`
	Logs       []hog.LogEntry    `json:"logs" bson:"logs"`
	Fetches    []hog.FetchRecord `json:"fetches" bson:"fetches"`
	Steps      int               `json:"steps" bson:"steps"`
	DurationMS int64             `json:"duration_ms" bson:"duration_ms"`
	CreatedAt  time.Time         `json:"created_at" bson:"created_at"`
}

// Payload flattens r for a message envelope.
func (r InvocationResult) Payload() map[string]interface{} {
	logs := make([]interface{}, len(r.Logs))
	for i, l := range r.Logs {
		logs[i] = map[string]interface{}{
			"level":     l.Level,
			"timestamp": l.Timestamp,
			"message":   l.Message,
		}
	}
	fetches := make([]interface{}, len(r.Fetches))
	for i, f := range r.Fetches {
		fetches[i] = map[string]interface{}{
			"method":      f.Method,
			"url":         f.URL,
			"status":      f.Status,
			"duration_ms": f.Duration.Milliseconds(),
			"error":       f.Error,
		}
	}
	return map[string]interface{}{
		"id":          r.ID,
		"function_id": r.FunctionID,
		"template_id": r.TemplateID,
		"event_uuid":  r.EventUUID,
		"event_name":  r.EventName,
		"status":      r.Status,
		"error_kind":  r.ErrorKind,
		"error":       r.Error,
		"logs":        logs,
		"fetches":     fetches,
		"steps":       r.Steps,
		"duration_ms": r.DurationMS,
		"created_at":  r.CreatedAt,
	}
}

// Envelope is the message published for r on the results topic.
func (r InvocationResult) Envelope(source string) MessageEnvelope {
	env := MessageEnvelope{
		ID:        r.ID,
		Source:    source,
		Timestamp: r.CreatedAt,
		Payload:   r.Payload(),
	}
	env.Metadata.SetAttribute(AttrFunctionID, r.FunctionID)
	env.Metadata.SetAttribute(AttrStatus, r.Status)
	return env
}
