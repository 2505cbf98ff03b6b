package broker

import (
	"context"

	"hogflow/pkg/models"
)

// Producer publishes envelopes. Publish blocks until the broker acknowledges.
type Producer interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
	Close() error
}

// Consumer delivers the envelopes of one topic to a handler. Consume blocks
// until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc handles one envelope. Errors are retried unless wrapped with
// retry.NewFatalError; a message that still fails goes to the dead letter
// topic, if any, and is committed either way.
type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) error

// Dead letter reasons, also used as metric labels.
const (
	ReasonUndecodable     = "undecodable"
	ReasonInvalidEnvelope = "invalid_envelope"
	ReasonFatal           = "fatal_error"
	ReasonRetriesExceeded = "max_retries_exceeded"
)
