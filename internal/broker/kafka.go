package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"hogflow/internal/config"
	"hogflow/internal/constants"
	"hogflow/internal/logger"
	apperrors "hogflow/pkg/errors"
	"hogflow/pkg/logging"
	"hogflow/pkg/metrics"
	"hogflow/pkg/models"
	"hogflow/pkg/retry"
	"hogflow/pkg/tracing"
)

type KafkaProducer struct {
	writer      *kafka.Writer
	logger      logger.Logger
	serviceName string
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaProducer{writer: w, logger: log, serviceName: "unknown"}
}

func (p *KafkaProducer) SetServiceName(name string) {
	p.serviceName = name
}

// Publish writes msg keyed by its id, so redeliveries of one event land on
// one partition. The trace id of ctx is stamped on envelopes that lack one.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	ctx, span := tracing.StartProducerSpan(ctx, topic, msg.ID)
	if msg.Metadata.TraceID == "" {
		msg.Metadata.TraceID = tracing.TraceID(ctx)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		err = fmt.Errorf("failed to marshal message: %w", err)
		tracing.EndSpan(span, err)
		return err
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.ID),
		Value:   body,
		Headers: tracing.InjectTraceContext(ctx, nil),
		Time:    time.Now(),
	})
	if err != nil {
		err = fmt.Errorf("failed to write kafka message: %w", err)
		tracing.EndSpan(span, err)
		return err
	}
	tracing.EndSpan(span, nil)

	metrics.IncKafkaMessagesWritten(p.serviceName, topic)
	metrics.ObserveKafkaWriteDuration(p.serviceName, topic, time.Since(start))
	metrics.ObserveKafkaMessageSize(p.serviceName, topic, "out", len(body))
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type ConsumerOption func(*KafkaConsumer)

// WithGroupID overrides the configured consumer group. Config update readers
// use a group per process so that every instance sees every update.
func WithGroupID(groupID string) ConsumerOption {
	return func(c *KafkaConsumer) { c.groupID = groupID }
}

// WithStartOffset sets where a group without committed offsets starts:
// kafka.FirstOffset (the default) or kafka.LastOffset.
func WithStartOffset(offset int64) ConsumerOption {
	return func(c *KafkaConsumer) { c.startOffset = offset }
}

// WithDeadLetterProducer replaces the producer built for the DLQ topic.
func WithDeadLetterProducer(p Producer) ConsumerOption {
	return func(c *KafkaConsumer) { c.dlq = p }
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	groupID     string
	startOffset int64
	policy      retry.Policy
	logger      logger.Logger
	dlq         Producer
	serviceName string

	mu     sync.Mutex
	reader *kafka.Reader
	wg     sync.WaitGroup
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger, opts ...ConsumerOption) *KafkaConsumer {
	c := &KafkaConsumer{
		cfg:         cfg,
		groupID:     cfg.GroupID,
		startOffset: kafka.FirstOffset,
		policy:      retry.PolicyFromConfig(cfg.Retry),
		logger:      log,
		serviceName: "unknown",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dlq == nil && cfg.DLQTopic != "" {
		c.dlq = NewKafkaProducer(cfg, log)
	}
	return c
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
	if p, ok := c.dlq.(*KafkaProducer); ok {
		p.SetServiceName(name)
	}
}

func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.cfg.Brokers,
		GroupID:     c.groupID,
		Topic:       topic,
		StartOffset: c.startOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()

	consumeCtx := logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming",
		"topic", topic,
		"group_id", c.groupID,
		"brokers", c.cfg.Brokers,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming", "topic", topic)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			metrics.SetKafkaConsumerLag(c.serviceName, topic, m.Partition, m.HighWaterMark-m.Offset-1)
			c.process(consumeCtx, m, handler)

			// An unprocessed message is never left uncommitted: it was handled,
			// dead lettered or logged as dropped.
			if err := reader.CommitMessages(context.WithoutCancel(ctx), m); err != nil {
				c.logger.ErrorwCtx(consumeCtx, "Failed to commit message",
					"error", err,
					"topic", topic,
					"offset", m.Offset,
				)
			}
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

// process decodes m and runs handler with retries. It returns the dead letter
// reason, or "" when the handler succeeded.
func (c *KafkaConsumer) process(ctx context.Context, m kafka.Message, handler HandlerFunc) string {
	metrics.IncKafkaMessagesRead(c.serviceName, m.Topic)
	metrics.ObserveKafkaMessageSize(c.serviceName, m.Topic, "in", len(m.Value))

	ctx, span := tracing.StartConsumerSpan(ctx, m)
	defer span.End()

	var envelope models.MessageEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err != nil {
		c.deadLetter(ctx, m.Topic, models.MessageEnvelope{
			ID:        fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset),
			Source:    c.serviceName,
			Timestamp: m.Time,
			Payload:   map[string]interface{}{"raw": string(m.Value)},
		}, ReasonUndecodable, err)
		return ReasonUndecodable
	}
	if err := envelope.Validate(); err != nil {
		c.deadLetter(ctx, m.Topic, envelope, ReasonInvalidEnvelope, err)
		return ReasonInvalidEnvelope
	}

	if envelope.Metadata.TraceID != "" {
		ctx = logging.WithTraceID(ctx, envelope.Metadata.TraceID)
	}
	ctx = logging.WithMessageID(ctx, envelope.ID)

	start := time.Now()
	err := retry.Do(ctx, c.policy, func() error {
		return c.invoke(ctx, handler, envelope)
	}, func(attempt int, err error, next time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, m.Topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"next_delay", next,
			"error", err,
			"topic", m.Topic,
		)
	})
	metrics.ObserveKafkaReadDuration(c.serviceName, m.Topic, time.Since(start))
	if err == nil {
		return ""
	}

	reason := ReasonRetriesExceeded
	if retry.IsFatal(err) {
		reason = ReasonFatal
	}
	span.RecordError(err)
	c.deadLetter(ctx, m.Topic, envelope, reason, err)
	return reason
}

// invoke runs handler, turning a panic into a fatal error.
func (c *KafkaConsumer) invoke(ctx context.Context, handler HandlerFunc, envelope models.MessageEnvelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = retry.NewFatalError(apperrors.RecoverPanic(r))
			c.logger.ErrorwCtx(ctx, "Panic recovered during message processing", "error", err)
		}
	}()
	return handler(ctx, envelope)
}

func (c *KafkaConsumer) deadLetter(ctx context.Context, topic string, envelope models.MessageEnvelope, reason string, cause error) {
	if c.dlq == nil || c.cfg.DLQTopic == "" {
		c.logger.WarnwCtx(ctx, "Dropping message, no dead letter topic configured",
			"topic", topic,
			"reason", reason,
			"error", cause,
		)
		return
	}

	envelope.Metadata.SetAttribute(models.AttrDLQReason, reason)
	envelope.Metadata.SetAttribute(models.AttrDLQError, cause.Error())
	envelope.Metadata.SetAttribute(models.AttrDLQSourceTopic, topic)
	envelope.Metadata.SetAttribute(models.AttrDLQTimestamp, time.Now().UTC().Format(time.RFC3339Nano))

	if err := c.dlq.Publish(context.WithoutCancel(ctx), c.cfg.DLQTopic, envelope); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to send message to DLQ",
			"error", errors.Join(err, cause),
			"topic", topic,
			"reason", reason,
		)
		return
	}
	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, topic, reason).Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", topic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", reason,
	)
}

func (c *KafkaConsumer) Close() error {
	var errs []error
	c.mu.Lock()
	if c.reader != nil {
		errs = append(errs, c.reader.Close())
	}
	c.mu.Unlock()
	if c.dlq != nil {
		errs = append(errs, c.dlq.Close())
	}
	c.wg.Wait()
	return errors.Join(errs...)
}
