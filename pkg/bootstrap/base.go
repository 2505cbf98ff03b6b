package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"hogflow/internal/broker"
	"hogflow/internal/config"
	"hogflow/internal/constants"
	"hogflow/internal/logger"
)

// Base holds what every hogflow service shares: config, logger, broker
// clients and the resources to release on shutdown.
type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer

	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// OnShutdown registers fn to run on Shutdown. Closers run in reverse order of
// registration, so a resource is released before what it depends on.
func (b *Base) OnShutdown(name string, fn func(ctx context.Context) error) {
	b.closers = append(b.closers, closer{name: name, fn: fn})
}

// InitProducer creates the broker producer.
func (b *Base) InitProducer(serviceName string) error {
	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	if p, ok := producer.(*broker.KafkaProducer); ok && serviceName != "" {
		p.SetServiceName(serviceName)
	}
	b.Producer = producer
	b.OnShutdown("producer", func(context.Context) error { return producer.Close() })
	return nil
}

// InitBroker creates the producer and the consumer of the input topic.
func (b *Base) InitBroker(serviceName string) error {
	if err := b.InitProducer(serviceName); err != nil {
		return err
	}

	consumer, err := broker.NewConsumer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	if serviceName != "" {
		consumer.SetServiceName(serviceName)
	}
	b.Consumer = consumer
	b.OnShutdown("consumer", func(context.Context) error { return consumer.Close() })
	return nil
}

// Shutdown runs the registered closers within constants.ShutdownTimeout and
// joins their errors.
func (b *Base) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		c := b.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	b.closers = nil

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown errors: %w", err)
	}
	b.Logger.InfowCtx(ctx, "Application exited successfully")
	return nil
}
