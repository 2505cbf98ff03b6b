package config_handler

import (
	"context"

	"hogflow/internal/logger"
	"hogflow/pkg/models"
	"hogflow/pkg/retry"
)

// ConfigReloader reloads whatever the config event invalidated.
type ConfigReloader interface {
	Reload(ctx context.Context, event models.ConfigUpdateEvent) error
}

type ReloaderFunc func(ctx context.Context, event models.ConfigUpdateEvent) error

func (f ReloaderFunc) Reload(ctx context.Context, event models.ConfigUpdateEvent) error {
	return f(ctx, event)
}

// Handler dispatches config update events of one service to reloaders keyed by
// event type.
type Handler struct {
	serviceType string
	reloaders   map[string]ConfigReloader
	logger      logger.Logger
}

func NewHandler(serviceType string, log logger.Logger) *Handler {
	return &Handler{
		serviceType: serviceType,
		reloaders:   make(map[string]ConfigReloader),
		logger:      log,
	}
}

// On registers the reloader of an event type. It is not safe to call once the
// handler is consuming.
func (h *Handler) On(eventType string, reloader ConfigReloader) *Handler {
	h.reloaders[eventType] = reloader
	return h
}

// HandleConfigUpdateEvent is a broker.HandlerFunc. Undecodable events fail
// without retries; events of other services or without a reloader are
// skipped.
func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, envelope models.MessageEnvelope) error {
	event, err := models.ConfigUpdateEventFromEnvelope(envelope)
	if err != nil {
		h.logger.WarnwCtx(ctx, "Invalid config update event", "id", envelope.ID, "error", err)
		return retry.NewFatalError(err)
	}
	if event.ServiceType != h.serviceType {
		return nil
	}
	reloader, ok := h.reloaders[event.EventType]
	if !ok {
		return nil
	}

	log := h.logger.With("event_type", event.EventType, "action", event.Action, "entity_id", event.EntityID)
	log.InfowCtx(ctx, "Received config update event")
	if err := reloader.Reload(ctx, event); err != nil {
		log.ErrorwCtx(ctx, "Failed to reload after config update", "error", err)
		return err
	}
	log.InfowCtx(ctx, "Reloaded after config update")
	return nil
}
