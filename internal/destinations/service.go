package destinations

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"hogflow/internal/config"
	"hogflow/internal/constants"
	"hogflow/internal/deduplication"
	"hogflow/internal/filters"
	"hogflow/internal/logger"
	"hogflow/internal/persons"
	"hogflow/pkg/hog"
	"hogflow/pkg/metrics"
	"hogflow/pkg/models"
	"hogflow/pkg/tracing"
)

// Publisher sends invocation results downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
}

// Dependencies are the collaborators of a Service. Persons, Guard, Store and
// Publisher are optional.
type Dependencies struct {
	Repository   Repository
	Executor     *Executor
	Matcher      *filters.Matcher
	Fetcher      hog.Fetcher
	Persons      persons.Store
	Guard        *deduplication.Guard
	Store        InvocationStore
	Publisher    Publisher
	ResultsTopic string
	// SiteURL prefixes person links; may be empty.
	SiteURL string
}

// Service delivers events to every matching hog function.
type Service struct {
	deps        Dependencies
	functions   []*CompiledFunction
	functionsMu sync.RWMutex
	lastReload  time.Time
	cfg         config.DestinationsConfig
	logger      logger.Logger
}

func NewService(deps Dependencies, cfg config.DestinationsConfig, log logger.Logger) *Service {
	return &Service{
		deps:      deps,
		functions: make([]*CompiledFunction, 0),
		cfg:       cfg,
		logger:    log,
	}
}

// HandleEvent runs every function whose filters match the event in env.
// Script failures are recorded per invocation; only infrastructure failures are
// returned so the message can be retried.
func (s *Service) HandleEvent(ctx context.Context, env models.MessageEnvelope) error {
	ctx, span := tracing.GetTracer("destination-service").Start(ctx, "destinations.handle_event")
	defer span.End()

	start := time.Now()
	ev, err := models.EventFromEnvelope(env)
	if err != nil {
		s.recordEvent(start, "invalid")
		s.logger.WarnwCtx(ctx, "Dropping invalid event", "error", err, "id", env.ID)
		return nil
	}

	globals := hog.Globals{
		Event:  hog.Freeze(EventGlobals(ev)),
		Person: hog.Freeze(s.resolvePerson(ctx, ev)),
	}
	input := filters.Input{Event: globals.Event, Person: globals.Person}

	var g errgroup.Group
	g.SetLimit(s.concurrency())
	matched := 0
	for _, fn := range s.getActiveFunctions() {
		if res := s.deps.Matcher.Match(ctx, fn.Filters, input); !res.Matched {
			s.logger.DebugwCtx(ctx, "Function filtered event",
				"function_id", fn.ID,
				"reason", res.Reason,
			)
			continue
		}
		matched++
		g.Go(func() error {
			return s.invoke(ctx, fn, globals)
		})
	}

	err = g.Wait()
	switch {
	case err != nil:
		s.recordEvent(start, "error")
	case matched == 0:
		s.recordEvent(start, "no_match")
	default:
		s.recordEvent(start, "processed")
	}
	return err
}

func (s *Service) invoke(ctx context.Context, fn *CompiledFunction, globals hog.Globals) error {
	eventUUID := globals.Event.Get("uuid").Str()
	claimed, err := s.deps.Guard.Claim(ctx, eventUUID, fn.ID)
	if err != nil {
		return fmt.Errorf("invocation guard for function %s: %w", fn.ID, err)
	}
	if !claimed {
		s.logger.InfowCtx(ctx, "Skipping duplicate invocation",
			"function_id", fn.ID,
			"event_uuid", eventUUID,
		)
		return nil
	}

	result := s.deps.Executor.Invoke(ctx, fn, globals, s.deps.Fetcher)

	// Cancelled before anything was sent: give the claim back so a redelivery runs it.
	if result.ErrorKind == string(hog.Cancelled) && len(result.Fetches) == 0 {
		if err := s.deps.Guard.Release(context.WithoutCancel(ctx), eventUUID, fn.ID); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to release invocation guard", "error", err, "function_id", fn.ID)
		}
		return ctx.Err()
	}

	s.record(ctx, result)
	return nil
}

func (s *Service) record(ctx context.Context, result *models.InvocationResult) {
	ctx = context.WithoutCancel(ctx)

	if s.deps.Store != nil {
		if err := s.deps.Store.Save(ctx, result); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to store invocation result",
				"error", err,
				"function_id", result.FunctionID,
				"invocation_id", result.ID,
			)
		}
	}

	if !s.cfg.PublishResults || s.deps.Publisher == nil || s.deps.ResultsTopic == "" {
		return
	}
	envelope := result.Envelope("destination-service")
	if err := s.deps.Publisher.Publish(ctx, s.deps.ResultsTopic, envelope); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to publish invocation result",
			"error", err,
			"function_id", result.FunctionID,
			"topic", s.deps.ResultsTopic,
		)
	}
}

// resolvePerson returns the person global of ev: the person carried by the
// event, else the stored person of its distinct id, else an anonymous person.
func (s *Service) resolvePerson(ctx context.Context, ev models.Event) hog.Value {
	if ev.Person != nil {
		p := persons.Person{ID: ev.Person.ID, DistinctIDs: []string{ev.DistinctID}, Properties: ev.Person.Properties}
		return p.Value(s.deps.SiteURL)
	}
	if s.deps.Persons == nil || ev.DistinctID == "" {
		return persons.Anonymous(ev.DistinctID)
	}

	p, err := s.deps.Persons.FindByDistinctID(ctx, ev.DistinctID)
	if err != nil {
		if !errors.Is(err, persons.ErrNotFound) {
			s.logger.WarnwCtx(ctx, "Person lookup failed, using anonymous person",
				"error", err,
				"distinct_id", ev.DistinctID,
			)
		}
		return persons.Anonymous(ev.DistinctID)
	}
	return p.Value(s.deps.SiteURL)
}

func (s *Service) concurrency() int {
	if s.cfg.Concurrency > 0 {
		return s.cfg.Concurrency
	}
	return constants.DefaultDestinationConcurrency
}

func (s *Service) recordEvent(start time.Time, status string) {
	metrics.DestinationEventsTotal.WithLabelValues(status).Inc()
	metrics.ObserveEventDuration(time.Since(start), status)
}

func (s *Service) getActiveFunctions() []*CompiledFunction {
	s.functionsMu.RLock()
	defer s.functionsMu.RUnlock()

	functions := make([]*CompiledFunction, len(s.functions))
	copy(functions, s.functions)
	return functions
}

// ActiveFunctions returns the ids of the loaded functions.
func (s *Service) ActiveFunctions() []string {
	fns := s.getActiveFunctions()
	ids := make([]string, len(fns))
	for i, fn := range fns {
		ids[i] = fn.ID
	}
	return ids
}

// LastReload is when the function set was last loaded, zero before the first
// successful load.
func (s *Service) LastReload() time.Time {
	s.functionsMu.RLock()
	defer s.functionsMu.RUnlock()
	return s.lastReload
}

// Reload implements config_handler.ConfigReloader.
func (s *Service) Reload(ctx context.Context, event models.ConfigUpdateEvent) error {
	return s.ReloadFunctions(ctx, true)
}

func (s *Service) ReloadFunctions(ctx context.Context, skipJitter ...bool) error {
	shouldSkipJitter := len(skipJitter) > 0 && skipJitter[0]

	if err := s.applyJitter(ctx, shouldSkipJitter); err != nil {
		return err
	}

	actions, err := s.deps.Repository.GetActions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load actions: %w", err)
	}
	if err := s.deps.Matcher.SetActions(actions); err != nil {
		s.logger.WarnwCtx(ctx, "Some actions were not loaded", "error", err)
	}

	functions, err := s.deps.Repository.GetActiveFunctions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load functions: %w", err)
	}

	s.updateFunctions(ctx, s.compile(ctx, functions))
	return nil
}

// compile skips functions that no longer validate; the others keep running.
func (s *Service) compile(ctx context.Context, functions []Function) []*CompiledFunction {
	compiled := make([]*CompiledFunction, 0, len(functions))
	for _, fn := range functions {
		if err := fn.Validate(); err != nil {
			s.logger.ErrorwCtx(ctx, "Skipping invalid function", "function_id", fn.ID, "error", err)
			continue
		}
		c, err := s.deps.Executor.Compile(fn)
		if err != nil {
			s.logger.ErrorwCtx(ctx, "Skipping function that does not compile", "function_id", fn.ID, "error", err)
			continue
		}
		compiled = append(compiled, c)
	}
	return compiled
}

func (s *Service) applyJitter(ctx context.Context, skipJitter bool) error {
	if skipJitter || s.cfg.Reload.JitterMaxMilliseconds == 0 {
		return nil
	}

	jitter := time.Duration(rand.Intn(s.cfg.Reload.JitterMaxMilliseconds)) * time.Millisecond
	s.logger.DebugwCtx(ctx, "Reload scheduled with jitter",
		"jitter_ms", jitter.Milliseconds(),
	)

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) updateFunctions(ctx context.Context, functions []*CompiledFunction) {
	s.functionsMu.Lock()
	s.functions = functions
	s.lastReload = time.Now()
	s.functionsMu.Unlock()

	metrics.SetActiveFunctions(len(functions))
	s.logger.InfowCtx(ctx, "Successfully reloaded functions",
		"functions_count", len(functions),
	)
}

func (s *Service) StartReloader(ctx context.Context) error {
	interval := time.Duration(s.cfg.Reload.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.ReloadFunctions(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Failed to reload functions",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
