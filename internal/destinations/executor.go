package destinations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"hogflow/internal/config"
	"hogflow/internal/logger"
	"hogflow/internal/templates"
	"hogflow/pkg/hog"
	"hogflow/pkg/logging"
	"hogflow/pkg/metrics"
	"hogflow/pkg/models"
	"hogflow/pkg/tracing"
)

// CompiledFunction is a function ready to run. It is shared by concurrent
// invocations and never modified.
type CompiledFunction struct {
	Function
	program *hog.Program
	secrets []string
}

// Executor runs hog functions with the configured interpreter limits.
type Executor struct {
	cfg    config.HogConfig
	now    func() time.Time
	logger logger.Logger
}

func NewExecutor(cfg config.HogConfig, log logger.Logger) *Executor {
	return &Executor{cfg: cfg, now: time.Now, logger: log}
}

// Compile prepares fn for execution.
func (e *Executor) Compile(fn Function) (*CompiledFunction, error) {
	prog, err := hog.Compile(fn.Hog)
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", fn.ID, err)
	}

	var secrets []string
	for _, s := range fn.InputsSchema {
		if !s.Secret {
			continue
		}
		for _, v := range []hog.Value{fn.Inputs[s.Key], s.Default} {
			if v.Kind() == hog.KindString {
				secrets = append(secrets, v.Str())
			}
		}
	}
	return &CompiledFunction{Function: fn, program: prog, secrets: secrets}, nil
}

// Redactor masks the secret input values of f.
func (f *CompiledFunction) Redactor() *hog.Redactor {
	return hog.NewRedactor(f.secrets...)
}

// FunctionFromTemplate configures an unsaved function from t.
func FunctionFromTemplate(t templates.Template, inputs map[string]hog.Value) Function {
	return Function{
		ID:           t.ID,
		Name:         t.Name,
		Description:  t.Description,
		TemplateID:   t.ID,
		Hog:          t.Hog,
		InputsSchema: t.InputsSchema,
		Inputs:       inputs,
		Filters:      t.Filters,
		Enabled:      true,
	}
}

func (e *Executor) options(fetcher hog.Fetcher, redactor *hog.Redactor) hog.Options {
	return hog.Options{
		MaxSteps:        int(e.cfg.MaxSteps),
		MaxCallDepth:    e.cfg.MaxCallDepth,
		Timeout:         e.cfg.Timeout,
		MaxStringLength: e.cfg.MaxStringLength,
		MaxLogEntries:   e.cfg.MaxLogEntries,
		MaxFetches:      e.cfg.MaxFetches,
		Fetcher:         fetcher,
		Redactor:        redactor,
	}
}

// ResolveInputs builds the inputs global of fn: configured values, then schema
// defaults, with "{...}" placeholders evaluated against globals. Secret values
// are used literally and tainted so they never reach logs. Inputs without a
// value are null.
func (e *Executor) ResolveInputs(ctx context.Context, fn *CompiledFunction, globals hog.Globals) (hog.Value, error) {
	globals.Inputs = hog.MapValue(hog.NewMap())
	opts := e.options(nil, fn.Redactor())

	inputs := hog.NewMap()
	for _, s := range fn.InputsSchema {
		v, ok := fn.Inputs[s.Key]
		if !ok || v.IsNull() {
			v = s.Default
		}
		switch {
		case v.IsNull():
			inputs.Set(s.Key, hog.Null())
		case s.Secret:
			inputs.Set(s.Key, hog.Taint(v))
		default:
			resolved, err := hog.ResolveTemplate(ctx, v, globals, opts)
			if err != nil {
				return hog.Null(), fmt.Errorf("inputs.%s: %w", s.Key, err)
			}
			inputs.Set(s.Key, resolved)
		}
	}
	return hog.Freeze(hog.MapValue(inputs)), nil
}

// Invoke runs fn once against the event and person of globals. Script failures
// are reported in the result, never returned.
func (e *Executor) Invoke(ctx context.Context, fn *CompiledFunction, globals hog.Globals, fetcher hog.Fetcher) *models.InvocationResult {
	result := &models.InvocationResult{
		ID:         uuid.New().String(),
		FunctionID: fn.ID,
		TemplateID: fn.TemplateID,
		EventUUID:  globals.Event.Get("uuid").Str(),
		EventName:  globals.Event.Get("name").Str(),
		Status:     models.InvocationSucceeded,
		Logs:       []hog.LogEntry{},
		Fetches:    []hog.FetchRecord{},
		CreatedAt:  e.now().UTC(),
	}

	ctx = logging.WithFunctionID(ctx, fn.ID)
	ctx = logging.WithInvocationID(ctx, result.ID)
	ctx, span := tracing.StartSpan(ctx, "destination-service", "hog.invoke",
		attribute.String("function_id", fn.ID),
		attribute.String("template_id", fn.TemplateID),
		attribute.String("event_uuid", result.EventUUID),
	)

	globals.Event = hog.Freeze(globals.Event)
	globals.Person = hog.Freeze(globals.Person)

	redactor := fn.Redactor()
	inputs, err := e.ResolveInputs(ctx, fn, globals)
	if err != nil {
		e.fail(ctx, fn, result, redactor, err)
		metrics.ObserveInvocation(fn.TemplateID, result.Status, 0, 0)
		tracing.EndSpan(span, err)
		return result
	}
	globals.Inputs = inputs

	opts := e.options(fetcher, redactor)
	fnLog := e.logger.With("template_id", fn.TemplateID)
	opts.Log = func(entry hog.LogEntry) {
		fnLog.DebugwCtx(ctx, "Hog function log", "level", entry.Level, "message", entry.Message)
	}

	res, err := hog.Execute(ctx, fn.program, globals, opts)
	result.Logs = append(result.Logs, res.Logs...)
	result.Fetches = append(result.Fetches, res.Fetches...)
	result.Steps = res.Steps
	result.DurationMS = res.Duration.Milliseconds()
	if err != nil {
		e.fail(ctx, fn, result, redactor, err)
	}

	metrics.ObserveInvocation(fn.TemplateID, result.Status, res.Duration, int64(res.Steps))
	tracing.EndSpan(span, err)
	return result
}

func (e *Executor) fail(ctx context.Context, fn *CompiledFunction, result *models.InvocationResult, redactor *hog.Redactor, err error) {
	result.Status = models.InvocationFailed
	result.ErrorKind = string(hog.KindOf(err))
	result.Error = redactor.Redact(err.Error())
	e.logger.WarnwCtx(ctx, "Hog function execution failed",
		"template_id", fn.TemplateID,
		"error_kind", result.ErrorKind,
		"error", result.Error,
	)
}

// EventGlobals builds the event global of ev.
func EventGlobals(ev models.Event) hog.Value {
	m := hog.NewMap()
	m.Set("uuid", hog.StringValue(ev.UUID))
	m.Set("name", hog.StringValue(ev.Name))
	m.Set("distinct_id", hog.StringValue(ev.DistinctID))
	m.Set("timestamp", hog.StringValue(ev.Timestamp.UTC().Format(time.RFC3339Nano)))
	if ev.URL != "" {
		m.Set("url", hog.StringValue(ev.URL))
	} else {
		m.Set("url", hog.Null())
	}
	props := ev.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	m.Set("properties", hog.FromGo(props))
	return hog.MapValue(m)
}
