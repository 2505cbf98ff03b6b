package cel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// Activation holds the variables visible to an expression: the event (name,
// distinct_id, properties, ...) and the person (id, properties, ...).
type Activation struct {
	Event  map[string]interface{}
	Person map[string]interface{}
}

func (a Activation) vars() map[string]interface{} {
	event, person := a.Event, a.Person
	if event == nil {
		event = map[string]interface{}{}
	}
	if person == nil {
		person = map[string]interface{}{}
	}
	return map[string]interface{}{"event": event, "person": person}
}

type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]*Predicate
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("person", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env, programs: map[string]*Predicate{}}, nil
}

// Predicate is a compiled boolean expression.
type Predicate struct {
	expression string
	program    cel.Program
}

func (p *Predicate) Expression() string {
	return p.expression
}

// Eval runs the predicate. A missing key anywhere in the expression is an error,
// which callers treat as "no match".
func (p *Predicate) Eval(ctx context.Context, act Activation) (bool, error) {
	result, _, err := p.program.ContextEval(ctx, act.vars())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.compile(expression)
	return err
}

// Compile returns the cached predicate for expression, compiling it on first use.
func (e *Evaluator) Compile(expression string) (*Predicate, error) {
	e.mu.RLock()
	p, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[expression] = p
	e.mu.Unlock()
	return p, nil
}

func (e *Evaluator) compile(expression string) (*Predicate, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Predicate{expression: expression, program: program}, nil
}

func (e *Evaluator) EvaluateFilter(ctx context.Context, expression string, act Activation) (bool, error) {
	p, err := e.Compile(expression)
	if err != nil {
		return false, err
	}
	return p.Eval(ctx, act)
}
