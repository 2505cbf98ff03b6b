package management

import (
	"errors"
	"fmt"
	"strings"

	"hogflow/internal/destinations"
	"hogflow/internal/templates"
	"hogflow/pkg/cel"
	pkgerrors "hogflow/pkg/errors"
	"hogflow/pkg/models"
)

// FieldError names the request field that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...interface{}) error {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// invalidInput turns err into a 400 response, naming the offending field in
// the details when err carries one.
func invalidInput(err error) error {
	if err == nil {
		return nil
	}
	appErr := pkgerrors.Wrap(err, pkgerrors.ErrValidation)

	var fe *FieldError
	var me *models.ValidationError
	switch {
	case errors.As(err, &fe):
		appErr = appErr.WithDetail("field", fe.Field)
	case errors.As(err, &me):
		appErr = appErr.WithDetail("field", me.Field)
	}
	return appErr
}

// Validator checks API input before anything is stored.
type Validator struct {
	evaluator *cel.Evaluator
}

func NewValidator() (*Validator, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	return &Validator{evaluator: evaluator}, nil
}

func (v *Validator) ValidateCreateAction(req CreateActionRequest) error {
	if err := requireText("name", &req.Name); err != nil {
		return err
	}
	if err := requireText("expression", &req.Expression); err != nil {
		return err
	}
	return v.expression(req.Expression)
}

// ValidateUpdateAction checks only the fields present in req.
func (v *Validator) ValidateUpdateAction(req UpdateActionRequest) error {
	if req.Name != nil {
		if err := requireText("name", req.Name); err != nil {
			return err
		}
	}
	if req.Expression == nil {
		return nil
	}
	if err := requireText("expression", req.Expression); err != nil {
		return err
	}
	return v.expression(*req.Expression)
}

func (v *Validator) expression(expression string) error {
	if err := v.evaluator.ValidateFilterExpression(expression); err != nil {
		return invalid("expression", "invalid CEL expression: %v", err)
	}
	return nil
}

// ValidateFunction checks the script, schema, filters and input values of fn.
func (v *Validator) ValidateFunction(fn destinations.Function) error {
	if err := requireText("name", &fn.Name); err != nil {
		return err
	}
	if fn.TemplateID == "" {
		return invalid("template_id", "is required")
	}
	return fn.Validate()
}

// ValidateTemplate checks a template submitted through the API. Builtin is
// reserved for templates shipped with the binary.
func (v *Validator) ValidateTemplate(t templates.Template) error {
	if t.Builtin {
		return invalid("builtin", "cannot be set through the API")
	}
	return templates.Validate(t)
}

func requireText(field string, value *string) error {
	if value == nil || strings.TrimSpace(*value) == "" {
		return invalid(field, "is required")
	}
	return nil
}
