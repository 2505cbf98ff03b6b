package destinations

import (
	"time"

	"hogflow/internal/filters"
	"hogflow/internal/templates"
	"hogflow/pkg/hog"
)

// Function is a destination configured from a template: its own copy of the
// script and schema, the input values and the filters deciding which events it
// receives.
type Function struct {
	ID           string
	Name         string
	Description  string
	TemplateID   string
	Hog          string
	InputsSchema []templates.InputSchema
	Inputs       map[string]hog.Value
	Filters      filters.Filters
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Template is the function seen as a template, for validation.
func (f Function) Template() templates.Template {
	return templates.Template{
		ID:           f.ID,
		Name:         f.Name,
		Hog:          f.Hog,
		InputsSchema: f.InputsSchema,
		Filters:      f.Filters,
	}
}

// Validate checks the script, schema and filters of f and its input values.
func (f Function) Validate() error {
	if err := templates.Validate(f.Template()); err != nil {
		return err
	}
	return templates.ValidateValues(f.Template(), f.Inputs)
}
