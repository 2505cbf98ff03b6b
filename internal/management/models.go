package management

import (
	"time"

	"hogflow/internal/destinations"
	"hogflow/internal/filters"
	"hogflow/internal/templates"
	"hogflow/pkg/hog"
	"hogflow/pkg/models"
)

// HogFunction is the API view of a function. Secret input values are replaced
// by {"secret": true}.
type HogFunction struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	Description  string                  `json:"description"`
	TemplateID   string                  `json:"template_id"`
	Hog          string                  `json:"hog"`
	InputsSchema []templates.InputSchema `json:"inputs_schema"`
	Inputs       map[string]hog.Value    `json:"inputs"`
	Filters      filters.Filters         `json:"filters"`
	Enabled      bool                    `json:"enabled"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// CreateHogFunctionRequest creates a function from a template. Hog, schema and
// filters default to the template's.
type CreateHogFunctionRequest struct {
	Name         string                  `json:"name" binding:"required"`
	Description  string                  `json:"description"`
	TemplateID   string                  `json:"template_id" binding:"required"`
	Hog          *string                 `json:"hog"`
	InputsSchema []templates.InputSchema `json:"inputs_schema"`
	Inputs       map[string]hog.Value    `json:"inputs"`
	Filters      *filters.Filters        `json:"filters"`
	Enabled      *bool                   `json:"enabled"`
}

// UpdateHogFunctionRequest changes the given fields. A secret input sent back as
// {"secret": true} keeps its stored value.
type UpdateHogFunctionRequest struct {
	Name         *string                  `json:"name"`
	Description  *string                  `json:"description"`
	Hog          *string                  `json:"hog"`
	InputsSchema *[]templates.InputSchema `json:"inputs_schema"`
	Inputs       map[string]hog.Value     `json:"inputs"`
	Filters      *filters.Filters         `json:"filters"`
	Enabled      *bool                    `json:"enabled"`
}

func (r UpdateHogFunctionRequest) onlyToggles() bool {
	return r.Enabled != nil && r.Name == nil && r.Description == nil && r.Hog == nil &&
		r.InputsSchema == nil && r.Inputs == nil && r.Filters == nil
}

type Action struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Expression  string    `json:"expression"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreateActionRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Expression  string `json:"expression" binding:"required"`
}

type UpdateActionRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Expression  *string `json:"expression"`
}

// TestInvocationRequest runs a saved function once. Configuration fields
// override the stored ones without saving them.
type TestInvocationRequest struct {
	Event  map[string]interface{} `json:"event" binding:"required"`
	Person map[string]interface{} `json:"person"`
	Inputs map[string]hog.Value   `json:"inputs"`
	Hog    *string                `json:"hog"`
	// MockFetches answers every fetch with 200 and records it; defaults to true.
	MockFetches *bool `json:"mock_fetches"`
}

type TestInvocationResponse struct {
	Result   *models.InvocationResult `json:"result"`
	Requests []MockedRequest          `json:"requests,omitempty"`
}

// MockedRequest is a fetch answered by the dry run fetcher. Secret values in
// the URL, headers and body are masked.
type MockedRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// InvocationFilter selects entries of the invocation log.
type InvocationFilter struct {
	Status    string
	EventUUID string
	Since     time.Time
	Limit     int
}

func toHogFunction(fn *destinations.Function) *HogFunction {
	return &HogFunction{
		ID:           fn.ID,
		Name:         fn.Name,
		Description:  fn.Description,
		TemplateID:   fn.TemplateID,
		Hog:          fn.Hog,
		InputsSchema: fn.InputsSchema,
		Inputs:       maskSecrets(fn.InputsSchema, fn.Inputs),
		Filters:      fn.Filters,
		Enabled:      fn.Enabled,
		CreatedAt:    fn.CreatedAt,
		UpdatedAt:    fn.UpdatedAt,
	}
}

func secretPlaceholder() hog.Value {
	m := hog.NewMap()
	m.Set("secret", hog.BoolValue(true))
	return hog.MapValue(m)
}

func isSecretPlaceholder(v hog.Value) bool {
	return v.Kind() == hog.KindMap && v.Map().Len() == 1 && v.Get("secret").Kind() == hog.KindBool
}

func maskSecrets(schema []templates.InputSchema, inputs map[string]hog.Value) map[string]hog.Value {
	secret := map[string]bool{}
	for _, s := range schema {
		secret[s.Key] = s.Secret
	}
	out := make(map[string]hog.Value, len(inputs))
	for k, v := range inputs {
		if secret[k] && !v.IsNull() {
			out[k] = secretPlaceholder()
			continue
		}
		out[k] = v
	}
	return out
}

// mergeInputs applies update to current. Secret placeholders keep the current
// value; keys missing from update are dropped.
func mergeInputs(schema []templates.InputSchema, current, update map[string]hog.Value) map[string]hog.Value {
	secret := map[string]bool{}
	for _, s := range schema {
		secret[s.Key] = s.Secret
	}
	out := make(map[string]hog.Value, len(update))
	for k, v := range update {
		if secret[k] && isSecretPlaceholder(v) {
			if old, ok := current[k]; ok {
				out[k] = old
			}
			continue
		}
		out[k] = v
	}
	return out
}
