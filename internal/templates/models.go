package templates

import (
	"hogflow/internal/filters"
	"hogflow/pkg/hog"
)

const (
	StatusAlpha      = "alpha"
	StatusBeta       = "beta"
	StatusStable     = "stable"
	StatusDeprecated = "deprecated"
)

// Input types.
const (
	TypeString     = "string"
	TypeBoolean    = "boolean"
	TypeChoice     = "choice"
	TypeDictionary = "dictionary"
	TypeJSON       = "json"
	TypeInteger    = "integer"
)

var validStatuses = map[string]bool{
	StatusAlpha: true, StatusBeta: true, StatusStable: true, StatusDeprecated: true,
}

var validTypes = map[string]bool{
	TypeString: true, TypeBoolean: true, TypeChoice: true, TypeDictionary: true, TypeJSON: true, TypeInteger: true,
}

// Template is a reusable destination definition: a hog script plus the inputs it
// expects and the default filters for functions created from it.
type Template struct {
	Status       string          `json:"status" yaml:"status"`
	ID           string          `json:"id" yaml:"id"`
	Name         string          `json:"name" yaml:"name"`
	Description  string          `json:"description" yaml:"description"`
	IconURL      string          `json:"icon_url,omitempty" yaml:"icon_url,omitempty"`
	Hog          string          `json:"hog" yaml:"hog"`
	InputsSchema []InputSchema   `json:"inputs_schema" yaml:"inputs_schema"`
	Filters      filters.Filters `json:"filters" yaml:"filters"`
	// Builtin templates ship with the binary and cannot be changed through the API.
	Builtin bool `json:"builtin" yaml:"-"`
}

type InputSchema struct {
	Key         string    `json:"key" yaml:"key"`
	Type        string    `json:"type" yaml:"type"`
	Label       string    `json:"label,omitempty" yaml:"label,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Default     hog.Value `json:"default" yaml:"-"`
	Secret      bool      `json:"secret" yaml:"secret"`
	Required    bool      `json:"required" yaml:"required"`
	Choices     []Choice  `json:"choices,omitempty" yaml:"choices,omitempty"`
}

type Choice struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// HasDefault reports whether the entry declares a non-null default.
func (s InputSchema) HasDefault() bool {
	return !s.Default.IsNull()
}

func (s InputSchema) hasChoice(v string) bool {
	for _, c := range s.Choices {
		if c.Value == v {
			return true
		}
	}
	return false
}

// Input returns the schema entry for key.
func (t Template) Input(key string) (InputSchema, bool) {
	for _, s := range t.InputsSchema {
		if s.Key == key {
			return s, true
		}
	}
	return InputSchema{}, false
}

// SecretKeys lists the keys of secret inputs in schema order.
func (t Template) SecretKeys() []string {
	var keys []string
	for _, s := range t.InputsSchema {
		if s.Secret {
			keys = append(keys, s.Key)
		}
	}
	return keys
}
