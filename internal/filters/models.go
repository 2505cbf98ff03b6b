package filters

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	EntryTypeEvents  = "events"
	EntryTypeActions = "actions"

	PropertyTypeEvent  = "event"
	PropertyTypePerson = "person"
)

// Operators accepted in property filters.
const (
	OpExact        = "exact"
	OpIsNot        = "is_not"
	OpIContains    = "icontains"
	OpNotIContains = "not_icontains"
	OpRegex        = "regex"
	OpNotRegex     = "not_regex"
	OpGT           = "gt"
	OpLT           = "lt"
	OpIsSet        = "is_set"
	OpIsNotSet     = "is_not_set"
)

var knownOperators = map[string]bool{
	OpExact: true, OpIsNot: true, OpIContains: true, OpNotIContains: true, OpRegex: true,
	OpNotRegex: true, OpGT: true, OpLT: true, OpIsSet: true, OpIsNotSet: true,
}

// Filters decides which events a hog function runs for.
type Filters struct {
	Events             []Entry          `json:"events,omitempty" yaml:"events,omitempty"`
	Actions            []Entry          `json:"actions,omitempty" yaml:"actions,omitempty"`
	FilterTestAccounts bool             `json:"filter_test_accounts" yaml:"filter_test_accounts"`
	Properties         []PropertyFilter `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Entry matches an event by name or an action by id.
type Entry struct {
	ID         string           `json:"id" yaml:"id"`
	Name       string           `json:"name,omitempty" yaml:"name,omitempty"`
	Type       string           `json:"type" yaml:"type"`
	Order      int              `json:"order" yaml:"order"`
	Properties []PropertyFilter `json:"properties,omitempty" yaml:"properties,omitempty"`
}

type PropertyFilter struct {
	Key      string      `json:"key" yaml:"key"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`
	Operator string      `json:"operator" yaml:"operator"`
	// Type selects event or person properties; empty means event.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// IsEmpty reports whether f has no entries and no property filters.
func (f Filters) IsEmpty() bool {
	return len(f.Events) == 0 && len(f.Actions) == 0 && len(f.Properties) == 0
}

// Validate checks the structure of f. It reports every problem found.
func (f Filters) Validate() []string {
	var problems []string
	for i, e := range f.Events {
		problems = append(problems, e.validate(fmt.Sprintf("filters.events[%d]", i), EntryTypeEvents)...)
	}
	for i, e := range f.Actions {
		problems = append(problems, e.validate(fmt.Sprintf("filters.actions[%d]", i), EntryTypeActions)...)
		if e.ID == "" {
			problems = append(problems, fmt.Sprintf("filters.actions[%d]: action id is required", i))
		}
	}
	for i, p := range f.Properties {
		problems = append(problems, p.validate(fmt.Sprintf("filters.properties[%d]", i))...)
	}
	return problems
}

func (e Entry) validate(path, wantType string) []string {
	var problems []string
	if e.Type != "" && e.Type != wantType {
		problems = append(problems, fmt.Sprintf("%s: type must be %q, got %q", path, wantType, e.Type))
	}
	for i, p := range e.Properties {
		problems = append(problems, p.validate(fmt.Sprintf("%s.properties[%d]", path, i))...)
	}
	return problems
}

func (p PropertyFilter) validate(path string) []string {
	var problems []string
	if strings.TrimSpace(p.Key) == "" {
		problems = append(problems, path+": key is required")
	}
	op := p.operator()
	if !knownOperators[op] {
		problems = append(problems, fmt.Sprintf("%s: unknown operator %q", path, p.Operator))
	}
	if p.Type != "" && p.Type != PropertyTypeEvent && p.Type != PropertyTypePerson {
		problems = append(problems, fmt.Sprintf("%s: type must be event or person, got %q", path, p.Type))
	}
	if op == OpRegex || op == OpNotRegex {
		if _, err := regexp.Compile(fmt.Sprint(p.Value)); err != nil {
			problems = append(problems, fmt.Sprintf("%s: invalid regex: %v", path, err))
		}
	}
	return problems
}

func (p PropertyFilter) operator() string {
	if p.Operator == "" {
		return OpExact
	}
	return p.Operator
}

// eventName is the name an event entry matches: the id, or the name when the id is empty.
func (e Entry) eventName() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Name
}
