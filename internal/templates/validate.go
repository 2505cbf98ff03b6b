package templates

import (
	"fmt"
	"sort"
	"strings"

	"hogflow/pkg/hog"
)

// ValidationErrors collects every structural problem found in a template.
type ValidationErrors []string

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return "invalid template: " + e[0]
	}
	return fmt.Sprintf("invalid template: %d problems: %s", len(e), strings.Join(e, "; "))
}

func (e *ValidationErrors) add(format string, args ...interface{}) {
	*e = append(*e, fmt.Sprintf(format, args...))
}

func (e ValidationErrors) err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Validate checks t without running it: the script must compile, every input it
// reads must be declared, and defaults must agree with their declared types.
// Inputs may only be read as inputs.<key> or inputs['key'], since any other read
// cannot be checked against the schema.
func Validate(t Template) error {
	var errs ValidationErrors

	if strings.TrimSpace(t.ID) == "" {
		errs.add("id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		errs.add("name is required")
	}
	if t.Status != "" && !validStatuses[t.Status] {
		errs.add("unknown status %q", t.Status)
	}

	declared := map[string]bool{}
	for i, s := range t.InputsSchema {
		path := fmt.Sprintf("inputs_schema[%d]", i)
		if strings.TrimSpace(s.Key) == "" {
			errs.add("%s: key is required", path)
		} else if declared[s.Key] {
			errs.add("%s: duplicate key %q", path, s.Key)
		}
		declared[s.Key] = true
		errs = append(errs, validateSchema(path, s)...)
	}

	if strings.TrimSpace(t.Hog) == "" {
		errs.add("hog is required")
	} else if prog, err := hog.Compile(t.Hog); err != nil {
		errs.add("hog: %v", err)
	} else {
		for _, key := range prog.ReferencedInputs() {
			if !declared[key] {
				errs.add("hog reads inputs.%s which is not declared in inputs_schema", key)
			}
		}
		if pos, ok := prog.DynamicInputs(); ok {
			errs.add("hog reads inputs without a literal key at line %d, column %d", pos.Line, pos.Column)
		}
	}

	for _, p := range t.Filters.Validate() {
		errs.add("%s", p)
	}
	return errs.err()
}

func validateSchema(path string, s InputSchema) ValidationErrors {
	var errs ValidationErrors
	if !validTypes[s.Type] {
		errs.add("%s: unknown type %q", path, s.Type)
		return errs
	}

	if s.Type == TypeChoice {
		if len(s.Choices) == 0 {
			errs.add("%s: choice input needs choices", path)
		}
		seen := map[string]bool{}
		for _, c := range s.Choices {
			if seen[c.Value] {
				errs.add("%s: duplicate choice %q", path, c.Value)
			}
			seen[c.Value] = true
		}
	} else if len(s.Choices) > 0 {
		errs.add("%s: choices are only allowed on choice inputs", path)
	}

	if s.HasDefault() {
		if err := checkValue(s, s.Default); err != nil {
			errs.add("%s: default %v", path, err)
		}
		if err := checkPlaceholders(s.Default); err != nil {
			errs.add("%s: default: %v", path, err)
		}
	}
	return errs
}

// checkValue reports whether v fits the declared type of s.
func checkValue(s InputSchema, v hog.Value) error {
	switch s.Type {
	case TypeString:
		if v.Kind() != hog.KindString {
			return fmt.Errorf("must be a string, got %s", v.Kind())
		}
	case TypeBoolean:
		if v.Kind() != hog.KindBool {
			return fmt.Errorf("must be a boolean, got %s", v.Kind())
		}
	case TypeInteger:
		if v.Kind() != hog.KindInt {
			return fmt.Errorf("must be an integer, got %s", v.Kind())
		}
	case TypeDictionary:
		if v.Kind() != hog.KindMap {
			return fmt.Errorf("must be a dictionary, got %s", v.Kind())
		}
	case TypeChoice:
		if v.Kind() != hog.KindString || !s.hasChoice(v.Str()) {
			return fmt.Errorf("must be one of %s", strings.Join(choiceValues(s), ", "))
		}
	}
	return nil
}

func choiceValues(s InputSchema) []string {
	out := make([]string, len(s.Choices))
	for i, c := range s.Choices {
		out[i] = c.Value
	}
	return out
}

func checkPlaceholders(v hog.Value) error {
	switch v.Kind() {
	case hog.KindString:
		return hog.CompileTemplate(v.Str())
	case hog.KindMap:
		var err error
		v.Map().Range(func(_ string, val hog.Value) bool {
			err = checkPlaceholders(val)
			return err == nil
		})
		return err
	case hog.KindList, hog.KindTuple:
		for _, it := range v.Items() {
			if err := checkPlaceholders(it); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateValues checks configured input values against the schema of t. A
// required input must have a value or a default; unknown keys are rejected.
func ValidateValues(t Template, values map[string]hog.Value) error {
	var errs ValidationErrors
	for _, s := range t.InputsSchema {
		v, ok := values[s.Key]
		if !ok || v.IsNull() {
			if s.Required && !s.HasDefault() {
				errs.add("inputs.%s is required", s.Key)
			}
			continue
		}
		if err := checkValue(s, v); err != nil {
			errs.add("inputs.%s %v", s.Key, err)
		}
		// secret values are used literally
		if s.Secret {
			continue
		}
		if err := checkPlaceholders(v); err != nil {
			errs.add("inputs.%s: %v", s.Key, err)
		}
	}

	unknown := make([]string, 0)
	for key := range values {
		if _, ok := t.Input(key); !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		errs.add("inputs.%s is not declared by template %s", key, t.ID)
	}
	return errs.err()
}
