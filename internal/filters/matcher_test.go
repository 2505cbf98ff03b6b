package filters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hogflow/internal/logger"
	"hogflow/pkg/cel"
	"hogflow/pkg/hog"
)

func newMatcher(t *testing.T, testAccounts ...string) *Matcher {
	t.Helper()
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)
	m, err := NewMatcher(eval, testAccounts, logger.NopLogger())
	require.NoError(t, err)
	return m
}

func input(name string, eventProps, personProps map[string]interface{}) Input {
	return Input{
		Event: hog.FromGo(map[string]interface{}{
			"name":        name,
			"distinct_id": "d-1",
			"properties":  eventProps,
		}),
		Person: hog.FromGo(map[string]interface{}{
			"id":         "p-1",
			"properties": personProps,
		}),
	}
}

func TestMatchEntries(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.SetActions([]Action{
		{ID: "a-1", Name: "big purchase", Expression: `event.name == "purchase" && double(event.properties.revenue) > 100.0`},
	}))

	ctx := context.Background()
	tests := []struct {
		name      string
		filters   Filters
		in        Input
		matched   bool
		reason    string
		wantEntry string
	}{
		{
			name:    "no filters matches everything",
			filters: Filters{},
			in:      input("anything", nil, nil),
			matched: true,
			reason:  ReasonNoFilters,
		},
		{
			name:      "event by id",
			filters:   Filters{Events: []Entry{{ID: "$identify"}, {ID: "$pageview"}}},
			in:        input("$pageview", nil, nil),
			matched:   true,
			reason:    ReasonEvent,
			wantEntry: "$pageview",
		},
		{
			name:      "event by name when id is empty",
			filters:   Filters{Events: []Entry{{Name: "signup"}}},
			in:        input("signup", nil, nil),
			matched:   true,
			reason:    ReasonEvent,
			wantEntry: "signup",
		},
		{
			name:    "event not listed",
			filters: Filters{Events: []Entry{{ID: "$identify"}, {ID: "$pageview"}}},
			in:      input("$autocapture", nil, nil),
			reason:  ReasonNoMatch,
		},
		{
			name:      "empty id matches any event",
			filters:   Filters{Events: []Entry{{ID: ""}}},
			in:        input("$autocapture", nil, nil),
			matched:   true,
			reason:    ReasonEvent,
			wantEntry: "",
		},
		{
			name:      "action predicate",
			filters:   Filters{Actions: []Entry{{ID: "a-1"}}},
			in:        input("purchase", map[string]interface{}{"revenue": 150}, nil),
			matched:   true,
			reason:    ReasonAction,
			wantEntry: "a-1",
		},
		{
			name:    "action predicate false",
			filters: Filters{Actions: []Entry{{ID: "a-1"}}},
			in:      input("purchase", map[string]interface{}{"revenue": 50}, nil),
			reason:  ReasonNoMatch,
		},
		{
			name:    "action predicate error is no match",
			filters: Filters{Actions: []Entry{{ID: "a-1"}}},
			in:      input("purchase", nil, nil),
			reason:  ReasonNoMatch,
		},
		{
			name:    "unknown action",
			filters: Filters{Actions: []Entry{{ID: "missing"}}},
			in:      input("purchase", nil, nil),
			reason:  ReasonNoMatch,
		},
		{
			name: "entry properties must match",
			filters: Filters{Events: []Entry{{
				ID:         "purchase",
				Properties: []PropertyFilter{{Key: "currency", Value: "EUR", Operator: OpExact}},
			}}},
			in:     input("purchase", map[string]interface{}{"currency": "USD"}, nil),
			reason: ReasonNoMatch,
		},
		{
			name:    "top level properties gate everything",
			filters: Filters{Properties: []PropertyFilter{{Key: "plan", Value: "pro", Type: PropertyTypePerson}}},
			in:      input("x", nil, map[string]interface{}{"plan": "free"}),
			reason:  ReasonProperties,
		},
		{
			name:    "top level properties pass with no entries",
			filters: Filters{Properties: []PropertyFilter{{Key: "plan", Value: "pro", Type: PropertyTypePerson}}},
			in:      input("x", nil, map[string]interface{}{"plan": "pro"}),
			matched: true,
			reason:  ReasonNoFilters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.Match(ctx, tt.filters, tt.in)
			assert.Equal(t, tt.matched, res.Matched)
			assert.Equal(t, tt.reason, res.Reason)
			if tt.matched && tt.reason != ReasonNoFilters {
				require.NotNil(t, res.Entry)
				assert.Equal(t, tt.wantEntry, res.Entry.ID+res.Entry.Name)
			}
		})
	}
}

func TestMatchFirstByOrder(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.SetActions([]Action{{ID: "any", Expression: `true`}}))

	f := Filters{
		Events: []Entry{
			{ID: "", Name: "late", Order: 2},
			{ID: "purchase", Order: 1},
		},
		Actions: []Entry{{ID: "any", Order: 1}},
	}
	res := m.Match(context.Background(), f, input("purchase", nil, nil))
	require.True(t, res.Matched)
	// order 1 ties keep events before actions
	assert.Equal(t, "purchase", res.Entry.ID)
	assert.Equal(t, EntryTypeEvents, res.Entry.Type)

	f.Events[1].Order = 3
	res = m.Match(context.Background(), f, input("purchase", nil, nil))
	require.True(t, res.Matched)
	assert.Equal(t, "any", res.Entry.ID)
	assert.Equal(t, EntryTypeActions, res.Entry.Type)
}

func TestMatchTestAccounts(t *testing.T) {
	m := newMatcher(t, `has(person.properties.email) && person.properties.email.endsWith("@acme.io")`)
	f := Filters{Events: []Entry{{ID: "$pageview"}}, FilterTestAccounts: true}

	internal := input("$pageview", nil, map[string]interface{}{"email": "dev@acme.io"})
	external := input("$pageview", nil, map[string]interface{}{"email": "jane@example.com"})

	res := m.Match(context.Background(), f, internal)
	assert.False(t, res.Matched)
	assert.Equal(t, ReasonTestAccount, res.Reason)

	assert.True(t, m.Match(context.Background(), f, external).Matched)

	f.FilterTestAccounts = false
	assert.True(t, m.Match(context.Background(), f, internal).Matched)
}

func TestPropertyOperators(t *testing.T) {
	m := newMatcher(t)
	props := map[string]interface{}{
		"email":   "Jane@Example.com",
		"revenue": 42.5,
		"count":   3,
		"plan":    "pro",
		"empty":   nil,
	}
	in := input("x", props, nil)

	tests := []struct {
		name   string
		filter PropertyFilter
		want   bool
	}{
		{"exact", PropertyFilter{Key: "plan", Value: "pro"}, true},
		{"exact list", PropertyFilter{Key: "plan", Value: []interface{}{"free", "pro"}, Operator: OpExact}, true},
		{"exact number", PropertyFilter{Key: "count", Value: 3, Operator: OpExact}, true},
		{"exact missing", PropertyFilter{Key: "nope", Value: "pro", Operator: OpExact}, false},
		{"is_not", PropertyFilter{Key: "plan", Value: "free", Operator: OpIsNot}, true},
		{"is_not same", PropertyFilter{Key: "plan", Value: "pro", Operator: OpIsNot}, false},
		{"is_not missing", PropertyFilter{Key: "nope", Value: "pro", Operator: OpIsNot}, true},
		{"icontains", PropertyFilter{Key: "email", Value: "example.COM", Operator: OpIContains}, true},
		{"not_icontains", PropertyFilter{Key: "email", Value: "acme", Operator: OpNotIContains}, true},
		{"regex", PropertyFilter{Key: "email", Value: `^[A-Z]\w+@`, Operator: OpRegex}, true},
		{"not_regex", PropertyFilter{Key: "email", Value: `acme`, Operator: OpNotRegex}, true},
		{"invalid regex", PropertyFilter{Key: "email", Value: `(`, Operator: OpRegex}, false},
		{"gt", PropertyFilter{Key: "revenue", Value: 40, Operator: OpGT}, true},
		{"gt string value", PropertyFilter{Key: "revenue", Value: "50", Operator: OpGT}, false},
		{"lt", PropertyFilter{Key: "count", Value: 10, Operator: OpLT}, true},
		{"gt not numeric", PropertyFilter{Key: "plan", Value: 1, Operator: OpGT}, false},
		{"is_set", PropertyFilter{Key: "plan", Operator: OpIsSet}, true},
		{"is_set null", PropertyFilter{Key: "empty", Operator: OpIsSet}, false},
		{"is_not_set", PropertyFilter{Key: "nope", Operator: OpIsNotSet}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.propertiesMatch([]PropertyFilter{tt.filter}, in))
		})
	}
}

func TestSetActionsReportsInvalid(t *testing.T) {
	m := newMatcher(t)
	err := m.SetActions([]Action{
		{ID: "ok", Expression: `event.name == "a"`},
		{ID: "bad", Expression: `event.name`},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")

	_, ok := m.action("ok")
	assert.True(t, ok)
	_, ok = m.action("bad")
	assert.False(t, ok)
}

func TestNewMatcherRejectsInvalidTestAccountFilter(t *testing.T) {
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)
	_, err = NewMatcher(eval, []string{`person.`}, logger.NopLogger())
	assert.Error(t, err)
}

func TestFiltersValidate(t *testing.T) {
	tests := []struct {
		name     string
		filters  Filters
		problems int
	}{
		{name: "empty", filters: Filters{}},
		{name: "events", filters: Filters{Events: []Entry{{ID: "$identify", Type: "events"}}}},
		{
			name:     "action without id",
			filters:  Filters{Actions: []Entry{{Name: "x"}}},
			problems: 1,
		},
		{
			name:     "wrong entry type",
			filters:  Filters{Events: []Entry{{ID: "x", Type: "actions"}}},
			problems: 1,
		},
		{
			name: "every property problem is reported",
			filters: Filters{Properties: []PropertyFilter{
				{Key: "", Operator: "between"},
				{Key: "a", Operator: OpRegex, Value: "("},
				{Key: "b", Type: "group"},
			}},
			problems: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, tt.filters.Validate(), tt.problems)
		})
	}
}
