package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFilterExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	valid := []string{
		`event.name == "$pageview"`,
		`person.properties.email.endsWith("@example.com")`,
		`event.properties.tags.exists(t, t == "beta")`,
	}
	for _, expr := range valid {
		assert.NoError(t, eval.ValidateFilterExpression(expr), expr)
	}

	invalid := map[string]string{
		"not a boolean":      `event.name`,
		"syntax":             `event.name ==`,
		"undeclared payload": `payload.status == "active"`,
	}
	for name, expr := range invalid {
		assert.Error(t, eval.ValidateFilterExpression(expr), name)
	}
}

func TestExamplesCompile(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, ex := range Examples {
		t.Run(ex.Name, func(t *testing.T) {
			assert.False(t, seen[ex.Name], "duplicate example name")
			seen[ex.Name] = true
			assert.NotEmpty(t, ex.Description)
			assert.NoError(t, eval.ValidateFilterExpression(ex.Expression))
		})
	}
	assert.Empty(t, ExampleExpression("missing"))
}

func TestEvaluateFilter(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	ctx := context.Background()
	act := Activation{
		Event: map[string]interface{}{
			"name":        "purchase",
			"distinct_id": "d-1",
			"properties": map[string]interface{}{
				"currency":     "EUR",
				"revenue":      int64(150),
				"$current_url": "https://shop.example.com/cart",
			},
		},
		Person: map[string]interface{}{
			"properties": map[string]interface{}{
				"email": "Jane@ACME.io",
			},
		},
	}

	tests := []struct {
		name      string
		expr      string
		want      bool
		wantError bool
	}{
		{name: "event name", expr: ExampleExpression("combined"), want: true},
		{name: "event name false", expr: ExampleExpression("event_name"), want: false},
		{name: "numeric threshold", expr: ExampleExpression("numeric_threshold"), want: true},
		{name: "url prefix", expr: ExampleExpression("url_prefix"), want: true},
		{name: "person email", expr: ExampleExpression("internal_user"), want: true},
		{name: "missing property guarded", expr: ExampleExpression("property_present"), want: false},
		{name: "missing property unguarded", expr: `event.properties.plan == "pro"`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eval.EvaluateFilter(ctx, tt.expr, act)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, result)
			}
		})
	}
}

func TestCompileCachesPrograms(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	a, err := eval.Compile(`event.name == "x"`)
	require.NoError(t, err)
	b, err := eval.Compile(`event.name == "x"`)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, `event.name == "x"`, a.Expression())
}

func TestEvaluateWithEmptyActivation(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	ok, err := eval.EvaluateFilter(context.Background(), `size(person) == 0`, Activation{})
	require.NoError(t, err)
	assert.True(t, ok)
}
