package hog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, s string) Value {
	t.Helper()
	v, err := ParseJSON([]byte(s))
	require.NoError(t, err)
	return v
}

func execute(t *testing.T, src string, g Globals, opts Options) (*Result, error) {
	t.Helper()
	prog, err := Compile(src)
	require.NoError(t, err)
	return Execute(context.Background(), prog, g, opts)
}

func TestExecuteReturnsValues(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{name: "integer arithmetic", src: "return 1 + 2 * 3", want: "7"},
		{name: "division is float", src: "return 7 / 2", want: "3.5"},
		{name: "modulo", src: "return 10 % 3", want: "1"},
		{name: "mixed arithmetic", src: "return 1 + 0.5", want: "1.5"},
		{name: "unary minus", src: "return -(2 + 3)", want: "-5"},
		{name: "string concatenation", src: "return 'a' + 'b'", want: "ab"},
		{name: "f-string", src: "return f'x{1 + 1}y{null}z'", want: "x2yz"},
		{name: "tuple index", src: "return (1, 2).2", want: "2"},
		{name: "negative index", src: "let a := [1, 2, 3]\nreturn a[-1]", want: "3"},
		{name: "out of range index", src: "return [1, 2][5]", want: "null"},
		{name: "nested dict access", src: "return {'a': {'b': 1}}.a.b", want: "1"},
		{name: "missing nested key", src: "return {'a': {}}.a.b.c", want: "null"},
		{name: "null safe access", src: "let x := null\nreturn x?.y", want: "null"},
		{name: "ternary", src: "return 1 > 2 ? 'yes' : 'no'", want: "no"},
		{name: "nested ternary", src: "return true ? false ? 1 : 2 : 3", want: "2"},
		{name: "nullish", src: "return null ?? 'd'", want: "d"},
		{name: "like", src: "return 'abc' like 'a%'", want: "true"},
		{name: "ilike", src: "return 'ABC' ilike 'a_c'", want: "true"},
		{name: "not like", src: "return 'abc' not like 'x%'", want: "true"},
		{name: "regex", src: "return 'abc' =~ '^a.c$'", want: "true"},
		{name: "list membership", src: "return 2 in [1, 2]", want: "true"},
		{name: "dict membership", src: "return 'x' in {'x': 1}", want: "true"},
		{name: "substring membership", src: "return 'b' not in 'abc'", want: "false"},
		{name: "null membership", src: "return 1 in null", want: "false"},
		{name: "null ordering", src: "return null < 1", want: "false"},
		{name: "single equals", src: "return 1 = 1.0", want: "true"},
		{name: "and or", src: "return (1 and 0) or 'x'", want: "true"},
		{name: "not empty string", src: "return not empty('')", want: "false"},
		{
			name: "while loop",
			src:  "let i := 0\nlet s := 0\nwhile (i < 5) {\n    i := i + 1\n    s := s + i\n}\nreturn s",
			want: "15",
		},
		{
			name: "c style for loop",
			src:  "let s := 0\nfor (let i := 1; i <= 3; i := i + 1) {\n    s := s + i\n}\nreturn s",
			want: "6",
		},
		{
			name: "for in keeps insertion order",
			src:  "let out := ''\nfor (let k, v in {'b': 1, 'a': 2}) {\n    out := out + k + toString(v)\n}\nreturn out",
			want: "b1a2",
		},
		{
			name: "single variable for over dict yields values",
			src:  "let s := 0\nfor (let v in {'a': 1, 'b': 2}) {\n    s := s + v\n}\nreturn s",
			want: "3",
		},
		{
			name: "for over null does nothing",
			src:  "let s := 0\nfor (let k, v in null) {\n    s := 1\n}\nreturn s",
			want: "0",
		},
		{
			name: "break and continue",
			src:  "let s := 0\nfor (let v in [1, 2, 3, 4]) {\n    if (v == 2) { continue }\n    if (v == 4) { break }\n    s := s + v\n}\nreturn s",
			want: "4",
		},
		{
			name: "recursion",
			src:  "fun fib(n) {\n    if (n < 2) { return n }\n    return fib(n - 1) + fib(n - 2)\n}\nreturn fib(10)",
			want: "55",
		},
		{
			name: "closures",
			src:  "fun counter() {\n    let c := 0\n    fun inc() {\n        c := c + 1\n        return c\n    }\n    return inc\n}\nlet f := counter()\nf()\nreturn f()",
			want: "2",
		},
		{
			name: "block scoping",
			src:  "let a := 1\nif (true) {\n    let a := 2\n}\nreturn a",
			want: "1",
		},
		{
			name: "assignment into nested dict",
			src:  "let d := {'a': {}}\nd.a.b := 1\nd['a']['c'] := 2\nreturn d",
			want: "{'a': {'b': 1, 'c': 2}}",
		},
		{
			name: "loop over a snapshot",
			src:  "let l := [1, 2]\nfor (let v in l) {\n    l := arrayPushBack(l, v)\n}\nreturn length(l)",
			want: "4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := execute(t, tt.src, Globals{}, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Value.String())
		})
	}
}

func TestExecuteErrors(t *testing.T) {
	globals := Globals{
		Event:  mustJSON(t, `{"name": "$pageview", "properties": {}}`),
		Inputs: mustJSON(t, `{"present": 1}`),
	}

	tests := []struct {
		name string
		src  string
		want *Error
	}{
		{name: "unknown variable", src: "return x", want: ErrUndefinedVariable},
		{name: "missing input", src: "return inputs.missing", want: ErrUndefinedVariable},
		{name: "missing event field", src: "return event.nope", want: ErrUndefinedVariable},
		{name: "assign undeclared", src: "y := 1", want: ErrUndefinedVariable},
		{name: "unknown function", src: "nope()", want: ErrUndefinedVariable},
		{name: "index a string", src: "return 'abc'[1]", want: ErrTypeMismatch},
		{name: "add dict and int", src: "return {} + 1", want: ErrTypeMismatch},
		{name: "modify a tuple", src: "let t := (1, 2)\nt[1] := 3", want: ErrTypeMismatch},
		{name: "iterate a string", src: "for (let c in 'abc') { }", want: ErrTypeMismatch},
		{name: "compare int and string", src: "return 1 < 'a'", want: ErrTypeMismatch},
		{name: "call a number", src: "let n := 1\nn()", want: ErrTypeMismatch},
		{name: "division by zero", src: "return 1 / 0", want: ErrRuntime},
		{name: "timestamp out of range", src: "return toDateTime(1e300)", want: ErrRuntime},
		{name: "zero index", src: "return [1][0]", want: ErrRuntime},
		{name: "bad builtin arity", src: "return lower()", want: ErrRuntime},
		{name: "break outside loop", src: "break", want: ErrRuntime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := execute(t, tt.src, globals, Options{})
			require.Error(t, err)
			require.NotNil(t, res)
			assert.True(t, errors.Is(err, tt.want), "expected %s, got %v", tt.want.Kind, err)
		})
	}
}

func TestExecuteLimits(t *testing.T) {
	t.Run("step limit", func(t *testing.T) {
		res, err := execute(t, "while (true) { }", Globals{}, Options{MaxSteps: 1000})
		require.Error(t, err)
		assert.Equal(t, ExecutionLimitExceeded, KindOf(err))
		assert.Equal(t, 1000, res.Steps-1)
	})

	t.Run("call depth", func(t *testing.T) {
		_, err := execute(t, "fun f() { return f() }\nf()", Globals{}, Options{MaxCallDepth: 10})
		require.Error(t, err)
		assert.Equal(t, ExecutionLimitExceeded, KindOf(err))
	})

	t.Run("string length", func(t *testing.T) {
		src := "let s := 'ab'\nwhile (true) {\n    s := s + s\n}"
		_, err := execute(t, src, Globals{}, Options{MaxStringLength: 1024})
		require.Error(t, err)
		assert.Equal(t, ExecutionLimitExceeded, KindOf(err))
	})

	t.Run("timeout", func(t *testing.T) {
		_, err := execute(t, "while (true) { }", Globals{}, Options{MaxSteps: 1 << 40, Timeout: 20 * time.Millisecond})
		require.Error(t, err)
		assert.Equal(t, ExecutionTimeout, KindOf(err))
	})

	t.Run("cancelled before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Execute(ctx, MustCompile("return 1"), Globals{}, Options{})
		require.Error(t, err)
		assert.Equal(t, Cancelled, KindOf(err))
	})

	t.Run("log limit", func(t *testing.T) {
		res, err := execute(t, "for (let i := 0; i < 10; i := i + 1) { print(i) }", Globals{}, Options{MaxLogEntries: 3})
		require.NoError(t, err)
		assert.Len(t, res.Logs, 3)
		assert.Equal(t, 7, res.DroppedLogs)
	})
}

func TestSelfReferencingValues(t *testing.T) {
	setups := map[string]string{
		"dict":     "let d := {}\nd.self := d\n",
		"list":     "let d := [1]\nd[1] := d\n",
		"indirect": "let d := {}\nlet other := {'d': d}\nd.other := other\n",
	}
	uses := []string{
		"print(d)",
		"return d == d",
		"return indexOf([d], d)",
		"return jsonStringify(d)",
		"return toString(d)",
		"return f'{d}'",
		"return concat('x', d)",
		"return d",
		"fetch('https://example.com', {'method': 'POST', 'body': d})",
	}

	for name, setup := range setups {
		for _, use := range uses {
			t.Run(name+"/"+use, func(t *testing.T) {
				res, err := execute(t, setup+use, Globals{}, Options{})
				require.Error(t, err)
				assert.Equal(t, ExecutionLimitExceeded, KindOf(err))
				assert.Empty(t, res.Logs)
				assert.Empty(t, res.Fetches)
			})
		}
	}
}

func TestSharedValuesAreChargedPerVisit(t *testing.T) {
	// Each round doubles the printed size of l while adding one list to the heap.
	grow := func(rounds int) string {
		return fmt.Sprintf("let l := ['abcdefgh']\nfor (let i := 0; i < %d; i := i + 1) { l := [l, l] }\n", rounds)
	}

	tests := []struct {
		name string
		src  string
		opts Options
		want ErrorKind
	}{
		{name: "equality", src: grow(30) + "return l == l", opts: Options{MaxSteps: 10_000}, want: ExecutionLimitExceeded},
		{name: "membership", src: grow(30) + "return l in [l]", opts: Options{MaxSteps: 10_000}, want: ExecutionLimitExceeded},
		{name: "json", src: grow(30) + "return jsonStringify(l)", opts: Options{MaxSteps: 10_000}, want: ExecutionLimitExceeded},
		{name: "result", src: grow(30) + "return l", opts: Options{MaxSteps: 10_000}, want: ExecutionLimitExceeded},
		{name: "secret taint", src: grow(30) + "return arrayPushBack(l, inputs.token)", opts: Options{MaxSteps: 10_000}, want: ExecutionLimitExceeded},
		{name: "print length", src: grow(12) + "print(l)", opts: Options{MaxStringLength: 1000}, want: ExecutionLimitExceeded},
		{name: "json length", src: grow(12) + "return jsonStringify(l)", opts: Options{MaxStringLength: 1000}, want: ExecutionLimitExceeded},
		{name: "timeout", src: grow(60) + "return l == l", opts: Options{MaxSteps: 1 << 40, Timeout: 20 * time.Millisecond}, want: ExecutionTimeout},
	}

	inputs := NewMap()
	inputs.Set("token", SecretString("supersecret"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			started := time.Now()
			res, err := execute(t, tt.src, Globals{Inputs: MapValue(inputs)}, tt.opts)
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
			assert.Empty(t, res.Logs)
			assert.Less(t, time.Since(started), 5*time.Second)
		})
	}
}

func TestGlobalsAreNeverMutated(t *testing.T) {
	event := mustJSON(t, `{"name": "x", "properties": {"a": 1}}`)
	g := Globals{Event: event, Person: mustJSON(t, `{"properties": {}}`), Inputs: mustJSON(t, `{}`)}

	src := `
event.properties.a := 2
let p := event.properties
p.b := 3
person.properties.c := 4
return event.properties.a`

	res, err := execute(t, src, g, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Value.Int())

	props := event.Get("properties").Map()
	v, _ := props.Get("a")
	assert.Equal(t, int64(1), v.Int())
	assert.False(t, props.Has("b"))
	assert.False(t, g.Person.Get("properties").Map().Has("c"))

	// Same globals, second run: isolation between executions.
	res, err = execute(t, "return event.properties.a", g, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Value.Int())
}

func TestPrintGoesToExecutionLog(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var streamed []LogEntry
	res, err := execute(t, "print('hello', 1, [1, 'a'], {'k': null})\nreturn", Globals{}, Options{
		Now: func() time.Time { return now },
		Log: func(e LogEntry) { streamed = append(streamed, e) },
	})
	require.NoError(t, err)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, "hello 1 [1, 'a'] {'k': null}", res.Logs[0].Message)
	assert.Equal(t, "info", res.Logs[0].Level)
	assert.Equal(t, now, res.Logs[0].Timestamp)
	assert.Equal(t, res.Logs, streamed)
}

func TestSecretsAreRedacted(t *testing.T) {
	inputs := NewMap()
	inputs.Set("token", SecretString("supersecret"))
	inputs.Set("site", StringValue("abc"))
	g := Globals{Inputs: MapValue(inputs)}

	src := `
print('token', inputs.token)
print(f'Bearer {inputs.token}')
print(base64Encode(inputs.token))
print({'auth': inputs.token, 'site': inputs.site})
return inputs.token + 1`

	res, err := execute(t, src, g, Options{})
	require.Error(t, err)
	assert.Equal(t, TypeMismatch, KindOf(err))
	assert.NotContains(t, err.Error(), "supersecret")

	require.Len(t, res.Logs, 4)
	assert.Equal(t, "token ***", res.Logs[0].Message)
	assert.Equal(t, "Bearer ***", res.Logs[1].Message)
	assert.Equal(t, "***", res.Logs[2].Message)
	assert.Equal(t, "{'auth': '***', 'site': 'abc'}", res.Logs[3].Message)
	for _, l := range res.Logs {
		assert.NotContains(t, l.Message, "supersecret")
	}
}

func TestNowUsesInjectedClock(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := Options{Now: func() time.Time { return now }}

	first, err := execute(t, "return toUnixTimestamp(now())", Globals{}, opts)
	require.NoError(t, err)
	second, err := execute(t, "return toUnixTimestamp(now())", Globals{}, opts)
	require.NoError(t, err)

	assert.Equal(t, float64(1704067200), first.Value.Float())
	assert.True(t, first.Value.Equal(second.Value))
}

func TestStrictGlobalsCanBeShadowed(t *testing.T) {
	g := Globals{Inputs: mustJSON(t, `{"a": 1}`)}
	res, err := execute(t, "fun f(inputs) { return inputs.missing }\nreturn f({})", g, Options{})
	require.NoError(t, err)
	assert.True(t, res.Value.IsNull())
}

func TestErrorMessagesCarryPositions(t *testing.T) {
	_, err := execute(t, "let a := 1\n\nreturn a + 'x'", Globals{}, Options{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "line 3"), err.Error())
}
