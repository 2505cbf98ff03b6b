package destinations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hogflow/internal/config"
	"hogflow/internal/fetch"
	"hogflow/internal/logger"
	"hogflow/internal/persons"
	"hogflow/pkg/hog"
	"hogflow/pkg/models"
)

func TestResolveInputs(t *testing.T) {
	e := NewExecutor(config.HogConfig{}, logger.NopLogger())
	identifiers := hog.NewMap()
	identifiers.Set("email", hog.StringValue("{person.properties.email}"))
	identifiers.Set("id", hog.StringValue("{event.distinct_id}"))
	inputs := customerIOInputs()
	inputs["identifiers"] = hog.MapValue(identifiers)
	inputs["token"] = hog.StringValue("{not a placeholder}")

	fn, err := e.Compile(customerIO(t, inputs))
	require.NoError(t, err)

	globals := hog.Globals{
		Event:  EventGlobals(models.Event{UUID: "e-1", Name: "$identify", DistinctID: "d-1", Timestamp: time.Unix(0, 0)}),
		Person: (&persons.Person{ID: "p-1", Properties: map[string]interface{}{"email": "a@b.com"}}).Value(""),
	}
	got, err := e.ResolveInputs(context.Background(), fn, globals)
	require.NoError(t, err)

	keys := got.Map().Keys()
	assert.Equal(t, []string{"site_id", "token", "host", "identifiers", "action", "include_all_properties", "attributes"}, keys)
	assert.Equal(t, "abc", got.Get("site_id").Str())
	assert.Equal(t, "{not a placeholder}", got.Get("token").Str(), "secrets are used literally")
	assert.Equal(t, "track.customer.io", got.Get("host").Str(), "defaults apply")
	assert.Equal(t, "a@b.com", got.Get("identifiers").Get("email").Str())
	assert.Equal(t, "d-1", got.Get("identifiers").Get("id").Str())
	assert.Equal(t, []string{"email", "id"}, got.Get("identifiers").Map().Keys())
	assert.Equal(t, "automatic", got.Get("action").Str())
}

func TestInvokeWithoutFetcher(t *testing.T) {
	e := NewExecutor(config.HogConfig{}, logger.NopLogger())
	fn, err := e.Compile(Function{ID: "fn", Name: "Fn", Hog: "fetch('https://example.com')", Enabled: true})
	require.NoError(t, err)

	res := e.Invoke(context.Background(), fn, hog.Globals{
		Event:  EventGlobals(models.Event{UUID: "e-1", Name: "x"}),
		Person: persons.Anonymous("d"),
	}, nil)
	assert.Equal(t, models.InvocationFailed, res.Status)
	assert.Equal(t, string(hog.FetchDenied), res.ErrorKind)
	assert.Equal(t, "e-1", res.EventUUID)
	assert.Equal(t, "x", res.EventName)
	require.Len(t, res.Fetches, 1)
}

func TestInvokeDryRun(t *testing.T) {
	e := NewExecutor(config.HogConfig{}, logger.NopLogger())
	fn, err := e.Compile(customerIO(t, customerIOInputs()))
	require.NoError(t, err)

	dry := fetch.NewDryRun()
	res := e.Invoke(context.Background(), fn, hog.Globals{
		Event:  EventGlobals(models.Event{UUID: "e-1", Name: "$identify", Timestamp: time.Unix(1704067200, 0)}),
		Person: (&persons.Person{ID: "p", Properties: map[string]interface{}{"email": "a@b.com"}}).Value(""),
	}, dry)

	assert.Equal(t, models.InvocationSucceeded, res.Status)
	reqs := dry.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "https://track.customer.io/api/v2/entity", reqs[0].URL)
	assert.Equal(t, "POST", reqs[0].Method)
}

func TestEventGlobals(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	v := EventGlobals(models.Event{
		UUID:       "e-1",
		Name:       "$pageview",
		DistinctID: "d-1",
		Timestamp:  ts,
		Properties: map[string]interface{}{"b": 1, "a": "x"},
	})
	assert.Equal(t, []string{"uuid", "name", "distinct_id", "timestamp", "url", "properties"}, v.Map().Keys())
	assert.Equal(t, "2024-01-01T11:00:00Z", v.Get("timestamp").Str())
	assert.True(t, v.Get("url").IsNull())
	assert.Equal(t, []string{"a", "b"}, v.Get("properties").Map().Keys())
}

func TestEncodeDecodeInputs(t *testing.T) {
	nested := hog.NewMap()
	nested.Set("z", hog.StringValue("1"))
	nested.Set("a", hog.StringValue("2"))
	inputs := map[string]hog.Value{
		"zeta":  hog.IntValue(1),
		"alpha": hog.BoolValue(true),
		"dict":  hog.MapValue(nested),
		"extra": hog.StringValue("x"),
	}

	data, err := EncodeInputs([]string{"zeta", "dict", "missing"}, inputs)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"dict":{"z":"1","a":"2"},"alpha":true,"extra":"x"}`, string(data))

	back, err := DecodeInputs(data)
	require.NoError(t, err)
	assert.Len(t, back, 4)
	assert.Equal(t, []string{"z", "a"}, back["dict"].Map().Keys())

	empty, err := DecodeInputs(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = DecodeInputs([]byte(`[1]`))
	assert.Error(t, err)
}

type fakePurgeStore struct {
	cutoff time.Time
	n      int64
	err    error
	calls  int
}

func (s *fakePurgeStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.calls++
	s.cutoff = cutoff
	return s.n, s.err
}

func TestPurger(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("purges past retention", func(t *testing.T) {
		store := &fakePurgeStore{n: 42}
		p := NewPurger(store, config.InvocationsConfig{RetentionDays: 7}, logger.NopLogger())
		p.now = func() time.Time { return now }

		n, err := p.Purge(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(42), n)
		assert.Equal(t, now.AddDate(0, 0, -7), store.cutoff)
	})

	t.Run("zero retention keeps everything", func(t *testing.T) {
		store := &fakePurgeStore{}
		p := NewPurger(store, config.InvocationsConfig{}, logger.NopLogger())
		n, err := p.Purge(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Zero(t, store.calls)
	})

	t.Run("store error", func(t *testing.T) {
		store := &fakePurgeStore{err: errors.New("down")}
		p := NewPurger(store, config.InvocationsConfig{RetentionDays: 1}, logger.NopLogger())
		_, err := p.Purge(context.Background())
		assert.Error(t, err)
	})

	t.Run("invalid schedule", func(t *testing.T) {
		p := NewPurger(&fakePurgeStore{}, config.InvocationsConfig{RetentionDays: 1, PurgeSchedule: "not a schedule"}, logger.NopLogger())
		assert.Error(t, p.Run(context.Background()))
	})
}
