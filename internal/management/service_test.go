package management

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hogflow/internal/config"
	"hogflow/internal/destinations"
	"hogflow/internal/logger"
	"hogflow/internal/templates"
	pkgerrors "hogflow/pkg/errors"
	"hogflow/pkg/hog"
	"hogflow/pkg/models"
)

const testToken = "tok-secret-123"

type fakeRepository struct {
	mu        sync.Mutex
	seq       int
	functions map[string]destinations.Function
	actions   map[string]Action
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{functions: map[string]destinations.Function{}, actions: map[string]Action{}}
}

func (r *fakeRepository) nextID(prefix string) string {
	r.seq++
	return fmt.Sprintf("%s-%d", prefix, r.seq)
}

func copyFunction(fn destinations.Function) *destinations.Function {
	inputs := make(map[string]hog.Value, len(fn.Inputs))
	for k, v := range fn.Inputs {
		inputs[k] = v
	}
	fn.Inputs = inputs
	return &fn
}

func (r *fakeRepository) CreateFunction(_ context.Context, fn *destinations.Function) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.functions {
		if existing.Name == fn.Name {
			return pkgerrors.ErrConflict.WithMessage("duplicate name")
		}
	}
	fn.ID = r.nextID("fn")
	fn.CreatedAt = time.Now().UTC()
	fn.UpdatedAt = fn.CreatedAt
	r.functions[fn.ID] = *copyFunction(*fn)
	return nil
}

func (r *fakeRepository) ListFunctions(context.Context) ([]destinations.Function, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]destinations.Function, 0, len(r.functions))
	for _, fn := range r.functions {
		out = append(out, *copyFunction(fn))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepository) GetFunction(_ context.Context, id string) (*destinations.Function, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.functions[id]
	if !ok {
		return nil, fmt.Errorf("function %w", errNotFound)
	}
	return copyFunction(fn), nil
}

func (r *fakeRepository) UpdateFunction(_ context.Context, fn *destinations.Function) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.functions[fn.ID]; !ok {
		return fmt.Errorf("function %w", errNotFound)
	}
	r.functions[fn.ID] = *copyFunction(*fn)
	return nil
}

func (r *fakeRepository) DeleteFunction(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.functions[id]; !ok {
		return fmt.Errorf("function %w", errNotFound)
	}
	delete(r.functions, id)
	return nil
}

func (r *fakeRepository) CreateAction(_ context.Context, action *Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	action.ID = r.nextID("action")
	r.actions[action.ID] = *action
	return nil
}

func (r *fakeRepository) ListActions(context.Context) ([]Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Action, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a)
	}
	return out, nil
}

func (r *fakeRepository) GetAction(_ context.Context, id string) (*Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[id]
	if !ok {
		return nil, fmt.Errorf("action %w", errNotFound)
	}
	return &a, nil
}

func (r *fakeRepository) UpdateAction(_ context.Context, action *Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[action.ID]; !ok {
		return fmt.Errorf("action %w", errNotFound)
	}
	r.actions[action.ID] = *action
	return nil
}

func (r *fakeRepository) DeleteAction(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[id]; !ok {
		return fmt.Errorf("action %w", errNotFound)
	}
	delete(r.actions, id)
	return nil
}

type fakeTemplateRepository struct {
	templates map[string]templates.Template
}

func (r *fakeTemplateRepository) CreateTemplate(_ context.Context, t *templates.Template) error {
	if _, ok := r.templates[t.ID]; ok {
		return pkgerrors.ErrConflict
	}
	r.templates[t.ID] = *t
	return nil
}

func (r *fakeTemplateRepository) ListTemplates(context.Context) ([]templates.Template, error) {
	out := make([]templates.Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	return out, nil
}

func (r *fakeTemplateRepository) GetTemplate(_ context.Context, id string) (*templates.Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %w", errNotFound)
	}
	return &t, nil
}

func (r *fakeTemplateRepository) UpdateTemplate(_ context.Context, t *templates.Template) error {
	if _, ok := r.templates[t.ID]; !ok {
		return fmt.Errorf("template %w", errNotFound)
	}
	r.templates[t.ID] = *t
	return nil
}

func (r *fakeTemplateRepository) DeleteTemplate(_ context.Context, id string) error {
	if _, ok := r.templates[id]; !ok {
		return fmt.Errorf("template %w", errNotFound)
	}
	delete(r.templates, id)
	return nil
}

// fakeHistory keeps changes in memory. Listings are newest first like the
// postgres repository.
type fakeHistory struct {
	versions []Version
	entries  []AuditEntry
}

func (h *fakeHistory) Record(_ context.Context, change Change) (*AuditEntry, error) {
	entry := AuditEntry{
		ID:         fmt.Sprintf("audit-%d", len(h.entries)+1),
		EntityID:   change.EntityID,
		EntityType: change.EntityType,
		Action:     change.Action,
		Before:     change.Before,
		ChangedBy:  change.ChangedBy,
		ClientIP:   change.ClientIP,
		Timestamp:  time.Now(),
	}
	if change.After != nil {
		snap, after, err := snapshot(change.After)
		if err != nil {
			return nil, err
		}
		entry.After = after
		entry.Version = 1
		for _, v := range h.versions {
			if v.EntityID == change.EntityID && v.Number >= entry.Version {
				entry.Version = v.Number + 1
			}
		}
		h.versions = append(h.versions, Version{
			EntityID:   change.EntityID,
			EntityType: change.EntityType,
			Number:     entry.Version,
			Snapshot:   snap,
			ChangedBy:  change.ChangedBy,
			CreatedAt:  entry.Timestamp,
		})
	}
	h.entries = append(h.entries, entry)
	return &entry, nil
}

func (h *fakeHistory) Versions(_ context.Context, entityID string) ([]Version, error) {
	out := make([]Version, 0)
	for i := len(h.versions) - 1; i >= 0; i-- {
		if h.versions[i].EntityID == entityID {
			out = append(out, h.versions[i])
		}
	}
	return out, nil
}

func (h *fakeHistory) Version(_ context.Context, entityID string, number int) (*Version, error) {
	for _, v := range h.versions {
		if v.EntityID == entityID && v.Number == number {
			return &v, nil
		}
	}
	return nil, nil
}

func (h *fakeHistory) AuditEntries(_ context.Context, filter AuditFilter) ([]AuditEntry, error) {
	out := make([]AuditEntry, 0)
	for i := len(h.entries) - 1; i >= 0 && len(out) < filter.Limit; i-- {
		e := h.entries[i]
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (h *fakeHistory) last(t *testing.T) AuditEntry {
	t.Helper()
	require.NotEmpty(t, h.entries)
	return h.entries[len(h.entries)-1]
}

type fakeProducer struct {
	mu   sync.Mutex
	sent []models.MessageEnvelope
}

func (p *fakeProducer) Publish(_ context.Context, _ string, msg models.MessageEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) last(t *testing.T) models.MessageEnvelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.sent)
	return p.sent[len(p.sent)-1]
}

type fakeInvocationLog struct {
	query   destinations.InvocationQuery
	results []models.InvocationResult
}

func (l *fakeInvocationLog) List(_ context.Context, q destinations.InvocationQuery) ([]models.InvocationResult, error) {
	l.query = q
	return l.results, nil
}

type fixture struct {
	svc         Service
	repo        *fakeRepository
	templates   *fakeTemplateRepository
	history     *fakeHistory
	producer    *fakeProducer
	invocations *fakeInvocationLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := templates.NewRegistry()
	require.NoError(t, templates.LoadBuiltins(registry))
	validator, err := NewValidator()
	require.NoError(t, err)

	f := &fixture{
		repo:        newFakeRepository(),
		templates:   &fakeTemplateRepository{templates: map[string]templates.Template{}},
		history:     &fakeHistory{},
		producer:    &fakeProducer{},
		invocations: &fakeInvocationLog{},
	}
	f.svc = NewService(f.repo, registry, validator,
		WithHistory(f.history),
		WithTemplateStore(f.templates),
		WithConfigEvents(NewConfigEventProducer(f.producer, "config-updates")),
		WithInvocationLog(f.invocations),
		WithTestInvocations(destinations.NewExecutor(config.HogConfig{}, logger.NopLogger()), nil, ""),
	)
	return f
}

func customerIORequest() CreateHogFunctionRequest {
	return CreateHogFunctionRequest{
		Name:       "Customer.io production",
		TemplateID: "template-customerio",
		Inputs: map[string]hog.Value{
			"site_id":    hog.StringValue("site-1"),
			"token":      hog.StringValue(testToken),
			"attributes": hog.MapValue(hog.NewMap()),
		},
	}
}

func TestCreateFunction(t *testing.T) {
	f := newFixture(t)
	ctx := WithUser(context.Background(), "user-1")

	created, err := f.svc.CreateFunction(ctx, customerIORequest())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "template-customerio", created.TemplateID)
	assert.True(t, created.Enabled)
	assert.NotEmpty(t, created.Hog, "script is copied from the template")
	assert.Len(t, created.Filters.Events, 2, "filters default to the template's")
	assert.Equal(t, "site-1", created.Inputs["site_id"].Str())
	assert.True(t, isSecretPlaceholder(created.Inputs["token"]))

	stored, err := f.repo.GetFunction(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, testToken, stored.Inputs["token"].Str())

	require.Len(t, f.history.versions, 1)
	v := f.history.versions[0]
	assert.Equal(t, EntityFunction, v.EntityType)
	assert.Equal(t, 1, v.Number)
	assert.Equal(t, "user-1", v.ChangedBy)
	assert.NotContains(t, string(v.Snapshot), testToken)

	require.Len(t, f.history.entries, 1)
	assert.Equal(t, models.ActionCreate, f.history.entries[0].Action)
	assert.Equal(t, 1, f.history.entries[0].Version)
	assert.Nil(t, f.history.entries[0].Before)

	env := f.producer.last(t)
	assert.Equal(t, models.EventTypeHogFunctionUpdated, env.Payload["event_type"])
	assert.Equal(t, models.ActionCreate, env.Payload["action"])
	assert.Equal(t, created.ID, env.Payload["entity_id"])
	eventType, ok := env.Metadata.Attribute("event_type")
	assert.True(t, ok)
	assert.Equal(t, models.EventTypeHogFunctionUpdated, eventType)
}

func TestCreateFunctionValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*CreateHogFunctionRequest)
		status int
	}{
		{
			name:   "unknown template",
			modify: func(r *CreateHogFunctionRequest) { r.TemplateID = "template-missing" },
			status: http.StatusBadRequest,
		},
		{
			name:   "missing required secret",
			modify: func(r *CreateHogFunctionRequest) { delete(r.Inputs, "token") },
			status: http.StatusBadRequest,
		},
		{
			name:   "undeclared input",
			modify: func(r *CreateHogFunctionRequest) { r.Inputs["extra"] = hog.StringValue("x") },
			status: http.StatusBadRequest,
		},
		{
			name: "script does not compile",
			modify: func(r *CreateHogFunctionRequest) {
				broken := "let x := "
				r.Hog = &broken
			},
			status: http.StatusBadRequest,
		},
		{
			name: "placeholder does not parse",
			modify: func(r *CreateHogFunctionRequest) {
				r.Inputs["site_id"] = hog.StringValue("{event.name ==}")
			},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := customerIORequest()
			tt.modify(&req)

			_, err := f.svc.CreateFunction(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tt.status, pkgerrors.ToHTTPStatus(err))
			assert.Empty(t, f.repo.functions)
			assert.Empty(t, f.producer.sent)
		})
	}
}

func TestCreateFunctionDuplicateName(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateFunction(context.Background(), customerIORequest())
	require.NoError(t, err)

	_, err = f.svc.CreateFunction(context.Background(), customerIORequest())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestUpdateFunction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateFunction(ctx, customerIORequest())
	require.NoError(t, err)

	t.Run("secret placeholder keeps the stored value", func(t *testing.T) {
		name := "Customer.io staging"
		updated, err := f.svc.UpdateFunction(ctx, created.ID, UpdateHogFunctionRequest{
			Name: &name,
			Inputs: map[string]hog.Value{
				"site_id":    hog.StringValue("site-2"),
				"token":      secretPlaceholder(),
				"attributes": hog.MapValue(hog.NewMap()),
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "Customer.io staging", updated.Name)
		assert.True(t, isSecretPlaceholder(updated.Inputs["token"]))

		stored, err := f.repo.GetFunction(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "site-2", stored.Inputs["site_id"].Str())
		assert.Equal(t, testToken, stored.Inputs["token"].Str())

		assert.Equal(t, models.ActionUpdate, f.producer.last(t).Payload["action"])
		last := f.history.last(t)
		assert.Equal(t, "Customer.io production", last.Before["name"])
		assert.Equal(t, "Customer.io staging", last.After["name"])
	})

	t.Run("enabled alone is a toggle", func(t *testing.T) {
		disabled := false
		updated, err := f.svc.UpdateFunction(ctx, created.ID, UpdateHogFunctionRequest{Enabled: &disabled})
		require.NoError(t, err)
		assert.False(t, updated.Enabled)
		assert.Equal(t, models.ActionToggle, f.producer.last(t).Payload["action"])
	})

	t.Run("invalid change is rejected", func(t *testing.T) {
		before := len(f.history.versions)
		_, err := f.svc.UpdateFunction(ctx, created.ID, UpdateHogFunctionRequest{
			Inputs: map[string]hog.Value{"site_id": hog.StringValue("x")},
		})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsValidation(err))
		assert.Len(t, f.history.versions, before)
	})

	t.Run("unknown function", func(t *testing.T) {
		_, err := f.svc.UpdateFunction(ctx, "missing", UpdateHogFunctionRequest{})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsNotFound(err))
	})

	versions, err := f.svc.ListVersions(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, 3, versions[0].Number, "newest first")

	v2, err := f.svc.GetVersion(ctx, created.ID, 2)
	require.NoError(t, err)
	assert.Contains(t, string(v2.Snapshot), "Customer.io staging")

	_, err = f.svc.GetVersion(ctx, created.ID, 9)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestDeleteFunction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateFunction(ctx, customerIORequest())
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteFunction(ctx, created.ID))
	_, err = f.svc.GetFunction(ctx, created.ID)
	assert.True(t, pkgerrors.IsNotFound(err))

	last := f.history.last(t)
	assert.Equal(t, models.ActionDelete, last.Action)
	assert.NotNil(t, last.Before)
	assert.Nil(t, last.After)
	assert.Zero(t, last.Version, "deletes add no version")
	assert.Equal(t, models.ActionDelete, f.producer.last(t).Payload["action"])

	err = f.svc.DeleteFunction(ctx, created.ID)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestListFunctionsMasksSecrets(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateFunction(context.Background(), customerIORequest())
	require.NoError(t, err)

	fns, err := f.svc.ListFunctions(context.Background())
	require.NoError(t, err)
	require.Len(t, fns, 1)
	assert.True(t, isSecretPlaceholder(fns[0].Inputs["token"]))
}

func customTemplate(id string) templates.Template {
	return templates.Template{
		Status: templates.StatusAlpha,
		ID:     id,
		Name:   "Webhook",
		Hog:    "fetch(inputs.url, {'method': 'POST', 'body': event})",
		InputsSchema: []templates.InputSchema{
			{Key: "url", Type: templates.TypeString, Required: true},
		},
	}
}

func TestTemplates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("builtin id is taken", func(t *testing.T) {
		_, err := f.svc.CreateTemplate(ctx, customTemplate("template-customerio"))
		require.Error(t, err)
		assert.True(t, pkgerrors.IsConflict(err))
	})

	t.Run("builtin flag cannot be set", func(t *testing.T) {
		tmpl := customTemplate("template-webhook")
		tmpl.Builtin = true
		_, err := f.svc.CreateTemplate(ctx, tmpl)
		assert.True(t, pkgerrors.IsValidation(err))
	})

	t.Run("invalid template", func(t *testing.T) {
		tmpl := customTemplate("template-webhook")
		tmpl.Hog = "fetch(inputs.undeclared)"
		_, err := f.svc.CreateTemplate(ctx, tmpl)
		assert.True(t, pkgerrors.IsValidation(err))
	})

	tmpl := customTemplate("template-webhook")
	tmpl.Description = "<b>Posts</b> events"
	created, err := f.svc.CreateTemplate(ctx, tmpl)
	require.NoError(t, err)
	assert.Equal(t, "Posts events", created.Description)

	list, err := f.svc.ListTemplates(ctx)
	require.NoError(t, err)
	ids := make([]string, len(list))
	for i, tm := range list {
		ids[i] = tm.ID
	}
	assert.Equal(t, []string{"template-customerio", "template-webhook"}, ids)

	t.Run("builtin templates are read-only", func(t *testing.T) {
		_, err := f.svc.UpdateTemplate(ctx, "template-customerio", customTemplate("x"))
		assert.Equal(t, http.StatusForbidden, pkgerrors.ToHTTPStatus(err))
		err = f.svc.DeleteTemplate(ctx, "template-customerio")
		assert.Equal(t, http.StatusForbidden, pkgerrors.ToHTTPStatus(err))
	})

	update := customTemplate("ignored")
	update.Name = "Webhook v2"
	updated, err := f.svc.UpdateTemplate(ctx, "template-webhook", update)
	require.NoError(t, err)
	assert.Equal(t, "template-webhook", updated.ID)
	assert.Equal(t, "Webhook v2", updated.Name)
	assert.Equal(t, models.EventTypeTemplateUpdated, f.producer.last(t).Payload["event_type"])

	fn, err := f.svc.CreateFunction(ctx, CreateHogFunctionRequest{
		Name:       "Hook",
		TemplateID: "template-webhook",
		Inputs:     map[string]hog.Value{"url": hog.StringValue("https://example.com/hook")},
	})
	require.NoError(t, err)
	assert.Equal(t, "template-webhook", fn.TemplateID)

	require.NoError(t, f.svc.DeleteTemplate(ctx, "template-webhook"))
	_, err = f.svc.GetTemplate(ctx, "template-webhook")
	assert.True(t, pkgerrors.IsNotFound(err))

	logs, err := f.svc.ListAuditEntries(ctx, AuditFilter{EntityType: EntityTemplate})
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAction(ctx, CreateActionRequest{Name: "Broken", Expression: "event.name =="})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))

	action, err := f.svc.CreateAction(ctx, CreateActionRequest{
		Name:       "Pro signups",
		Expression: `event.name == "signup" && event.properties.plan == "pro"`,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventTypeActionUpdated, f.producer.last(t).Payload["event_type"])

	expr := `event.name == "signup"`
	updated, err := f.svc.UpdateAction(ctx, action.ID, UpdateActionRequest{Expression: &expr})
	require.NoError(t, err)
	assert.Equal(t, expr, updated.Expression)
	assert.Equal(t, "Pro signups", updated.Name)

	empty := ""
	_, err = f.svc.UpdateAction(ctx, action.ID, UpdateActionRequest{Expression: &empty})
	assert.True(t, pkgerrors.IsValidation(err))

	list, err := f.svc.ListActions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, f.svc.DeleteAction(ctx, action.ID))
	_, err = f.svc.GetAction(ctx, action.ID)
	assert.True(t, pkgerrors.IsNotFound(err))

	logs, err := f.svc.ListAuditEntries(ctx, AuditFilter{EntityID: action.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "system", logs[0].ChangedBy)
}

func testEvent() map[string]interface{} {
	return map[string]interface{}{
		"uuid":        "e-1",
		"event":       "$identify",
		"distinct_id": "d-1",
		"timestamp":   "2024-01-01T00:00:00Z",
		"properties":  map[string]interface{}{},
	}
}

func TestTestInvocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateFunction(ctx, customerIORequest())
	require.NoError(t, err)
	published := len(f.producer.sent)

	t.Run("mocked fetches are returned masked", func(t *testing.T) {
		resp, err := f.svc.TestInvocation(ctx, created.ID, TestInvocationRequest{
			Event:  testEvent(),
			Person: map[string]interface{}{"id": "p-1", "properties": map[string]interface{}{"email": "a@b.com"}},
		})
		require.NoError(t, err)
		assert.Equal(t, models.InvocationSucceeded, resp.Result.Status)
		assert.Equal(t, "e-1", resp.Result.EventUUID)

		require.Len(t, resp.Requests, 1)
		req := resp.Requests[0]
		assert.Equal(t, "POST", req.Method)
		assert.Equal(t, "https://track.customer.io/api/v2/entity", req.URL)
		assert.Contains(t, req.Body, `"email":"a@b.com"`)
		for k, v := range req.Headers {
			if http.CanonicalHeaderKey(k) == "Authorization" {
				assert.Equal(t, hog.Mask, v)
			}
		}
	})

	t.Run("overrides are not saved", func(t *testing.T) {
		script := "print(inputs.token)"
		resp, err := f.svc.TestInvocation(ctx, created.ID, TestInvocationRequest{
			Event: testEvent(),
			Hog:   &script,
		})
		require.NoError(t, err)
		require.Len(t, resp.Result.Logs, 1)
		assert.NotContains(t, resp.Result.Logs[0].Message, testToken)
		assert.Empty(t, resp.Requests)

		stored, err := f.repo.GetFunction(ctx, created.ID)
		require.NoError(t, err)
		assert.NotEqual(t, script, stored.Hog)
	})

	t.Run("live fetches need a fetcher", func(t *testing.T) {
		mock := false
		_, err := f.svc.TestInvocation(ctx, created.ID, TestInvocationRequest{Event: testEvent(), MockFetches: &mock})
		assert.True(t, pkgerrors.IsValidation(err))
	})

	t.Run("invalid event", func(t *testing.T) {
		ev := testEvent()
		ev["timestamp"] = "yesterday"
		_, err := f.svc.TestInvocation(ctx, created.ID, TestInvocationRequest{Event: ev})
		assert.True(t, pkgerrors.IsValidation(err))
	})

	t.Run("unknown function", func(t *testing.T) {
		_, err := f.svc.TestInvocation(ctx, "missing", TestInvocationRequest{Event: testEvent()})
		assert.True(t, pkgerrors.IsNotFound(err))
	})

	assert.Len(t, f.producer.sent, published, "test invocations publish nothing")
}

func TestTestInvocationDisabled(t *testing.T) {
	registry := templates.NewRegistry()
	validator, err := NewValidator()
	require.NoError(t, err)
	svc := NewService(newFakeRepository(), registry, validator)

	_, err = svc.TestInvocation(context.Background(), "fn-1", TestInvocationRequest{Event: testEvent()})
	assert.Equal(t, http.StatusServiceUnavailable, pkgerrors.ToHTTPStatus(err))

	_, err = svc.ListVersions(context.Background(), "fn-1")
	assert.Equal(t, http.StatusServiceUnavailable, pkgerrors.ToHTTPStatus(err))
}

func TestListInvocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.CreateFunction(ctx, customerIORequest())
	require.NoError(t, err)
	f.invocations.results = []models.InvocationResult{{ID: "inv-1", FunctionID: created.ID, Status: models.InvocationFailed}}

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	results, err := f.svc.ListInvocations(ctx, created.ID, InvocationFilter{Status: models.InvocationFailed, Since: since, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, destinations.InvocationQuery{
		FunctionID: created.ID,
		Status:     models.InvocationFailed,
		Since:      since,
		Limit:      5,
	}, f.invocations.query)

	_, err = f.svc.ListInvocations(ctx, created.ID, InvocationFilter{Status: "exploded"})
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = f.svc.ListInvocations(ctx, "missing", InvocationFilter{})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestMergeInputs(t *testing.T) {
	schema := []templates.InputSchema{
		{Key: "token", Type: templates.TypeString, Secret: true},
		{Key: "name", Type: templates.TypeString},
	}
	current := map[string]hog.Value{"token": hog.StringValue("old"), "name": hog.StringValue("a")}

	merged := mergeInputs(schema, current, map[string]hog.Value{
		"token": secretPlaceholder(),
		"name":  secretPlaceholder(),
	})
	assert.Equal(t, "old", merged["token"].Str())
	assert.True(t, isSecretPlaceholder(merged["name"]), "only secret inputs keep their value")

	merged = mergeInputs(schema, current, map[string]hog.Value{"token": hog.StringValue("new")})
	assert.Equal(t, "new", merged["token"].Str())
	_, ok := merged["name"]
	assert.False(t, ok)

	masked := maskSecrets(schema, map[string]hog.Value{"token": hog.Null(), "name": hog.StringValue("a")})
	assert.True(t, masked["token"].IsNull(), "unset secrets stay null")
	assert.Equal(t, "a", masked["name"].Str())
}
