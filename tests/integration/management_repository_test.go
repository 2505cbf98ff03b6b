package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hogflow/internal/destinations"
	"hogflow/internal/management"
	"hogflow/internal/templates"
	pkgerrors "hogflow/pkg/errors"
	"hogflow/pkg/hog"
)

func TestManagementRepository_FunctionLifecycle(t *testing.T) {
	infra := SetupTestInfra(t, withPostgres)

	repo := management.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	fn := createTestFunction("customerio", true)
	require.NoError(t, repo.CreateFunction(ctx, fn))
	assert.NotEmpty(t, fn.ID)

	got, err := repo.GetFunction(ctx, fn.ID)
	require.NoError(t, err)
	assert.Equal(t, "customerio", got.Name)
	assert.Equal(t, "template-customerio", got.TemplateID)
	assert.Equal(t, fn.Hog, got.Hog)
	assert.Len(t, got.InputsSchema, len(fn.InputsSchema))
	assert.Equal(t, testToken, got.Inputs["token"].Str())
	assert.Equal(t, fn.Filters.Events, got.Filters.Events)
	assert.True(t, got.Filters.FilterTestAccounts)

	originalUpdatedAt := got.UpdatedAt
	time.Sleep(timestampDelay)
	got.Name = "customerio-renamed"
	got.Enabled = false
	got.Inputs["site_id"] = hog.StringValue("site-2")
	require.NoError(t, repo.UpdateFunction(ctx, got))

	updated, err := repo.GetFunction(ctx, fn.ID)
	require.NoError(t, err)
	assert.Equal(t, "customerio-renamed", updated.Name)
	assert.False(t, updated.Enabled)
	assert.Equal(t, "site-2", updated.Inputs["site_id"].Str())
	assert.True(t, updated.UpdatedAt.After(originalUpdatedAt))

	list, err := repo.ListFunctions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.DeleteFunction(ctx, fn.ID))
	_, err = repo.GetFunction(ctx, fn.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestManagementRepository_DuplicateFunctionName(t *testing.T) {
	infra := SetupTestInfra(t, withPostgres)

	repo := management.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	require.NoError(t, repo.CreateFunction(ctx, createTestFunction("dup", true)))
	err := repo.CreateFunction(ctx, createTestFunction("dup", true))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestDestinationsRepository_ActiveFunctionsAndActions(t *testing.T) {
	infra := SetupTestInfra(t, withPostgres)

	repo := management.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	active := createTestFunction("active", true)
	require.NoError(t, repo.CreateFunction(ctx, active))
	time.Sleep(timestampDelay)
	require.NoError(t, repo.CreateFunction(ctx, createTestFunction("disabled", false)))

	require.NoError(t, repo.CreateAction(ctx, &management.Action{Name: "Signups", Expression: `event.name == "signup"`}))
	require.NoError(t, repo.CreateAction(ctx, &management.Action{Name: "Pageviews", Expression: `event.name == "$pageview"`}))

	destRepo := destinations.NewRepository(infra.PostgresDB)

	functions, err := destRepo.GetActiveFunctions(ctx)
	require.NoError(t, err)
	require.Len(t, functions, 1)
	assert.Equal(t, active.ID, functions[0].ID)
	assert.Equal(t, testToken, functions[0].Inputs["token"].Str())

	actions, err := destRepo.GetActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "Pageviews", actions[0].Name)
	assert.Equal(t, "Signups", actions[1].Name)
}

func TestManagementRepository_ActionLifecycle(t *testing.T) {
	infra := SetupTestInfra(t, withPostgres)

	repo := management.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	action := &management.Action{Name: "Signups", Expression: `event.name == "signup"`}
	require.NoError(t, repo.CreateAction(ctx, action))
	assert.NotEmpty(t, action.ID)

	action.Expression = `event.name == "$signup"`
	require.NoError(t, repo.UpdateAction(ctx, action))

	got, err := repo.GetAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, `event.name == "$signup"`, got.Expression)

	require.NoError(t, repo.DeleteAction(ctx, action.ID))
	_, err = repo.GetAction(ctx, action.ID)
	assert.Error(t, err)
}

func TestTemplateRepository_Lifecycle(t *testing.T) {
	infra := SetupTestInfra(t, withPostgres)

	repo := management.NewTemplateRepository(infra.PostgresDB)
	ctx := context.Background()

	tmpl := &templates.Template{
		ID:     "template-webhook",
		Name:   "Webhook",
		Status: templates.StatusBeta,
		Hog:    `fetch(inputs.url, {'method': 'POST', 'body': event})`,
		InputsSchema: []templates.InputSchema{
			{Key: "url", Type: "string", Label: "URL", Required: true},
		},
		Builtin: true,
	}
	require.NoError(t, repo.CreateTemplate(ctx, tmpl))

	got, err := repo.GetTemplate(ctx, "template-webhook")
	require.NoError(t, err)
	assert.Equal(t, "Webhook", got.Name)
	assert.Equal(t, tmpl.Hog, got.Hog)
	assert.False(t, got.Builtin)
	require.Len(t, got.InputsSchema, 1)
	assert.Equal(t, "url", got.InputsSchema[0].Key)

	err = repo.CreateTemplate(ctx, tmpl)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))

	got.Name = "Generic webhook"
	require.NoError(t, repo.UpdateTemplate(ctx, got))

	list, err := repo.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Generic webhook", list[0].Name)

	require.NoError(t, repo.DeleteTemplate(ctx, "template-webhook"))
	_, err = repo.GetTemplate(ctx, "template-webhook")
	assert.Error(t, err)
}

func TestHistoryRepository(t *testing.T) {
	infra := SetupTestInfra(t, withPostgres)

	repo := management.NewHistoryRepository(infra.PostgresDB)
	ctx := context.Background()

	for _, name := range []string{"customerio", "customerio staging"} {
		entry, err := repo.Record(ctx, management.Change{
			EntityType: management.EntityFunction,
			EntityID:   "fn-1",
			Action:     "update",
			After:      map[string]interface{}{"name": name},
			ChangedBy:  "user-1",
			ClientIP:   "10.0.0.1",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, entry.ID)
	}

	entry, err := repo.Record(ctx, management.Change{
		EntityType: management.EntityFunction,
		EntityID:   "fn-1",
		Action:     "delete",
		Before:     map[string]interface{}{"name": "customerio staging"},
	})
	require.NoError(t, err)
	assert.Zero(t, entry.Version, "deletes add no version")

	versions, err := repo.Versions(ctx, "fn-1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Number)
	assert.JSONEq(t, `{"name":"customerio staging"}`, string(versions[0].Snapshot))

	v, err := repo.Version(ctx, "fn-1", 1)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "user-1", v.ChangedBy)

	v, err = repo.Version(ctx, "fn-1", 9)
	require.NoError(t, err)
	assert.Nil(t, v)

	entries, err := repo.AuditEntries(ctx, management.AuditFilter{EntityID: "fn-1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "delete", entries[0].Action)
	assert.Nil(t, entries[0].After)
	assert.Equal(t, "customerio staging", entries[0].Before["name"])
	assert.Equal(t, 2, entries[1].Version)
	assert.Equal(t, "10.0.0.1", entries[1].ClientIP)

	entries, err = repo.AuditEntries(ctx, management.AuditFilter{EntityType: management.EntityAction, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
