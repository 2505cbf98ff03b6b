package management

import (
	"context"

	"hogflow/internal/templates"
	"hogflow/pkg/models"
)

// FunctionService manages hog functions and reads their invocation log.
type FunctionService interface {
	CreateFunction(ctx context.Context, req CreateHogFunctionRequest) (*HogFunction, error)
	ListFunctions(ctx context.Context) ([]HogFunction, error)
	GetFunction(ctx context.Context, id string) (*HogFunction, error)
	UpdateFunction(ctx context.Context, id string, req UpdateHogFunctionRequest) (*HogFunction, error)
	DeleteFunction(ctx context.Context, id string) error
	ListInvocations(ctx context.Context, functionID string, filter InvocationFilter) ([]models.InvocationResult, error)
	// TestInvocation runs a stored function once against a sample event
	// without publishing or logging the result.
	TestInvocation(ctx context.Context, functionID string, req TestInvocationRequest) (*TestInvocationResponse, error)
}

// TemplateService serves builtin and custom templates. Builtin ones are read
// only.
type TemplateService interface {
	ListTemplates(ctx context.Context) ([]templates.Template, error)
	GetTemplate(ctx context.Context, id string) (*templates.Template, error)
	CreateTemplate(ctx context.Context, t templates.Template) (*templates.Template, error)
	UpdateTemplate(ctx context.Context, id string, t templates.Template) (*templates.Template, error)
	DeleteTemplate(ctx context.Context, id string) error
}

type ActionService interface {
	CreateAction(ctx context.Context, req CreateActionRequest) (*Action, error)
	ListActions(ctx context.Context) ([]Action, error)
	GetAction(ctx context.Context, id string) (*Action, error)
	UpdateAction(ctx context.Context, id string, req UpdateActionRequest) (*Action, error)
	DeleteAction(ctx context.Context, id string) error
}

// HistoryService reads entity snapshots and the audit trail. Every method
// fails with ErrServiceUnavailable when history is not configured.
type HistoryService interface {
	ListVersions(ctx context.Context, entityID string) ([]Version, error)
	GetVersion(ctx context.Context, entityID string, number int) (*Version, error)
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// Service is everything the HTTP handler serves.
type Service interface {
	FunctionService
	TemplateService
	ActionService
	HistoryService
}

var _ Service = (*service)(nil)
