package management

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"hogflow/internal/constants"
	"hogflow/internal/destinations"
	"hogflow/internal/fetch"
	"hogflow/internal/logger"
	"hogflow/internal/persons"
	"hogflow/internal/templates"
	pkgerrors "hogflow/pkg/errors"
	"hogflow/pkg/hog"
	"hogflow/pkg/models"
)

// InvocationLog reads the stored results of function executions.
type InvocationLog interface {
	List(ctx context.Context, q destinations.InvocationQuery) ([]models.InvocationResult, error)
}

type service struct {
	repo                Repository
	templateRepo        TemplateRepository
	registry            *templates.Registry
	validator           *Validator
	history             HistoryRepository
	invocations         InvocationLog
	executor            *destinations.Executor
	liveFetcher         hog.Fetcher
	siteURL             string
	configEventProducer *ConfigEventProducer
	logger              logger.Logger
}

type ServiceOption func(*service)

// WithHistory records a version and an audit entry for every change.
func WithHistory(history HistoryRepository) ServiceOption {
	return func(s *service) {
		s.history = history
	}
}

// WithTemplateStore lets templates be created through the API.
func WithTemplateStore(templateRepo TemplateRepository) ServiceOption {
	return func(s *service) {
		s.templateRepo = templateRepo
	}
}

func WithConfigEvents(configEventProducer *ConfigEventProducer) ServiceOption {
	return func(s *service) {
		s.configEventProducer = configEventProducer
	}
}

func WithInvocationLog(invocations InvocationLog) ServiceOption {
	return func(s *service) {
		s.invocations = invocations
	}
}

// WithTestInvocations enables test invocations. live may be nil, in which case
// every test runs against the dry run fetcher.
func WithTestInvocations(executor *destinations.Executor, live hog.Fetcher, siteURL string) ServiceOption {
	return func(s *service) {
		s.executor = executor
		s.liveFetcher = live
		s.siteURL = siteURL
	}
}

func WithLogger(log logger.Logger) ServiceOption {
	return func(s *service) {
		s.logger = log
	}
}

func NewService(repo Repository, registry *templates.Registry, validator *Validator, opts ...ServiceOption) Service {
	s := &service{
		repo:      repo,
		registry:  registry,
		validator: validator,
		logger:    logger.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// template returns the registry template with the given id, else the stored one.
func (s *service) template(ctx context.Context, id string) (*templates.Template, error) {
	if t, ok := s.registry.Get(id); ok {
		return &t, nil
	}
	if s.templateRepo == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	t, err := s.templateRepo.GetTemplate(ctx, id)
	if err != nil {
		return nil, s.handleNotFoundError(err, id)
	}
	return t, nil
}

func (s *service) CreateFunction(ctx context.Context, req CreateHogFunctionRequest) (*HogFunction, error) {
	t, err := s.template(ctx, req.TemplateID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return nil, pkgerrors.ErrValidation.WithMessage("unknown template '%s'", req.TemplateID)
		}
		return nil, err
	}

	fn := destinations.FunctionFromTemplate(*t, req.Inputs)
	fn.ID = ""
	fn.Name = req.Name
	fn.Description = templates.SanitizeText(req.Description)
	if req.Hog != nil {
		fn.Hog = *req.Hog
	}
	if req.InputsSchema != nil {
		fn.InputsSchema = req.InputsSchema
	}
	if req.Filters != nil {
		fn.Filters = *req.Filters
	}
	if fn.Inputs == nil {
		fn.Inputs = map[string]hog.Value{}
	}
	fn.Enabled = getEnabledValue(req.Enabled)

	if err := s.validator.ValidateFunction(fn); err != nil {
		return nil, invalidInput(err)
	}

	if err := s.repo.CreateFunction(ctx, &fn); err != nil {
		return nil, wrapRepoError(err)
	}

	view := toHogFunction(&fn)
	s.changed(ctx, Change{EntityType: EntityFunction, EntityID: fn.ID, Action: models.ActionCreate, After: view})

	return view, nil
}

func (s *service) ListFunctions(ctx context.Context) ([]HogFunction, error) {
	fns, err := s.repo.ListFunctions(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	out := make([]HogFunction, len(fns))
	for i := range fns {
		out[i] = *toHogFunction(&fns[i])
	}
	return out, nil
}

func (s *service) GetFunction(ctx context.Context, id string) (*HogFunction, error) {
	fn, err := s.repo.GetFunction(ctx, id)
	if err != nil {
		return nil, s.handleNotFoundError(err, id)
	}
	return toHogFunction(fn), nil
}

func (s *service) UpdateFunction(ctx context.Context, id string, req UpdateHogFunctionRequest) (*HogFunction, error) {
	fn, err := s.repo.GetFunction(ctx, id)
	if err != nil {
		return nil, s.handleNotFoundError(err, id)
	}

	oldView := toHogFunction(fn)
	_, oldValue, _ := snapshot(oldView)
	s.updateFunctionFields(fn, req)

	if err := s.validator.ValidateFunction(*fn); err != nil {
		return nil, invalidInput(err)
	}

	if err := s.repo.UpdateFunction(ctx, fn); err != nil {
		return nil, wrapRepoError(err)
	}

	action := models.ActionUpdate
	if req.onlyToggles() {
		action = models.ActionToggle
	}
	view := toHogFunction(fn)
	s.changed(ctx, Change{EntityType: EntityFunction, EntityID: fn.ID, Action: action, Before: oldValue, After: view})

	return view, nil
}

func (s *service) updateFunctionFields(fn *destinations.Function, req UpdateHogFunctionRequest) {
	if req.Name != nil {
		fn.Name = *req.Name
	}
	if req.Description != nil {
		fn.Description = templates.SanitizeText(*req.Description)
	}
	if req.Hog != nil {
		fn.Hog = *req.Hog
	}
	if req.InputsSchema != nil {
		fn.InputsSchema = *req.InputsSchema
	}
	if req.Inputs != nil {
		fn.Inputs = mergeInputs(fn.InputsSchema, fn.Inputs, req.Inputs)
	}
	if req.Filters != nil {
		fn.Filters = *req.Filters
	}
	if req.Enabled != nil {
		fn.Enabled = *req.Enabled
	}
}

func (s *service) DeleteFunction(ctx context.Context, id string) error {
	fn, err := s.repo.GetFunction(ctx, id)
	if err != nil {
		return s.handleNotFoundError(err, id)
	}

	_, oldValue, _ := snapshot(toHogFunction(fn))

	if err := s.repo.DeleteFunction(ctx, id); err != nil {
		return s.handleNotFoundError(err, id)
	}

	s.changed(ctx, Change{EntityType: EntityFunction, EntityID: id, Action: models.ActionDelete, Before: oldValue})
	return nil
}

// ListTemplates returns the registry templates followed by the stored ones.
func (s *service) ListTemplates(ctx context.Context) ([]templates.Template, error) {
	out := s.registry.List()
	if s.templateRepo == nil {
		return out, nil
	}
	stored, err := s.templateRepo.ListTemplates(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	for _, t := range stored {
		// registry templates shadow stored ones with the same id
		if _, ok := s.registry.Get(t.ID); ok {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *service) GetTemplate(ctx context.Context, id string) (*templates.Template, error) {
	return s.template(ctx, id)
}

func (s *service) CreateTemplate(ctx context.Context, t templates.Template) (*templates.Template, error) {
	if s.templateRepo == nil {
		return nil, pkgerrors.ErrInternal.WithMessage("template store not configured")
	}
	t = templates.Sanitize(t)
	if err := s.validator.ValidateTemplate(t); err != nil {
		return nil, invalidInput(err)
	}
	if _, ok := s.registry.Get(t.ID); ok {
		return nil, pkgerrors.ErrConflict.WithMessage("template with id '%s' already exists", t.ID)
	}

	if err := s.templateRepo.CreateTemplate(ctx, &t); err != nil {
		return nil, wrapRepoError(err)
	}

	s.changed(ctx, Change{EntityType: EntityTemplate, EntityID: t.ID, Action: models.ActionCreate, After: t})
	return &t, nil
}

func (s *service) UpdateTemplate(ctx context.Context, id string, t templates.Template) (*templates.Template, error) {
	if _, ok := s.registry.Get(id); ok {
		return nil, pkgerrors.ErrForbidden.WithMessage("template '%s' is read-only", id)
	}
	if s.templateRepo == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	old, err := s.templateRepo.GetTemplate(ctx, id)
	if err != nil {
		return nil, s.handleNotFoundError(err, id)
	}
	_, oldValue, _ := snapshot(old)

	t.ID = id
	t = templates.Sanitize(t)
	if err := s.validator.ValidateTemplate(t); err != nil {
		return nil, invalidInput(err)
	}
	if err := s.templateRepo.UpdateTemplate(ctx, &t); err != nil {
		return nil, s.handleNotFoundError(err, id)
	}

	s.changed(ctx, Change{EntityType: EntityTemplate, EntityID: id, Action: models.ActionUpdate, Before: oldValue, After: t})
	return &t, nil
}

func (s *service) DeleteTemplate(ctx context.Context, id string) error {
	if _, ok := s.registry.Get(id); ok {
		return pkgerrors.ErrForbidden.WithMessage("template '%s' is read-only", id)
	}
	if s.templateRepo == nil {
		return pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	old, err := s.templateRepo.GetTemplate(ctx, id)
	if err != nil {
		return s.handleNotFoundError(err, id)
	}
	_, oldValue, _ := snapshot(old)

	if err := s.templateRepo.DeleteTemplate(ctx, id); err != nil {
		return s.handleNotFoundError(err, id)
	}

	s.changed(ctx, Change{EntityType: EntityTemplate, EntityID: id, Action: models.ActionDelete, Before: oldValue})
	return nil
}

func (s *service) CreateAction(ctx context.Context, req CreateActionRequest) (*Action, error) {
	if err := s.validator.ValidateCreateAction(req); err != nil {
		return nil, invalidInput(err)
	}

	action := &Action{
		Name:        req.Name,
		Description: templates.SanitizeText(req.Description),
		Expression:  req.Expression,
	}
	if err := s.repo.CreateAction(ctx, action); err != nil {
		return nil, wrapRepoError(err)
	}

	s.changed(ctx, Change{EntityType: EntityAction, EntityID: action.ID, Action: models.ActionCreate, After: action})
	return action, nil
}

func (s *service) ListActions(ctx context.Context) ([]Action, error) {
	actions, err := s.repo.ListActions(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return actions, nil
}

func (s *service) GetAction(ctx context.Context, id string) (*Action, error) {
	action, err := s.repo.GetAction(ctx, id)
	if err != nil {
		return nil, s.handleNotFoundError(err, id)
	}
	return action, nil
}

func (s *service) UpdateAction(ctx context.Context, id string, req UpdateActionRequest) (*Action, error) {
	if err := s.validator.ValidateUpdateAction(req); err != nil {
		return nil, invalidInput(err)
	}

	action, err := s.repo.GetAction(ctx, id)
	if err != nil {
		return nil, s.handleNotFoundError(err, id)
	}
	_, oldValue, _ := snapshot(action)

	if req.Name != nil {
		action.Name = *req.Name
	}
	if req.Description != nil {
		action.Description = templates.SanitizeText(*req.Description)
	}
	if req.Expression != nil {
		action.Expression = *req.Expression
	}

	if err := s.repo.UpdateAction(ctx, action); err != nil {
		return nil, wrapRepoError(err)
	}

	s.changed(ctx, Change{EntityType: EntityAction, EntityID: id, Action: models.ActionUpdate, Before: oldValue, After: action})
	return action, nil
}

func (s *service) DeleteAction(ctx context.Context, id string) error {
	action, err := s.repo.GetAction(ctx, id)
	if err != nil {
		return s.handleNotFoundError(err, id)
	}
	_, oldValue, _ := snapshot(action)

	if err := s.repo.DeleteAction(ctx, id); err != nil {
		return s.handleNotFoundError(err, id)
	}

	s.changed(ctx, Change{EntityType: EntityAction, EntityID: id, Action: models.ActionDelete, Before: oldValue})
	return nil
}

func (s *service) ListVersions(ctx context.Context, entityID string) ([]Version, error) {
	if s.history == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithMessage("change history is not enabled")
	}
	versions, err := s.history.Versions(ctx, entityID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return versions, nil
}

func (s *service) GetVersion(ctx context.Context, entityID string, number int) (*Version, error) {
	if s.history == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithMessage("change history is not enabled")
	}
	v, err := s.history.Version(ctx, entityID, number)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if v == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", entityID).WithDetail("version", number)
	}
	return v, nil
}

func (s *service) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	if s.history == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithMessage("change history is not enabled")
	}
	if filter.Limit <= 0 || filter.Limit > constants.MaxLimit {
		filter.Limit = constants.DefaultLimit
	}
	entries, err := s.history.AuditEntries(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return entries, nil
}

func (s *service) ListInvocations(ctx context.Context, functionID string, filter InvocationFilter) ([]models.InvocationResult, error) {
	if s.invocations == nil {
		return nil, pkgerrors.ErrInternal.WithMessage("invocation log not configured")
	}
	if _, err := s.repo.GetFunction(ctx, functionID); err != nil {
		return nil, s.handleNotFoundError(err, functionID)
	}
	switch filter.Status {
	case "", models.InvocationSucceeded, models.InvocationFailed, models.InvocationSkipped:
	default:
		return nil, pkgerrors.ErrValidation.WithMessage("unknown status '%s'", filter.Status)
	}

	results, err := s.invocations.List(ctx, destinations.InvocationQuery{
		FunctionID: functionID,
		EventUUID:  filter.EventUUID,
		Status:     filter.Status,
		Since:      filter.Since,
		Limit:      filter.Limit,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return results, nil
}

// TestInvocation runs a stored function once against the given event. Nothing
// is saved and no result is published.
func (s *service) TestInvocation(ctx context.Context, id string, req TestInvocationRequest) (*TestInvocationResponse, error) {
	if s.executor == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithMessage("test invocations are not enabled")
	}

	fn, err := s.repo.GetFunction(ctx, id)
	if err != nil {
		return nil, s.handleNotFoundError(err, id)
	}
	if req.Hog != nil {
		fn.Hog = *req.Hog
	}
	if req.Inputs != nil {
		fn.Inputs = mergeInputs(fn.InputsSchema, fn.Inputs, req.Inputs)
	}
	if err := s.validator.ValidateFunction(*fn); err != nil {
		return nil, invalidInput(err)
	}

	mock := req.MockFetches == nil || *req.MockFetches
	var fetcher hog.Fetcher
	dry := fetch.NewDryRun()
	if mock {
		fetcher = dry
	} else {
		if s.liveFetcher == nil {
			return nil, pkgerrors.ErrValidation.WithMessage("live fetches are disabled for test invocations")
		}
		fetcher = s.liveFetcher
	}

	payload := make(map[string]interface{}, len(req.Event)+1)
	for k, v := range req.Event {
		payload[k] = v
	}
	if req.Person != nil {
		payload["person"] = req.Person
	}
	ev, err := models.EventFromEnvelope(models.MessageEnvelope{
		ID:        uuid.New().String(),
		Source:    "test-invocation",
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return nil, invalidInput(err)
	}

	compiled, err := s.executor.Compile(*fn)
	if err != nil {
		return nil, invalidInput(err)
	}

	person := persons.Anonymous(ev.DistinctID)
	if ev.Person != nil {
		p := persons.Person{ID: ev.Person.ID, DistinctIDs: []string{ev.DistinctID}, Properties: ev.Person.Properties}
		person = p.Value(s.siteURL)
	}

	result := s.executor.Invoke(ctx, compiled, hog.Globals{
		Event:  destinations.EventGlobals(ev),
		Person: person,
	}, fetcher)

	resp := &TestInvocationResponse{Result: result}
	if mock {
		resp.Requests = maskRequests(compiled.Redactor(), dry.Requests())
	}
	return resp, nil
}

func maskRequests(redactor *hog.Redactor, reqs []hog.FetchRequest) []MockedRequest {
	out := make([]MockedRequest, len(reqs))
	for i, r := range reqs {
		headers := make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			// credentials are usually encoded and cannot be matched literally
			if http.CanonicalHeaderKey(k) == "Authorization" {
				headers[k] = hog.Mask
				continue
			}
			headers[k] = redactor.Redact(v)
		}
		out[i] = MockedRequest{
			Method:  r.Method,
			URL:     redactor.Redact(r.URL),
			Headers: headers,
			Body:    redactor.Redact(r.Body),
		}
	}
	return out
}

func (s *service) handleNotFoundError(err error, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errNotFound) || errors.Is(err, templates.ErrNotFound) || pkgerrors.IsNotFound(err) {
		return pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	return wrapRepoError(err)
}

// wrapRepoError keeps application errors such as conflicts and wraps the rest
// as internal errors.
func wrapRepoError(err error) error {
	var appErr *pkgerrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
}

// changed records change in the history and announces it to the destination
// services. Failures of either are logged and never fail the request that
// made the change.
func (s *service) changed(ctx context.Context, change Change) {
	change.ChangedBy = getChangedBy(ctx)
	change.ClientIP = clientIP(ctx)

	if s.history != nil {
		if _, err := s.history.Record(ctx, change); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to record change",
				"entity_type", change.EntityType,
				"entity_id", change.EntityID,
				"action", change.Action,
				"error", err,
			)
		}
	}

	if err := s.configEventProducer.Publish(ctx, change.EntityType, change.Action, change.EntityID, change.ChangedBy); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish config event",
			"entity_type", change.EntityType,
			"entity_id", change.EntityID,
			"error", err,
		)
	}
}

func getEnabledValue(reqEnabled *bool) bool {
	if reqEnabled == nil {
		return true
	}
	return *reqEnabled
}
