package management

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hogflow/internal/constants"
	"hogflow/internal/logger"
	"hogflow/internal/templates"
	"hogflow/pkg/cel"
	"hogflow/pkg/errors"
)

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *BaseHandler) bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
}

type Handler struct {
	BaseHandler
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
}

// RegisterRoutes mounts the API under /api/v1. Middleware is applied to the
// whole group, typically the auth middleware.
func (h *Handler) RegisterRoutes(router *gin.Engine, middleware ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1", middleware...)
	{
		functions := v1.Group("/functions")
		{
			functions.GET("", h.ListFunctions)
			functions.POST("", h.CreateFunction)
			functions.GET("/:id", h.GetFunction)
			functions.PATCH("/:id", h.UpdateFunction)
			functions.DELETE("/:id", h.DeleteFunction)
			functions.GET("/:id/versions", h.ListVersions)
			functions.GET("/:id/versions/:version", h.GetVersion)
			functions.GET("/:id/audit", h.entityAudit(EntityFunction))
			functions.GET("/:id/invocations", h.ListInvocations)
			functions.POST("/:id/invocations", h.TestInvocation)
		}

		tmpls := v1.Group("/templates")
		{
			tmpls.GET("", h.ListTemplates)
			tmpls.POST("", h.CreateTemplate)
			tmpls.GET("/:id", h.GetTemplate)
			tmpls.PUT("/:id", h.UpdateTemplate)
			tmpls.DELETE("/:id", h.DeleteTemplate)
			tmpls.GET("/:id/versions", h.ListVersions)
			tmpls.GET("/:id/versions/:version", h.GetVersion)
			tmpls.GET("/:id/audit", h.entityAudit(EntityTemplate))
		}

		actions := v1.Group("/actions")
		{
			actions.GET("", h.ListActions)
			actions.POST("", h.CreateAction)
			actions.GET("/examples", h.ActionExamples)
			actions.GET("/:id", h.GetAction)
			actions.PATCH("/:id", h.UpdateAction)
			actions.DELETE("/:id", h.DeleteAction)
			actions.GET("/:id/versions", h.ListVersions)
			actions.GET("/:id/versions/:version", h.GetVersion)
			actions.GET("/:id/audit", h.entityAudit(EntityAction))
		}

		v1.GET("/audit", h.ListAuditEntries)
	}
}

// ListFunctions godoc
// @Summary      List hog functions
// @Description  Get every configured destination function. Secret inputs are masked.
// @Tags         functions
// @Produce      json
// @Success      200  {array}   HogFunction
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /functions [get]
func (h *Handler) ListFunctions(c *gin.Context) {
	fns, err := h.Service.ListFunctions(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, fns)
}

// CreateFunction godoc
// @Summary      Create a hog function
// @Description  Configure a destination from a template
// @Tags         functions
// @Accept       json
// @Produce      json
// @Param        function  body      CreateHogFunctionRequest  true  "Function data"
// @Success      201       {object}  HogFunction
// @Failure      400       {object}  errors.ErrorResponse
// @Failure      409       {object}  errors.ErrorResponse
// @Failure      500       {object}  errors.ErrorResponse
// @Router       /functions [post]
func (h *Handler) CreateFunction(c *gin.Context) {
	var req CreateHogFunctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	fn, err := h.Service.CreateFunction(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fn)
}

// GetFunction godoc
// @Summary      Get a hog function
// @Tags         functions
// @Produce      json
// @Param        id   path      string  true  "Function ID"
// @Success      200  {object}  HogFunction
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /functions/{id} [get]
func (h *Handler) GetFunction(c *gin.Context) {
	fn, err := h.Service.GetFunction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, fn)
}

// UpdateFunction godoc
// @Summary      Update a hog function
// @Description  Change the given fields. A secret input sent back as {"secret": true} keeps its value.
// @Tags         functions
// @Accept       json
// @Produce      json
// @Param        id        path      string                    true  "Function ID"
// @Param        function  body      UpdateHogFunctionRequest  true  "Changed fields"
// @Success      200       {object}  HogFunction
// @Failure      400       {object}  errors.ErrorResponse
// @Failure      404       {object}  errors.ErrorResponse
// @Router       /functions/{id} [patch]
func (h *Handler) UpdateFunction(c *gin.Context) {
	var req UpdateHogFunctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	fn, err := h.Service.UpdateFunction(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, fn)
}

// DeleteFunction godoc
// @Summary      Delete a hog function
// @Tags         functions
// @Param        id   path  string  true  "Function ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /functions/{id} [delete]
func (h *Handler) DeleteFunction(c *gin.Context) {
	if err := h.Service.DeleteFunction(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListInvocations godoc
// @Summary      List invocation logs
// @Description  Get the stored executions of a function, newest first
// @Tags         functions
// @Produce      json
// @Param        id          path      string  true   "Function ID"
// @Param        status      query     string  false  "succeeded, failed or skipped"
// @Param        event_uuid  query     string  false  "Event UUID"
// @Param        since       query     string  false  "RFC 3339 timestamp"
// @Param        limit       query     int     false  "Maximum entries"
// @Success      200         {array}   models.InvocationResult
// @Failure      400         {object}  errors.ErrorResponse
// @Failure      404         {object}  errors.ErrorResponse
// @Router       /functions/{id}/invocations [get]
func (h *Handler) ListInvocations(c *gin.Context) {
	filter := InvocationFilter{
		Status:    c.Query("status"),
		EventUUID: c.Query("event_uuid"),
		Limit:     parseLimit(c.Query("limit")),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			h.bindError(c, err)
			return
		}
		filter.Since = t
	}

	results, err := h.Service.ListInvocations(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// TestInvocation godoc
// @Summary      Test a hog function
// @Description  Run the function once against an event. Fetches are mocked unless mock_fetches is false.
// @Tags         functions
// @Accept       json
// @Produce      json
// @Param        id          path      string                 true  "Function ID"
// @Param        invocation  body      TestInvocationRequest  true  "Event and overrides"
// @Success      200         {object}  TestInvocationResponse
// @Failure      400         {object}  errors.ErrorResponse
// @Failure      404         {object}  errors.ErrorResponse
// @Router       /functions/{id}/invocations [post]
func (h *Handler) TestInvocation(c *gin.Context) {
	var req TestInvocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	resp, err := h.Service.TestInvocation(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListTemplates godoc
// @Summary      List templates
// @Description  Builtin and directory templates first, then templates created through the API
// @Tags         templates
// @Produce      json
// @Success      200  {array}   templates.Template
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /templates [get]
func (h *Handler) ListTemplates(c *gin.Context) {
	ts, err := h.Service.ListTemplates(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

// CreateTemplate godoc
// @Summary      Create a template
// @Tags         templates
// @Accept       json
// @Produce      json
// @Param        template  body      templates.Template  true  "Template definition"
// @Success      201       {object}  templates.Template
// @Failure      400       {object}  errors.ErrorResponse
// @Failure      409       {object}  errors.ErrorResponse
// @Router       /templates [post]
func (h *Handler) CreateTemplate(c *gin.Context) {
	var t templates.Template
	if err := c.ShouldBindJSON(&t); err != nil {
		h.bindError(c, err)
		return
	}

	created, err := h.Service.CreateTemplate(c.Request.Context(), t)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetTemplate godoc
// @Summary      Get a template
// @Tags         templates
// @Produce      json
// @Param        id   path      string  true  "Template ID"
// @Success      200  {object}  templates.Template
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /templates/{id} [get]
func (h *Handler) GetTemplate(c *gin.Context) {
	t, err := h.Service.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// UpdateTemplate godoc
// @Summary      Replace a template
// @Description  Builtin and directory templates are read-only
// @Tags         templates
// @Accept       json
// @Produce      json
// @Param        id        path      string              true  "Template ID"
// @Param        template  body      templates.Template  true  "Template definition"
// @Success      200       {object}  templates.Template
// @Failure      400       {object}  errors.ErrorResponse
// @Failure      403       {object}  errors.ErrorResponse
// @Failure      404       {object}  errors.ErrorResponse
// @Router       /templates/{id} [put]
func (h *Handler) UpdateTemplate(c *gin.Context) {
	var t templates.Template
	if err := c.ShouldBindJSON(&t); err != nil {
		h.bindError(c, err)
		return
	}

	updated, err := h.Service.UpdateTemplate(c.Request.Context(), c.Param("id"), t)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteTemplate godoc
// @Summary      Delete a template
// @Tags         templates
// @Param        id   path  string  true  "Template ID"
// @Success      204  "No Content"
// @Failure      403  {object}  errors.ErrorResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /templates/{id} [delete]
func (h *Handler) DeleteTemplate(c *gin.Context) {
	if err := h.Service.DeleteTemplate(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListActions godoc
// @Summary      List actions
// @Tags         actions
// @Produce      json
// @Success      200  {array}   Action
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /actions [get]
func (h *Handler) ListActions(c *gin.Context) {
	actions, err := h.Service.ListActions(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

// CreateAction godoc
// @Summary      Create an action
// @Description  An action is a named CEL predicate over event and person
// @Tags         actions
// @Accept       json
// @Produce      json
// @Param        action  body      CreateActionRequest  true  "Action data"
// @Success      201     {object}  Action
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      409     {object}  errors.ErrorResponse
// @Router       /actions [post]
func (h *Handler) CreateAction(c *gin.Context) {
	var req CreateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	action, err := h.Service.CreateAction(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, action)
}

// ActionExamples godoc
// @Summary      Example action expressions
// @Tags         actions
// @Produce      json
// @Success      200  {array}   cel.Example
// @Router       /actions/examples [get]
func (h *Handler) ActionExamples(c *gin.Context) {
	c.JSON(http.StatusOK, cel.Examples)
}

// GetAction godoc
// @Summary      Get an action
// @Tags         actions
// @Produce      json
// @Param        id   path      string  true  "Action ID"
// @Success      200  {object}  Action
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /actions/{id} [get]
func (h *Handler) GetAction(c *gin.Context) {
	action, err := h.Service.GetAction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

// UpdateAction godoc
// @Summary      Update an action
// @Tags         actions
// @Accept       json
// @Produce      json
// @Param        id      path      string               true  "Action ID"
// @Param        action  body      UpdateActionRequest  true  "Changed fields"
// @Success      200     {object}  Action
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      404     {object}  errors.ErrorResponse
// @Router       /actions/{id} [patch]
func (h *Handler) UpdateAction(c *gin.Context) {
	var req UpdateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	action, err := h.Service.UpdateAction(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

// DeleteAction godoc
// @Summary      Delete an action
// @Tags         actions
// @Param        id   path  string  true  "Action ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /actions/{id} [delete]
func (h *Handler) DeleteAction(c *gin.Context) {
	if err := h.Service.DeleteAction(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListVersions godoc
// @Summary      Get version history
// @Description  Versions of a function, template or action, newest first
// @Tags         history
// @Produce      json
// @Param        id   path      string  true  "Function, template or action ID"
// @Success      200  {array}   Version
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /functions/{id}/versions [get]
func (h *Handler) ListVersions(c *gin.Context) {
	versions, err := h.Service.ListVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

// GetVersion godoc
// @Summary      Get one version
// @Tags         history
// @Produce      json
// @Param        id       path      string  true  "Function, template or action ID"
// @Param        version  path      int     true  "Version number"
// @Success      200      {object}  Version
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      404      {object}  errors.ErrorResponse
// @Router       /functions/{id}/versions/{version} [get]
func (h *Handler) GetVersion(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("version"))
	if err != nil || number <= 0 {
		h.HandleError(c, errors.ErrValidation.WithMessage("version must be a positive integer"))
		return
	}

	v, err := h.Service.GetVersion(c.Request.Context(), c.Param("id"), number)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// entityAudit serves the audit entries of the entity in the path.
func (h *Handler) entityAudit(entityType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.listAudit(c, AuditFilter{
			EntityID:   c.Param("id"),
			EntityType: entityType,
			Limit:      parseLimit(c.Query("limit")),
		})
	}
}

// ListAuditEntries godoc
// @Summary      Get audit log
// @Description  Changes to functions, templates and actions, newest first
// @Tags         history
// @Produce      json
// @Param        entity_id    query     string  false  "Entity ID"
// @Param        entity_type  query     string  false  "hog_function, template or action"
// @Param        limit        query     int     false  "Maximum entries"
// @Success      200          {array}   AuditEntry
// @Failure      503          {object}  errors.ErrorResponse
// @Router       /audit [get]
func (h *Handler) ListAuditEntries(c *gin.Context) {
	h.listAudit(c, AuditFilter{
		EntityID:   c.Query("entity_id"),
		EntityType: c.Query("entity_type"),
		Limit:      parseLimit(c.Query("limit")),
	})
}

func (h *Handler) listAudit(c *gin.Context, filter AuditFilter) {
	entries, err := h.Service.ListAuditEntries(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}
