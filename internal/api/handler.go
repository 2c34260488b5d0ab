package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"watchtower/internal/catalog"
	"watchtower/internal/dsl"
	"watchtower/internal/incident"
	"watchtower/internal/logger"
	"watchtower/internal/run"
	"watchtower/internal/trend"
	"watchtower/pkg/errors"
)

type Catalog interface {
	GetRule(ctx context.Context, id string) (*catalog.Rule, error)
	GetDataset(ctx context.Context, id string) (*catalog.Dataset, error)
	CreateDataset(ctx context.Context, ds *catalog.Dataset) error
	CreateRule(ctx context.Context, rule *catalog.Rule) error
	SetRuleActive(ctx context.Context, id string, active bool) error
}

type Runner interface {
	RunRule(ctx context.Context, ruleID string, startedAt time.Time) (*run.Result, error)
	RunDataset(ctx context.Context, datasetID string, startedAt time.Time) (*run.DatasetRun, error)
}

type RunStore interface {
	Get(ctx context.Context, runID string) (*run.Result, error)
	ListByDataset(ctx context.Context, datasetID string, limit, offset int) ([]*run.Result, error)
}

type Trends interface {
	Get(ctx context.Context, datasetID string) (*trend.Trend, error)
}

type Incidents interface {
	Get(ctx context.Context, id string) (*incident.Incident, error)
	List(ctx context.Context, filter incident.ListFilter) ([]*incident.Incident, error)
	Acknowledge(ctx context.Context, id string) (*incident.Incident, error)
	Resolve(ctx context.Context, id string) (*incident.Incident, error)
	Mute(ctx context.Context, id string) (*incident.Incident, error)
}

type Dependencies struct {
	Catalog   Catalog
	Runner    Runner
	Runs      RunStore
	Trends    Trends
	Incidents Incidents
}

type Handler struct {
	deps   Dependencies
	Logger logger.Logger
}

func NewHandler(deps Dependencies, log logger.Logger) *Handler {
	return &Handler{deps: deps, Logger: log}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	err = classify(err)
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}

	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
		errors.ErrValidation.WithCause(err).WithDetail("message", err.Error())))
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		rules := v1.Group("/rules")
		{
			rules.POST("/parse", h.ParseRule)
			rules.POST("", h.CreateRule)
			rules.GET("/:id", h.GetRule)
			rules.PUT("/:id/active", h.SetRuleActive)
			rules.POST("/:id/runs", h.RunRule)
		}

		datasets := v1.Group("/datasets")
		{
			datasets.POST("", h.CreateDataset)
			datasets.GET("/:id", h.GetDataset)
			datasets.POST("/:id/runs", h.RunDataset)
			datasets.GET("/:id/runs", h.ListRuns)
			datasets.GET("/:id/trend", h.GetTrend)
		}

		v1.GET("/runs/:run_id", h.GetRun)

		incidents := v1.Group("/incidents")
		{
			incidents.GET("", h.ListIncidents)
			incidents.GET("/:id", h.GetIncident)
			incidents.POST("/:id/acknowledge", h.AcknowledgeIncident)
			incidents.POST("/:id/resolve", h.ResolveIncident)
			incidents.POST("/:id/mute", h.MuteIncident)
		}
	}
}

// ParseRule validates rule text and returns its canonical form, or 422
// with the parse error.
func (h *Handler) ParseRule(c *gin.Context) {
	var req ParseRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	rule, err := dsl.ParseRule(req.Expression)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ParseRuleResponse{
		Valid:     true,
		Function:  rule.Function(),
		Columns:   rule.Columns(),
		Canonical: rule.String(),
	})
}

func (h *Handler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	rule := &catalog.Rule{
		Name:       req.Name,
		Expression: req.Expression,
		RuleType:   req.RuleType,
		Severity:   req.Severity,
		DatasetID:  req.DatasetID,
		Active:     req.Active == nil || *req.Active,
	}
	if err := h.deps.Catalog.CreateRule(c.Request.Context(), rule); err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.deps.Catalog.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *Handler) SetRuleActive(c *gin.Context) {
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.deps.Catalog.SetRuleActive(ctx, id, *req.Active); err != nil {
		h.HandleError(c, err)
		return
	}

	rule, err := h.deps.Catalog.GetRule(ctx, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// RunRule executes a rule against its dataset. Requests with the same
// started_at share one run record.
func (h *Handler) RunRule(c *gin.Context) {
	startedAt, ok := h.bindStartedAt(c)
	if !ok {
		return
	}

	res, err := h.deps.Runner.RunRule(c.Request.Context(), c.Param("id"), startedAt)
	if err != nil {
		if res == nil {
			h.HandleError(c, err)
			return
		}
		// The run was recorded as FAILED; return it with the error.
		err = classify(err)
		body := errors.ToErrorResponse(err)
		body["run"] = res
		c.JSON(errors.ToHTTPStatus(err), body)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) CreateDataset(c *gin.Context) {
	var req CreateDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	ds := &catalog.Dataset{
		Name:           req.Name,
		SourceType:     req.SourceType,
		SourceLocation: req.SourceLocation,
	}
	if err := h.deps.Catalog.CreateDataset(c.Request.Context(), ds); err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, ds)
}

func (h *Handler) GetDataset(c *gin.Context) {
	ds, err := h.deps.Catalog.GetDataset(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ds)
}

// RunDataset executes every active rule of a dataset. It answers 409 when
// the weekday gate skips the run.
func (h *Handler) RunDataset(c *gin.Context) {
	startedAt, ok := h.bindStartedAt(c)
	if !ok {
		return
	}

	out, err := h.deps.Runner.RunDataset(c.Request.Context(), c.Param("id"), startedAt)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ListRuns(c *gin.Context) {
	limit, offset, ok := h.paging(c)
	if !ok {
		return
	}

	runs, err := h.deps.Runs.ListByDataset(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) GetRun(c *gin.Context) {
	res, err := h.deps.Runs.Get(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetTrend returns the rolling quality trend of a dataset.
func (h *Handler) GetTrend(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.deps.Catalog.GetDataset(ctx, id); err != nil {
		h.HandleError(c, err)
		return
	}

	t, err := h.deps.Trends.Get(ctx, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) ListIncidents(c *gin.Context) {
	limit, offset, ok := h.paging(c)
	if !ok {
		return
	}

	filter := incident.ListFilter{
		Status:    incident.Status(c.Query("status")),
		DatasetID: c.Query("dataset_id"),
		RuleID:    c.Query("rule_id"),
		Limit:     limit,
		Offset:    offset,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
			errors.ErrValidation.WithDetail("message", "invalid status "+string(filter.Status))))
		return
	}

	incidents, err := h.deps.Incidents.List(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, incidents)
}

func (h *Handler) GetIncident(c *gin.Context) {
	inc, err := h.deps.Incidents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (h *Handler) AcknowledgeIncident(c *gin.Context) {
	h.transition(c, h.deps.Incidents.Acknowledge)
}

func (h *Handler) ResolveIncident(c *gin.Context) {
	h.transition(c, h.deps.Incidents.Resolve)
}

func (h *Handler) MuteIncident(c *gin.Context) {
	h.transition(c, h.deps.Incidents.Mute)
}

func (h *Handler) transition(c *gin.Context, fn func(context.Context, string) (*incident.Incident, error)) {
	inc, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

// bindStartedAt reads an optional RunRequest body. An empty body means now.
func (h *Handler) bindStartedAt(c *gin.Context) (time.Time, bool) {
	if c.Request.ContentLength == 0 {
		return time.Time{}, true
	}

	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return time.Time{}, false
	}
	if req.StartedAt == nil {
		return time.Time{}, true
	}
	return *req.StartedAt, true
}

func (h *Handler) paging(c *gin.Context) (int, int, bool) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		h.badRequest(c, err)
		return 0, 0, false
	}
	offset, err := queryInt(c, "offset")
	if err != nil || offset < 0 {
		if err == nil {
			err = strconv.ErrRange
		}
		h.badRequest(c, err)
		return 0, 0, false
	}
	return limit, offset, true
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
