package run

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"watchtower/internal/catalog"
	"watchtower/internal/constants"
	"watchtower/internal/dataset"
	"watchtower/internal/dsl"
	"watchtower/internal/evaluator"
	"watchtower/internal/evidence"
	"watchtower/internal/incident"
	"watchtower/internal/logger"
	"watchtower/internal/trend"
	pkgerrors "watchtower/pkg/errors"
	"watchtower/pkg/logging"
	"watchtower/pkg/metrics"
	"watchtower/pkg/tracing"
)

type TrendRecorder interface {
	RecordCompletion(ctx context.Context, c trend.Completion) error
}

type IncidentRaiser interface {
	Raise(ctx context.Context, f incident.Failure) (*incident.Incident, bool, error)
}

// EventSink is told about finished runs and raised incidents.
type EventSink interface {
	RunFinished(ctx context.Context, res *Result) error
	IncidentRaised(ctx context.Context, inc *incident.Incident, created bool) error
}

// ReferenceResolver finds the dataset behind a FOREIGN_KEY reference table.
type ReferenceResolver interface {
	GetDatasetByName(ctx context.Context, name string) (*catalog.Dataset, error)
}

type Coordinator struct {
	runs       Repository
	loader     dataset.Loader
	identity   *Identity
	builder    *evidence.Builder
	offloader  *evidence.Offloader
	references ReferenceResolver
	trends     TrendRecorder
	incidents  IncidentRaiser
	events     EventSink
	log        logger.Logger
	now        func() time.Time
	tracer     trace.Tracer
	group      singleflight.Group
}

type Option func(*Coordinator)

func WithIdentity(id *Identity) Option {
	return func(c *Coordinator) { c.identity = id }
}

func WithEvidence(builder *evidence.Builder, offloader *evidence.Offloader) Option {
	return func(c *Coordinator) {
		c.builder = builder
		c.offloader = offloader
	}
}

func WithReferences(r ReferenceResolver) Option {
	return func(c *Coordinator) { c.references = r }
}

func WithTrends(t TrendRecorder) Option {
	return func(c *Coordinator) { c.trends = t }
}

func WithIncidents(i IncidentRaiser) Option {
	return func(c *Coordinator) { c.incidents = i }
}

func WithEvents(e EventSink) Option {
	return func(c *Coordinator) { c.events = e }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(runs Repository, loader dataset.Loader, log logger.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		runs:      runs,
		loader:    loader,
		identity:  NewIdentity(constants.DefaultRunHashAlgorithm),
		builder:   evidence.NewBuilder(),
		offloader: evidence.NewOffloader(nil, constants.DefaultEvidenceMaxBytes),
		log:       log,
		now:       time.Now,
		tracer:    tracing.GetTracer(constants.ServiceName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs req once per identity. A request whose identity already has
// a stored run returns that run untouched. When evaluation fails the run is
// stored as FAILED and returned together with the error.
func (c *Coordinator) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.StartedAt.IsZero() {
		req.StartedAt = c.now()
	}
	req.StartedAt = req.StartedAt.UTC()

	runID := c.identity.RunID(req.Dataset.ID, req.Rule.ID, req.StartedAt)

	type outcome struct {
		res *Result
		err error
	}
	v, _, _ := c.group.Do(runID, func() (interface{}, error) {
		res, err := c.execute(ctx, runID, req)
		return outcome{res: res, err: err}, nil
	})

	out := v.(outcome)
	if out.res == nil {
		return nil, out.err
	}
	cp := *out.res
	return &cp, out.err
}

func (c *Coordinator) execute(ctx context.Context, runID string, req Request) (*Result, error) {
	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithRule(ctx, req.Rule.ID, req.Dataset.ID)
	ctx, span := c.tracer.Start(ctx, "run.execute", tracing.RunAttributes(runID, req.Rule.ID, req.Dataset.ID))
	defer span.End()

	pending := &Result{
		RunID:     runID,
		RuleID:    req.Rule.ID,
		DatasetID: req.Dataset.ID,
		Status:    StatusRunning,
		StartedAt: req.StartedAt.UTC(),
	}

	stored, created, err := c.runs.CreateIfAbsent(ctx, pending)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	if !created {
		metrics.RunsDeduplicatedTotal.Inc()
		span.SetAttributes(attribute.Bool("dq.deduplicated", true))
		c.log.InfowCtx(ctx, "Run already recorded, skipping execution", "status", stored.Status)
		return stored, nil
	}

	c.log.InfowCtx(ctx, "Run started", "rule_type", req.Rule.RuleType, "source", req.Dataset.Source().String())
	start := time.Now()

	res, err := c.evaluate(ctx, req, pending)
	if err != nil {
		tracing.RecordError(span, err)
		failed := c.fail(ctx, pending, err)
		c.finish(ctx, req, failed, time.Since(start))
		return failed, err
	}

	c.finish(ctx, req, res, time.Since(start))
	return res, nil
}

// evaluate loads, binds and evaluates the rule and stores the COMPLETED run.
// A panic anywhere in between is returned as an error.
func (c *Coordinator) evaluate(ctx context.Context, req Request, pending *Result) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.RecoverPanic(r)
			res = nil
			c.log.ErrorwCtx(ctx, "Rule evaluation panicked",
				"error", err,
				"stack", pkgerrors.PanicStack(err),
			)
		}
	}()

	table, err := c.load(ctx, req.Dataset.Source())
	if err != nil {
		return nil, err
	}

	call, err := dsl.Parse(req.Rule.Expression)
	if err != nil {
		return nil, err
	}
	rule, err := call.Rule()
	if err != nil {
		return nil, err
	}

	refs, err := c.resolveReferences(ctx, rule)
	if err != nil {
		return nil, err
	}

	evalStart := time.Now()
	result, err := evaluator.EvaluateWith(rule, table, refs)
	if err != nil {
		return nil, err
	}
	metrics.ObserveEvaluation(string(rule.Function()), result.Failed, time.Since(evalStart))

	done := *pending
	done.Status = StatusCompleted
	done.TotalRows = table.RowCount()
	done.PassedCount = result.Passed
	done.FailedCount = result.Failed
	done.Outcome = result.Outcome

	if result.Failed > 0 {
		bundle := c.builder.Build(table, result.Mask, rule.Function())
		placement, err := c.offloader.Place(ctx, done.RunID, bundle)
		if err != nil {
			return nil, err
		}
		done.Evidence = placement.Summary(bundle)
		done.EvidenceRef = placement.Ref
	}

	finished := c.now().UTC()
	done.FinishedAt = &finished
	if err := c.runs.Complete(ctx, &done); err != nil {
		return nil, err
	}
	return &done, nil
}

func (c *Coordinator) load(ctx context.Context, src dataset.Source) (*dataset.Table, error) {
	ctx, span := c.tracer.Start(ctx, "run.load_dataset", trace.WithAttributes(
		attribute.String("dq.source", src.String()),
	))
	defer span.End()

	table, err := c.loader.Load(ctx, src)
	tracing.RecordError(span, err)
	return table, err
}

// resolveReferences loads the reference table of a FOREIGN_KEY rule. An
// unknown reference table leaves the rule unchecked rather than failing it.
func (c *Coordinator) resolveReferences(ctx context.Context, rule dsl.Rule) (evaluator.References, error) {
	fk, ok := rule.(dsl.ForeignKey)
	if !ok || c.references == nil {
		return nil, nil
	}

	ds, err := c.references.GetDatasetByName(ctx, fk.RefTable)
	if pkgerrors.IsNotFound(err) {
		c.log.WarnwCtx(ctx, "Reference dataset not registered, foreign key left unchecked", "ref_table", fk.RefTable)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve reference table %s: %w", fk.RefTable, err)
	}

	table, err := c.load(ctx, ds.Source())
	if err != nil {
		return nil, err
	}
	return evaluator.References{fk.RefTable: table}, nil
}

// fail records the run as FAILED. The write runs on a context detached from
// ctx's cancellation so an aborted request still leaves a terminal run.
func (c *Coordinator) fail(ctx context.Context, pending *Result, cause error) *Result {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.TerminalWriteTimeout)
	defer cancel()

	failed := *pending
	failed.Status = StatusFailed
	failed.Error = cause.Error()
	finished := c.now().UTC()
	failed.FinishedAt = &finished

	if err := c.runs.Fail(writeCtx, &failed); err != nil {
		c.log.ErrorwCtx(ctx, "Failed to record run failure", "error", err, "cause", cause)
		if stored, getErr := c.runs.Get(writeCtx, failed.RunID); getErr == nil {
			return stored
		}
	}
	return &failed
}

// finish runs the post-completion steps. None of them changes the stored run.
func (c *Coordinator) finish(ctx context.Context, req Request, res *Result, elapsed time.Duration) {
	status := string(res.Status)
	metrics.IncRun(status, string(req.Rule.RuleType))
	metrics.ObserveRun(status, elapsed)

	if res.Status == StatusCompleted {
		c.log.InfowCtx(ctx, "Run completed",
			"total_rows", res.TotalRows,
			"failed_count", res.FailedCount,
			"outcome", res.Outcome,
			"duration_ms", elapsed.Milliseconds(),
		)
	} else {
		c.log.WarnwCtx(ctx, "Run failed", "error", res.Error, "duration_ms", elapsed.Milliseconds())
	}

	if c.events != nil {
		if err := c.events.RunFinished(ctx, res); err != nil {
			metrics.IncSideEffectFailure("run_event")
			c.log.ErrorwCtx(ctx, "Failed to publish run event", "error", err)
		}
	}

	if res.Status == StatusCompleted {
		c.recordTrend(ctx, req, res)
		c.raiseIncident(ctx, req, res)
	}
}

func (c *Coordinator) recordTrend(ctx context.Context, req Request, res *Result) {
	if c.trends == nil {
		return
	}

	err := c.trends.RecordCompletion(ctx, trend.Completion{
		DatasetID: res.DatasetID,
		RuleID:    res.RuleID,
		RuleName:  req.Rule.Name,
		Passed:    res.PassedCount,
		Failed:    res.FailedCount,
		At:        res.StartedAt,
	})
	if err != nil {
		metrics.IncSideEffectFailure("trend")
		c.log.ErrorwCtx(ctx, "Failed to update dataset trend", "error", err)
	}
}

func (c *Coordinator) raiseIncident(ctx context.Context, req Request, res *Result) {
	if c.incidents == nil || res.FailedCount == 0 {
		return
	}

	inc, created, err := c.incidents.Raise(ctx, incident.Failure{
		RuleID:    res.RuleID,
		RuleName:  req.Rule.Name,
		RuleType:  string(req.Rule.RuleType),
		DatasetID: res.DatasetID,
		RunID:     res.RunID,
		Severity:  string(req.Rule.Severity),
		Failed:    res.FailedCount,
		Total:     res.TotalRows,
		Evidence:  res.Evidence,
	})
	if err != nil {
		metrics.IncSideEffectFailure("incident")
		c.log.ErrorwCtx(ctx, "Failed to raise incident", "error", err)
		return
	}
	if inc == nil || c.events == nil {
		return
	}

	if err := c.events.IncidentRaised(ctx, inc, created); err != nil {
		metrics.IncSideEffectFailure("incident_event")
		c.log.ErrorwCtx(ctx, "Failed to publish incident event", "error", err)
	}
}
