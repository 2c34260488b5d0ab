package run

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"watchtower/internal/catalog"
	"watchtower/internal/constants"
	"watchtower/internal/logger"
	pkgerrors "watchtower/pkg/errors"
	"watchtower/pkg/metrics"
)

// Catalog is the part of the rule catalog the dispatcher reads.
type Catalog interface {
	GetRule(ctx context.Context, id string) (*catalog.Rule, error)
	GetDataset(ctx context.Context, id string) (*catalog.Dataset, error)
	ListActiveRules(ctx context.Context, datasetID string) ([]*catalog.Rule, error)
}

type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// RuleRun is the outcome of one rule within a dataset run. Result is set
// whenever a run was recorded, including failed runs.
type RuleRun struct {
	RuleID string  `json:"rule_id"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

type DatasetRun struct {
	DatasetID string    `json:"dataset_id"`
	StartedAt time.Time `json:"started_at"`
	Runs      []RuleRun `json:"runs"`
}

// Failed counts rules whose run ended FAILED or could not be recorded.
func (d *DatasetRun) Failed() int {
	n := 0
	for _, r := range d.Runs {
		if r.Error != "" {
			n++
		}
	}
	return n
}

// Dispatcher resolves rules from the catalog and hands them to the
// coordinator.
type Dispatcher struct {
	catalog      Catalog
	exec         Executor
	log          logger.Logger
	concurrency  int
	weekdaysOnly bool
	now          func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithWeekdaysOnly refuses dataset runs scheduled on Saturday or Sunday.
func WithWeekdaysOnly(enabled bool) DispatcherOption {
	return func(d *Dispatcher) { d.weekdaysOnly = enabled }
}

func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(cat Catalog, exec Executor, log logger.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		catalog:     cat,
		exec:        exec,
		log:         log,
		concurrency: constants.DefaultExecutionConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunRule executes one rule against its dataset. A zero startedAt means now.
func (d *Dispatcher) RunRule(ctx context.Context, ruleID string, startedAt time.Time) (*Result, error) {
	rule, err := d.catalog.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	ds, err := d.catalog.GetDataset(ctx, rule.DatasetID)
	if err != nil {
		return nil, err
	}

	if startedAt.IsZero() {
		startedAt = d.now()
	}
	return d.exec.Execute(ctx, Request{Rule: rule, Dataset: ds, StartedAt: startedAt})
}

// RunDataset executes every active rule of the dataset with the same start
// time. A failing rule does not stop the others.
func (d *Dispatcher) RunDataset(ctx context.Context, datasetID string, startedAt time.Time) (*DatasetRun, error) {
	if startedAt.IsZero() {
		startedAt = d.now()
	}
	if d.weekdaysOnly && isWeekend(startedAt) {
		metrics.ExecutionsSkippedTotal.WithLabelValues("weekend").Inc()
		d.log.InfowCtx(ctx, "Weekend detected, dataset run skipped",
			"dataset_id", datasetID,
			"started_at", startedAt,
		)
		return nil, pkgerrors.ErrSkipped.WithDetail("message",
			fmt.Sprintf("dataset runs are only allowed Monday to Friday, got %s", startedAt.Weekday()))
	}

	ds, err := d.catalog.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	rules, err := d.catalog.ListActiveRules(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	out := &DatasetRun{
		DatasetID: datasetID,
		StartedAt: startedAt.UTC(),
		Runs:      make([]RuleRun, len(rules)),
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, rule := range rules {
		g.Go(func() error {
			res, err := d.exec.Execute(ctx, Request{Rule: rule, Dataset: ds, StartedAt: startedAt})
			out.Runs[i] = RuleRun{RuleID: rule.ID, Result: res}
			if err != nil {
				out.Runs[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	d.log.InfowCtx(ctx, "Dataset run finished",
		"dataset_id", datasetID,
		"rules", len(rules),
		"failed", out.Failed(),
	)
	return out, nil
}

func isWeekend(t time.Time) bool {
	day := t.Weekday()
	return day == time.Saturday || day == time.Sunday
}
