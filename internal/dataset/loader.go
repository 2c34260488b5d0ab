package dataset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"watchtower/internal/constants"
	"watchtower/internal/logger"
	"watchtower/pkg/metrics"
	"watchtower/pkg/retry"
)

// Source locates a dataset snapshot. Type is CSV or DB; Location is a file
// path, an s3://bucket/key URI, or a [schema.]table name.
type Source struct {
	Type     string
	Location string
}

func (s Source) String() string {
	return s.Type + ":" + s.Location
}

type Loader interface {
	Load(ctx context.Context, src Source) (*Table, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, src Source) (*Table, error)

func (f LoaderFunc) Load(ctx context.Context, src Source) (*Table, error) {
	return f(ctx, src)
}

// DatasetLoadError wraps any I/O or decoding failure while producing a
// table. Retryable is set for transient failures such as network errors.
type DatasetLoadError struct {
	Source    Source
	Err       error
	Retryable bool
}

func (e *DatasetLoadError) Error() string {
	return fmt.Sprintf("failed to load dataset %s: %v", e.Source, e.Err)
}

func (e *DatasetLoadError) Unwrap() error {
	return e.Err
}

func (e *DatasetLoadError) IsRetryable() bool {
	return e.Retryable
}

func loadError(src Source, err error, retryable bool) error {
	var existing *DatasetLoadError
	if errors.As(err, &existing) {
		return err
	}
	return &DatasetLoadError{Source: src, Err: err, Retryable: retryable}
}

// Router dispatches a source to the loader registered for it. CSV sources
// with an s3:// location go to the object loader.
type Router struct {
	file     Loader
	object   Loader
	database Loader
}

type RouterOption func(*Router)

func WithObjectLoader(l Loader) RouterOption {
	return func(r *Router) { r.object = l }
}

func WithDatabaseLoader(l Loader) RouterOption {
	return func(r *Router) { r.database = l }
}

func NewRouter(file Loader, opts ...RouterOption) *Router {
	r := &Router{file: file}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Load(ctx context.Context, src Source) (*Table, error) {
	loader, err := r.route(src)
	if err != nil {
		return nil, loadError(src, err, false)
	}
	return loader.Load(ctx, src)
}

func (r *Router) route(src Source) (Loader, error) {
	switch strings.ToUpper(src.Type) {
	case constants.SourceTypeCSV, "":
		if strings.HasPrefix(src.Location, "s3://") {
			if r.object == nil {
				return nil, errors.New("object storage is not configured")
			}
			return r.object, nil
		}
		if r.file == nil {
			return nil, errors.New("file loader is not configured")
		}
		return r.file, nil
	case constants.SourceTypeDatabase:
		if r.database == nil {
			return nil, errors.New("database sources are not configured")
		}
		return r.database, nil
	}
	return nil, fmt.Errorf("unsupported source type %q", src.Type)
}

// RetryingLoader retries transient load failures and records load metrics.
type RetryingLoader struct {
	next   Loader
	policy retry.Policy
	logger logger.Logger
}

func NewRetryingLoader(next Loader, policy retry.Policy, log logger.Logger) *RetryingLoader {
	return &RetryingLoader{next: next, policy: policy, logger: log}
}

func (l *RetryingLoader) Load(ctx context.Context, src Source) (*Table, error) {
	start := time.Now()

	var table *Table
	err := retry.RetryWithCallback(ctx, l.policy, func() error {
		t, err := l.next.Load(ctx, src)
		if err != nil {
			return err
		}
		table = t
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(constants.ServiceName, "dataset").Inc()
		l.logger.WarnwCtx(ctx, "Retrying dataset load",
			"attempt", attempt,
			"max_attempts", l.policy.MaxAttempts,
			"next_delay", nextDelay,
			"source", src.String(),
			"error", err,
		)
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ObserveDatasetLoad(strings.ToUpper(src.Type), status, time.Since(start))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = ctxErr
		}
		return nil, loadError(src, err, false)
	}
	return table, nil
}
