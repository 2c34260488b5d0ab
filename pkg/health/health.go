package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const checkTimeout = 5 * time.Second

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

type registered struct {
	checker  Checker
	optional bool
}

// CheckerRegistry probes the engine's backing stores. A required store
// being down makes the service unhealthy; an optional one only degrades it,
// because runs still complete without trends, the rule cache or evidence
// uploads.
type CheckerRegistry struct {
	mu       sync.RWMutex
	checkers []registered
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.add(registered{checker: checker})
}

func (r *CheckerRegistry) RegisterOptional(checker Checker) {
	r.add(registered{checker: checker, optional: true})
}

func (r *CheckerRegistry) add(reg registered) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, reg)
}

// Check probes every store concurrently, each under its own timeout.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	r.mu.RLock()
	checkers := append([]registered(nil), r.checkers...)
	r.mu.RUnlock()

	results := make([]CheckResult, len(checkers))
	var g errgroup.Group
	for i, reg := range checkers {
		g.Go(func() error {
			results[i] = probe(ctx, reg)
			return nil
		})
	}
	_ = g.Wait()

	h := Health{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checkers)),
	}
	for i, reg := range checkers {
		res := results[i]
		h.Checks[reg.checker.Name()] = res
		switch {
		case res.Status == StatusUnhealthy:
			h.Status = StatusUnhealthy
		case res.Status == StatusDegraded && h.Status == StatusHealthy:
			h.Status = StatusDegraded
		}
	}
	return h
}

func probe(ctx context.Context, reg registered) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := reg.checker.Check(ctx)
	res := CheckResult{
		Status:    StatusHealthy,
		LatencyMS: time.Since(start).Milliseconds(),
		Timestamp: time.Now(),
	}
	if err != nil {
		res.Message = err.Error()
		res.Status = StatusUnhealthy
		if reg.optional {
			res.Status = StatusDegraded
		}
	}
	return res
}

// pingChecker adapts a store's ping call to Checker.
type pingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func (c pingChecker) Name() string { return c.name }

func (c pingChecker) Check(ctx context.Context) error {
	if err := c.ping(ctx); err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	return nil
}

// NewPostgreSQLChecker probes the catalog and run store.
func NewPostgreSQLChecker(db *sql.DB) Checker {
	return pingChecker{name: "postgresql", ping: db.PingContext}
}

// NewRedisChecker probes the rule cache.
func NewRedisChecker(client *redis.Client) Checker {
	return pingChecker{name: "redis", ping: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// NewMongoDBChecker probes the trend store.
func NewMongoDBChecker(client *mongo.Client) Checker {
	return pingChecker{name: "mongodb", ping: func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	}}
}

// NewMinioChecker probes the evidence bucket.
func NewMinioChecker(client *minio.Client, bucket string) Checker {
	return pingChecker{name: "object_storage", ping: func(ctx context.Context) error {
		ok, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("bucket %q does not exist", bucket)
		}
		return nil
	}}
}
