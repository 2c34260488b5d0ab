package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"watchtower/internal/constants"
	"watchtower/internal/logger"
	"watchtower/pkg/metrics"
)

// cacheClient is the subset of the redis client the cache uses.
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedRepository serves rule and dataset lookups from redis and falls
// back to the wrapped repository. Cache failures are logged and never fail
// a lookup.
type CachedRepository struct {
	Repository
	client cacheClient
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedRepository(repo Repository, client cacheClient, ttl time.Duration, log logger.Logger) *CachedRepository {
	if ttl <= 0 {
		ttl = constants.DefaultTTLSeconds * time.Second
	}
	return &CachedRepository{
		Repository: repo,
		client:     client,
		ttl:        ttl,
		logger:     log,
	}
}

func (r *CachedRepository) GetRule(ctx context.Context, id string) (*Rule, error) {
	key := constants.CacheKeyPrefixRule + id

	var rule Rule
	if r.lookup(ctx, key, &rule) {
		return &rule, nil
	}

	fresh, err := r.Repository.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, fresh)
	return fresh, nil
}

func (r *CachedRepository) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	key := constants.CacheKeyPrefixDataset + id

	var ds Dataset
	if r.lookup(ctx, key, &ds) {
		return &ds, nil
	}

	fresh, err := r.Repository.GetDataset(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, fresh)
	return fresh, nil
}

func (r *CachedRepository) SetRuleActive(ctx context.Context, id string, active bool) error {
	if err := r.Repository.SetRuleActive(ctx, id, active); err != nil {
		return err
	}
	if err := r.client.Del(ctx, constants.CacheKeyPrefixRule+id).Err(); err != nil {
		r.logger.WarnwCtx(ctx, "Failed to invalidate cached rule", "rule_id", id, "error", err)
	}
	return nil
}

func (r *CachedRepository) lookup(ctx context.Context, key string, dest interface{}) bool {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		metrics.RuleCacheRequestsTotal.WithLabelValues("miss").Inc()
		return false
	}
	if err != nil {
		metrics.RuleCacheRequestsTotal.WithLabelValues("error").Inc()
		r.logger.WarnwCtx(ctx, "Catalog cache read failed", "key", key, "error", err)
		return false
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		metrics.RuleCacheRequestsTotal.WithLabelValues("error").Inc()
		r.logger.WarnwCtx(ctx, "Discarding undecodable cache entry", "key", key, "error", err)
		return false
	}
	metrics.RuleCacheRequestsTotal.WithLabelValues("hit").Inc()
	return true
}

func (r *CachedRepository) store(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.logger.WarnwCtx(ctx, "Catalog cache write failed", "key", key, "error", err)
	}
}
