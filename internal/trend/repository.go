package trend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"watchtower/internal/constants"
	"watchtower/pkg/retry"
)

// ErrVersionConflict means another writer updated the trend first.
var ErrVersionConflict = errors.New("trend version conflict")

type MongoRepository struct {
	collection *mongo.Collection
	policy     retry.Policy
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(constants.TrendCollection),
		policy: retry.Policy{
			MaxAttempts:     5,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     200 * time.Millisecond,
			Multiplier:      2.0,
		},
	}
}

func (r *MongoRepository) Get(ctx context.Context, datasetID string) (*Trend, error) {
	t, err := r.find(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return &Trend{DatasetID: datasetID, Days: []DailyBucket{}, Rules: []RuleRate{}}, nil
	}
	return t, nil
}

func (r *MongoRepository) find(ctx context.Context, datasetID string) (*Trend, error) {
	var t Trend
	err := r.collection.FindOne(ctx, bson.M{"_id": datasetID}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trend: %w", err)
	}
	return &t, nil
}

// Update retries on version conflicts. Each attempt re-reads the document so
// fn always sees the latest state.
func (r *MongoRepository) Update(ctx context.Context, datasetID string, fn func(*Trend) *Trend) (*Trend, error) {
	var updated *Trend

	err := retry.Retry(ctx, r.policy, func() error {
		current, err := r.find(ctx, datasetID)
		if err != nil {
			return err
		}

		next := fn(current)
		next.DatasetID = datasetID

		if current == nil {
			next.Version = 1
			if _, err := r.collection.InsertOne(ctx, next); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					return ErrVersionConflict
				}
				return fmt.Errorf("failed to insert trend: %w", err)
			}
			updated = next
			return nil
		}

		next.Version = current.Version + 1
		res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": datasetID, "version": current.Version}, next)
		if err != nil {
			return fmt.Errorf("failed to replace trend: %w", err)
		}
		if res.MatchedCount == 0 {
			return ErrVersionConflict
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

type MemoryRepository struct {
	mu     sync.Mutex
	trends map[string]*Trend
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{trends: make(map[string]*Trend)}
}

func (r *MemoryRepository) Get(_ context.Context, datasetID string) (*Trend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trends[datasetID]
	if !ok {
		return &Trend{DatasetID: datasetID, Days: []DailyBucket{}, Rules: []RuleRate{}}, nil
	}
	cp := *t
	cp.Days = append([]DailyBucket(nil), t.Days...)
	cp.Rules = append([]RuleRate(nil), t.Rules...)
	return &cp, nil
}

func (r *MemoryRepository) Update(_ context.Context, datasetID string, fn func(*Trend) *Trend) (*Trend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.trends[datasetID]
	next := fn(current)
	next.DatasetID = datasetID
	next.Version = 1
	if current != nil {
		next.Version = current.Version + 1
	}
	r.trends[datasetID] = next
	return next, nil
}
