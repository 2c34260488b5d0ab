package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"watchtower/internal/constants"
)

// EnsureTrendCollection creates the indexes the trend store queries by.
// Documents are keyed by dataset id, so only secondary indexes are needed.
func EnsureTrendCollection(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(constants.TrendCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_dataset_trends_updated_at"),
		},
		{
			Keys:    bson.D{{Key: "rules.rule_id", Value: 1}},
			Options: options.Index().SetName("idx_dataset_trends_rule_id"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create trend indexes: %w", err)
	}
	return nil
}
