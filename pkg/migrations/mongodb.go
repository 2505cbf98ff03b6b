package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureMongoIndexes creates the indexes of the persons and invocation log
// collections. Existing indexes are left alone.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database, personsCollection, invocationsCollection string) error {
	persons := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "distinct_ids", Value: 1}},
			Options: options.Index().SetName("idx_persons_distinct_ids"),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_persons_updated_at"),
		},
	}
	if err := createIndexes(ctx, db.Collection(personsCollection), persons); err != nil {
		return err
	}

	invocations := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "function_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_invocations_function_created_at"),
		},
		{
			Keys:    bson.D{{Key: "event_uuid", Value: 1}},
			Options: options.Index().SetName("idx_invocations_event_uuid"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_invocations_status_created_at"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_invocations_created_at"),
		},
	}
	return createIndexes(ctx, db.Collection(invocationsCollection), invocations)
}

func createIndexes(ctx context.Context, collection *mongo.Collection, indexes []mongo.IndexModel) error {
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes on %s: %w", collection.Name(), err)
	}
	return nil
}
