package destinations

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hogflow/internal/config"
	"hogflow/internal/constants"
	"hogflow/internal/logger"
	"hogflow/pkg/metrics"
	"hogflow/pkg/models"
)

// InvocationStore records the outcome of every execution.
type InvocationStore interface {
	Save(ctx context.Context, result *models.InvocationResult) error
}

// InvocationQuery selects invocation log entries. Empty fields match everything.
type InvocationQuery struct {
	FunctionID string
	EventUUID  string
	Status     string
	Since      time.Time
	Limit      int
}

type MongoInvocationStore struct {
	collection *mongo.Collection
}

func NewMongoInvocationStore(db *mongo.Database, collection string) *MongoInvocationStore {
	if collection == "" {
		collection = constants.DefaultInvocationsCollection
	}
	return &MongoInvocationStore{collection: db.Collection(collection)}
}

func (s *MongoInvocationStore) Save(ctx context.Context, result *models.InvocationResult) error {
	start := time.Now()
	_, err := s.collection.InsertOne(ctx, result)
	metrics.ObserveDatabaseQueryDuration("destinations", "mongodb", "save_invocation", time.Since(start))
	if err != nil {
		metrics.IncDatabaseQuery("destinations", "mongodb", "save_invocation", "error")
		return fmt.Errorf("failed to save invocation: %w", err)
	}
	metrics.IncDatabaseQuery("destinations", "mongodb", "save_invocation", "success")
	return nil
}

// List returns matching entries, newest first.
func (s *MongoInvocationStore) List(ctx context.Context, q InvocationQuery) ([]models.InvocationResult, error) {
	filter := bson.M{}
	if q.FunctionID != "" {
		filter["function_id"] = q.FunctionID
	}
	if q.EventUUID != "" {
		filter["event_uuid"] = q.EventUUID
	}
	if q.Status != "" {
		filter["status"] = q.Status
	}
	if !q.Since.IsZero() {
		filter["created_at"] = bson.M{"$gte": q.Since}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	if limit > constants.MaxLimit {
		limit = constants.MaxLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	defer cursor.Close(ctx)

	results := make([]models.InvocationResult, 0)
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode invocations: %w", err)
	}
	return results, nil
}

// PurgeOlderThan deletes the entries created before cutoff.
func (s *MongoInvocationStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.collection.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to purge invocations: %w", err)
	}
	return res.DeletedCount, nil
}

type purgeStore interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Purger deletes invocation log entries past the retention on a cron schedule.
type Purger struct {
	store     purgeStore
	retention time.Duration
	schedule  string
	now       func() time.Time
	logger    logger.Logger
}

func NewPurger(store purgeStore, cfg config.InvocationsConfig, log logger.Logger) *Purger {
	schedule := cfg.PurgeSchedule
	if schedule == "" {
		schedule = "@daily"
	}
	return &Purger{
		store:     store,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		schedule:  schedule,
		now:       time.Now,
		logger:    log,
	}
}

// Purge runs one purge. A retention of zero keeps everything.
func (p *Purger) Purge(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.InvocationLogsPurgedTotal.WithLabelValues().Add(float64(n))
	p.logger.InfowCtx(ctx, "Purged invocation logs", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// Run purges on schedule until ctx is done.
func (p *Purger) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() {
		if _, err := p.Purge(ctx); err != nil {
			p.logger.ErrorwCtx(ctx, "Failed to purge invocation logs", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", p.schedule, err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
