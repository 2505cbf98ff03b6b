package persons

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hogflow/internal/config"
	"hogflow/internal/constants"
	"hogflow/internal/logger"
	"hogflow/pkg/circuitbreaker"
	"hogflow/pkg/metrics"
)

type Store interface {
	FindByDistinctID(ctx context.Context, distinctID string) (*Person, error)
}

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	return &MongoStore{collection: db.Collection(collection)}
}

func (s *MongoStore) FindByDistinctID(ctx context.Context, distinctID string) (*Person, error) {
	start := time.Now()
	var p Person
	err := s.collection.FindOne(ctx, bson.M{"distinct_ids": distinctID}).Decode(&p)
	metrics.ObserveDatabaseQueryDuration("persons", "mongodb", "find_person", time.Since(start))
	if errors.Is(err, mongo.ErrNoDocuments) {
		metrics.IncDatabaseQuery("persons", "mongodb", "find_person", "not_found")
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.IncDatabaseQuery("persons", "mongodb", "find_person", "error")
		return nil, fmt.Errorf("find person: %w", err)
	}
	metrics.IncDatabaseQuery("persons", "mongodb", "find_person", "success")
	p.Properties = normalizeMap(p.Properties)
	return &p, nil
}

// Upsert stores p, replacing any person with the same id.
func (s *MongoStore) Upsert(ctx context.Context, p *Person) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": p.ID}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert person: %w", err)
	}
	return nil
}

// normalizeMap turns the BSON container types the driver decodes into
// interface{} values into plain maps and slices.
func normalizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, val := range m {
		out[k] = normalizeValue(val)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case primitive.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case primitive.M:
		return normalizeMap(t)
	case map[string]interface{}:
		return normalizeMap(t)
	case primitive.A:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	case int32:
		return int64(t)
	default:
		return v
	}
}

// CachedStore reads through a Redis cache. Redis failures fall back to the
// underlying store.
type CachedStore struct {
	store  Store
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedStore(store Store, client *redis.Client, ttl time.Duration, log logger.Logger) *CachedStore {
	return &CachedStore{store: store, client: client, ttl: ttl, logger: log}
}

func cacheKey(distinctID string) string {
	return constants.CacheKeyPrefixPerson + distinctID
}

func (s *CachedStore) FindByDistinctID(ctx context.Context, distinctID string) (*Person, error) {
	key := cacheKey(distinctID)
	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Person
		if jerr := json.Unmarshal(raw, &p); jerr == nil {
			metrics.PersonLookupsTotal.WithLabelValues("cache").Inc()
			return &p, nil
		}
		s.logger.WarnwCtx(ctx, "Discarding unreadable cached person", "key", key)
	case !errors.Is(err, redis.Nil):
		metrics.PersonLookupsTotal.WithLabelValues("cache_error").Inc()
		s.logger.WarnwCtx(ctx, "Person cache unavailable", "error", err)
	}

	p, err := s.store.FindByDistinctID(ctx, distinctID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.PersonLookupsTotal.WithLabelValues("miss").Inc()
		} else {
			metrics.PersonLookupsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.PersonLookupsTotal.WithLabelValues("database").Inc()

	if data, jerr := json.Marshal(p); jerr == nil {
		if serr := s.client.Set(ctx, key, data, s.ttl).Err(); serr != nil {
			s.logger.WarnwCtx(ctx, "Failed to cache person", "error", serr)
		}
	}
	return p, nil
}

// Invalidate drops the cached entries of the given distinct ids.
func (s *CachedStore) Invalidate(ctx context.Context, distinctIDs ...string) error {
	if len(distinctIDs) == 0 {
		return nil
	}
	keys := make([]string, len(distinctIDs))
	for i, id := range distinctIDs {
		keys[i] = cacheKey(id)
	}
	return s.client.Del(ctx, keys...).Err()
}

// BreakerStore stops calling the underlying store while it keeps failing.
type BreakerStore struct {
	store Store
	cb    *circuitbreaker.Breaker
}

// WithCircuitBreaker wraps store when cfg is enabled.
func WithCircuitBreaker(store Store, cfg config.CircuitBreakerConfig) Store {
	if !cfg.Enabled {
		return store
	}
	return &BreakerStore{store: store, cb: circuitbreaker.New(circuitbreaker.SettingsFrom("persons", cfg))}
}

func (s *BreakerStore) FindByDistinctID(ctx context.Context, distinctID string) (*Person, error) {
	var notFound bool
	p, err := circuitbreaker.Execute(ctx, s.cb, func() (*Person, error) {
		p, err := s.store.FindByDistinctID(ctx, distinctID)
		// a missing person is a healthy answer
		if errors.Is(err, ErrNotFound) {
			notFound = true
			return nil, nil
		}
		return p, err
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, ErrNotFound
	}
	return p, nil
}
