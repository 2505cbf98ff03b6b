package deduplication

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClaimStore holds the claims of the invocation guard. A claim is a key owned
// by a token until it expires or its owner releases it.
type ClaimStore interface {
	Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release drops the claim if owner still holds it and reports whether it
	// did.
	Release(ctx context.Context, key, owner string) (bool, error)
}

// releaseScript deletes KEYS[1] only while it holds ARGV[1], so an owner whose
// claim expired cannot drop the claim of the next owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisClaimStore struct {
	client *redis.Client
}

func NewRedisClaimStore(client *redis.Client) *RedisClaimStore {
	return &RedisClaimStore{client: client}
}

func (s *RedisClaimStore) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisClaimStore) Release(ctx context.Context, key, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{key}, owner).Int()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}
	return n == 1, nil
}
