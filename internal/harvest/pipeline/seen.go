package pipeline

import (
	"context"
	"time"

	"github.com/edgecomet/harvester/internal/common/redis"
)

// SeenSet remembers products enriched by recent runs
type SeenSet interface {
	// Seen reports whether digest was marked within its TTL
	Seen(ctx context.Context, digest string) (bool, error)
	// MarkSeen records digest for ttl, refreshing an existing mark
	MarkSeen(ctx context.Context, digest string, ttl time.Duration) error
}

// RedisSeenSet keeps the seen-set as keys with a TTL whose value is the
// run id that last enriched the product
type RedisSeenSet struct {
	client *redis.Client
	runID  string
}

func NewRedisSeenSet(client *redis.Client, runID string) *RedisSeenSet {
	return &RedisSeenSet{client: client, runID: runID}
}

func (s *RedisSeenSet) Seen(ctx context.Context, digest string) (bool, error) {
	v, err := s.client.Get(ctx, redis.SeenKey(digest))
	if err != nil {
		return false, err
	}
	return v != "", nil
}

func (s *RedisSeenSet) MarkSeen(ctx context.Context, digest string, ttl time.Duration) error {
	return s.client.Set(ctx, redis.SeenKey(digest), s.runID, ttl)
}
