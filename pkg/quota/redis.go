package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is the production CounterStore: counters shared across
// instances, expired by Redis itself.
//
// Each key carries its window start, so a key belongs to exactly one fixed
// window and the reset instant is computable without a TTL round trip. The
// key expiry only reclaims memory; it is set a little past the window end
// so a counter never vanishes while its window is still open.
//
// Windows here are anchored to wall-clock boundaries (now truncated to the
// window length) so every instance increments the same shared key. The
// in-memory store instead starts a subject's window at its first event;
// it has no cross-instance key to agree on. Both enforce the same limit
// per window and report a consistent resetAt for their own scheme.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		now:    time.Now,
	}
}

// Incr implements CounterStore using a pipelined INCR + EXPIRE.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	windowStart := s.now().Truncate(window)
	resetAt := windowStart.Add(window)
	windowKey := fmt.Sprintf("%s:%d", key, windowStart.Unix())

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment quota counter: %w", err)
	}

	return incr.Val(), resetAt, nil
}
