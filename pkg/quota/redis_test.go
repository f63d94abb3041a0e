package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_Incr(t *testing.T) {
	store, _ := newRedisStore(t)
	current := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	store.now = func() time.Time { return current }

	ctx := context.Background()
	count, resetAt, err := store.Incr(ctx, "quota:authenticated:api:user-1", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC), resetAt)

	count, _, err = store.Incr(ctx, "quota:authenticated:api:user-1", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestRedisStore_WindowBoundaryStartsFresh(t *testing.T) {
	store, _ := newRedisStore(t)
	current := time.Date(2026, 3, 1, 12, 0, 59, 0, time.UTC)
	store.now = func() time.Time { return current }

	ctx := context.Background()
	count, _, err := store.Incr(ctx, "quota:k", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	// next minute is a different key, so the counter restarts
	current = current.Add(time.Second)
	count, resetAt, err := store.Incr(ctx, "quota:k", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 2, 0, 0, time.UTC), resetAt)
}

func TestRedisStore_KeysExpire(t *testing.T) {
	store, mr := newRedisStore(t)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	_, _, err := store.Incr(context.Background(), "quota:k", time.Minute)
	require.NoError(t, err)

	mr.FastForward(3 * time.Minute)
	assert.Empty(t, mr.Keys())
}

func TestLimiter_OverRedis(t *testing.T) {
	store, _ := newRedisStore(t)
	limiter := NewLimiter(store, map[Tier]Rule{
		TierStrict: {Limit: 2, Window: time.Hour},
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := limiter.Check(ctx, TierStrict, "user-1", "generate_document")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := limiter.Check(ctx, TierStrict, "user-1", "generate_document")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.EqualValues(t, 0, d.Remaining)
}

func TestLimiter_RedisDownDenies(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	limiter := NewLimiter(NewRedisStore(client), nil)

	mr.Close()

	d, err := limiter.Check(context.Background(), TierAuthenticated, "user-1", "api")
	require.Error(t, err)
	assert.False(t, d.Allowed)
}
