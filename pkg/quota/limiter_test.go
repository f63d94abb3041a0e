package quota

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	store := NewMemoryStore()
	limiter := NewLimiter(store, map[Tier]Rule{
		TierAuthenticated: {Limit: 3, Window: time.Minute},
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d, err := limiter.Check(ctx, TierAuthenticated, "user-1", "api")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.EqualValues(t, 3, d.Limit)
		assert.EqualValues(t, 3-(i+1), d.Remaining)
	}

	d, err := limiter.Check(ctx, TierAuthenticated, "user-1", "api")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.EqualValues(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.False(t, d.ResetAt.IsZero())
}

func TestLimiter_OperationsDoNotInterfere(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), map[Tier]Rule{
		TierStrict: {Limit: 1, Window: time.Hour},
	})
	ctx := context.Background()

	d, err := limiter.Check(ctx, TierStrict, "user-1", "generate_document")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = limiter.Check(ctx, TierStrict, "user-1", "generate_document")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// a different operation for the same user still has full quota
	d, err = limiter.Check(ctx, TierStrict, "user-1", "export_report")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_SubjectsDoNotInterfere(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), map[Tier]Rule{
		TierAnonymous: {Limit: 1, Window: time.Minute},
	})
	ctx := context.Background()

	d, err := limiter.Check(ctx, TierAnonymous, "203.0.113.7", "login")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = limiter.Check(ctx, TierAnonymous, "203.0.113.7", "login")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	d, err = limiter.Check(ctx, TierAnonymous, "198.51.100.4", "login")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_WindowResets(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	limiter := NewLimiter(store, map[Tier]Rule{
		TierAuthenticated: {Limit: 2, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Check(ctx, TierAuthenticated, "user-1", "api")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := limiter.Check(ctx, TierAuthenticated, "user-1", "api")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// cross the window boundary: full quota again
	current = current.Add(time.Minute)
	d, err = limiter.Check(ctx, TierAuthenticated, "user-1", "api")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.EqualValues(t, 1, d.Remaining)
}

// N concurrent requests against a limit of L must admit exactly L.
func TestLimiter_ConcurrentChecksAdmitExactlyLimit(t *testing.T) {
	const limit = 50
	const extra = 30

	limiter := NewLimiter(NewMemoryStore(), map[Tier]Rule{
		TierAuthenticated: {Limit: limit, Window: time.Minute},
	})
	ctx := context.Background()

	var eg errgroup.Group
	var allowed atomic.Int64

	for i := 0; i < limit+extra; i++ {
		eg.Go(func() error {
			d, err := limiter.Check(ctx, TierAuthenticated, "user-1", "api")
			if err != nil {
				return err
			}
			if d.Allowed {
				allowed.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	assert.EqualValues(t, limit, allowed.Load())
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("connection refused")
}

func TestLimiter_StoreFailureDenies(t *testing.T) {
	limiter := NewLimiter(failingStore{}, nil)

	d, err := limiter.Check(context.Background(), TierAuthenticated, "user-1", "api")
	require.Error(t, err)
	assert.False(t, d.Allowed, "counter outage must deny, not wave requests through")
}

func TestLimiter_UnknownTierFallsBack(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), nil)

	d, err := limiter.Check(context.Background(), Tier("mystery"), "user-1", "api")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules()[TierAuthenticated].Limit, d.Limit)
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	ctx := context.Background()
	_, _, err := store.Incr(ctx, "quota:a", time.Minute)
	require.NoError(t, err)
	_, _, err = store.Incr(ctx, "quota:b", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	deleted := store.Sweep(ctx, current.Add(2*time.Minute))
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, store.Len())

	// sweep is idempotent
	assert.Equal(t, 0, store.Sweep(ctx, current.Add(2*time.Minute)))
}
