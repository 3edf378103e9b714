package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CheckAndRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("allows up to N events within window", func(t *testing.T) {
		store := NewMemoryStore(Config{Window: 60 * time.Second, MaxEvents: 10})
		now := time.Now()

		for i := 0; i < 10; i++ {
			res, err := store.CheckAndRecord(ctx, "u1", now.Add(time.Duration(i)*time.Second))
			require.NoError(t, err)
			assert.True(t, res.Allowed, "event %d should be allowed", i+1)
		}
	})

	t.Run("denies the N+1th event", func(t *testing.T) {
		store := NewMemoryStore(Config{Window: 60 * time.Second, MaxEvents: 10})
		now := time.Now()

		for i := 0; i < 10; i++ {
			_, err := store.CheckAndRecord(ctx, "u1", now)
			require.NoError(t, err)
		}

		res, err := store.CheckAndRecord(ctx, "u1", now.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Greater(t, res.RetryAfter, time.Duration(0))
		assert.LessOrEqual(t, res.RetryAfter, 60*time.Second)
	})

	t.Run("window slides as events expire", func(t *testing.T) {
		store := NewMemoryStore(Config{Window: 60 * time.Second, MaxEvents: 2})
		now := time.Now()

		for i := 0; i < 2; i++ {
			res, err := store.CheckAndRecord(ctx, "u1", now)
			require.NoError(t, err)
			require.True(t, res.Allowed)
		}

		res, err := store.CheckAndRecord(ctx, "u1", now.Add(30*time.Second))
		require.NoError(t, err)
		assert.False(t, res.Allowed)

		// 61s later the original two events have expired.
		res, err = store.CheckAndRecord(ctx, "u1", now.Add(61*time.Second))
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("users are limited independently", func(t *testing.T) {
		store := NewMemoryStore(Config{Window: 60 * time.Second, MaxEvents: 1})
		now := time.Now()

		res, err := store.CheckAndRecord(ctx, "u1", now)
		require.NoError(t, err)
		require.True(t, res.Allowed)

		res, err = store.CheckAndRecord(ctx, "u1", now)
		require.NoError(t, err)
		assert.False(t, res.Allowed)

		res, err = store.CheckAndRecord(ctx, "u2", now)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})
}

func TestMemoryStore_ActiveUsers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(Config{Window: 60 * time.Second, MaxEvents: 10})
	now := time.Now()

	_, err := store.CheckAndRecord(ctx, "u1", now)
	require.NoError(t, err)
	_, err = store.CheckAndRecord(ctx, "u2", now)
	require.NoError(t, err)

	count, err := store.ActiveUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Expired users are pruned.
	_, err = store.CheckAndRecord(ctx, "u3", now.Add(-2*time.Minute))
	require.NoError(t, err)
	count, err = store.ActiveUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(Config{Window: 60 * time.Second, MaxEvents: 100})
	now := time.Now()

	var wg sync.WaitGroup
	allowed := make([]int, 10)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				res, err := store.CheckAndRecord(ctx, "shared", now)
				if err == nil && res.Allowed {
					allowed[g]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, n := range allowed {
		total += n
	}
	assert.Equal(t, 100, total, "exactly MaxEvents should be admitted")
}
