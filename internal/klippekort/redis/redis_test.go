package redis

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"ms-klippekort/internal/logger"
	"ms-klippekort/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestLockIsExclusive(t *testing.T) {
	client, _ := setupTestRedis(t)
	lock := NewLock(client, 10*time.Second)
	ctx := context.Background()

	token, ok, err := lock.Acquire(ctx, "KLK000001AA")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = lock.Acquire(ctx, "KLK000001AA")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = lock.Acquire(ctx, "KLK000002BB")
	require.NoError(t, err)
	assert.True(t, ok, "other cards are not blocked")

	require.NoError(t, lock.Release(ctx, "KLK000001AA", token))
	locked, err := lock.IsLocked(ctx, "KLK000001AA")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestReleaseWithForeignTokenKeepsLock(t *testing.T) {
	client, _ := setupTestRedis(t)
	lock := NewLock(client, 10*time.Second)
	ctx := context.Background()

	_, ok, err := lock.Acquire(ctx, "KLK000001AA")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Release(ctx, "KLK000001AA", "someone-else"))

	locked, err := lock.IsLocked(ctx, "KLK000001AA")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestLockExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	lock := NewLock(client, 2*time.Second)
	ctx := context.Background()

	_, ok, err := lock.Acquire(ctx, "KLK000001AA")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(3 * time.Second)

	_, ok, err = lock.Acquire(ctx, "KLK000001AA")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockUnderContention(t *testing.T) {
	client, _ := setupTestRedis(t)
	lock := NewLock(client, 10*time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := lock.Acquire(ctx, "KLK000001AA")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestViewCacheRoundTripAndInvalidate(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewViewCache(client, 5*time.Second, logger.NewWithWriter(io.Discard))
	ctx := context.Background()

	_, ok := cache.Get(ctx, "kari@example.no")
	assert.False(t, ok)

	views := &models.CardViews{
		Active: []models.CardView{{
			PunchCard:   models.PunchCard{ID: "KLK000001AA", StampTotal: 10, StampAmounts: 10, Status: models.CardActive},
			DisplayName: "Klippekort",
		}},
		Archive: []models.CardView{},
	}
	cache.Set(ctx, "kari@example.no", cache.Generation(ctx, "kari@example.no"), views)
	assert.True(t, mr.Exists(viewPrefix+"kari@example.no"))

	got, ok := cache.Get(ctx, "kari@example.no")
	require.True(t, ok)
	require.Len(t, got.Active, 1)
	assert.Equal(t, "KLK000001AA", got.Active[0].ID)
	assert.Equal(t, 10, got.Active[0].StampAmounts)

	cache.Invalidate(ctx, "kari@example.no")
	_, ok = cache.Get(ctx, "kari@example.no")
	assert.False(t, ok)
}

func TestViewCacheExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewViewCache(client, 5*time.Second, logger.NewWithWriter(io.Discard))
	ctx := context.Background()

	cache.Set(ctx, "kari@example.no", 0, &models.CardViews{})
	mr.FastForward(6 * time.Second)

	_, ok := cache.Get(ctx, "kari@example.no")
	assert.False(t, ok)
}

func TestViewCacheDropsCorruptEntry(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewViewCache(client, 5*time.Second, logger.NewWithWriter(io.Discard))

	require.NoError(t, mr.Set(viewPrefix+"kari@example.no", "{not json"))

	_, ok := cache.Get(context.Background(), "kari@example.no")
	assert.False(t, ok)
	assert.False(t, mr.Exists(viewPrefix+"kari@example.no"))
}

func TestViewCacheSkipsWriteAfterInvalidation(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewViewCache(client, 5*time.Second, logger.NewWithWriter(io.Discard))
	ctx := context.Background()

	gen := cache.Generation(ctx, "kari@example.no")
	cache.Invalidate(ctx, "kari@example.no")
	cache.Set(ctx, "kari@example.no", gen, &models.CardViews{})

	assert.False(t, mr.Exists(viewPrefix+"kari@example.no"))
	_, ok := cache.Get(ctx, "kari@example.no")
	assert.False(t, ok)

	gen = cache.Generation(ctx, "kari@example.no")
	assert.Equal(t, uint64(1), gen)
	cache.Set(ctx, "kari@example.no", gen, &models.CardViews{})
	_, ok = cache.Get(ctx, "kari@example.no")
	assert.True(t, ok)
}
