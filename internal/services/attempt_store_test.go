package services

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAttemptStore_ConcurrentIncrement(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAttemptStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Increment(ctx, "k", time.Minute)
		}()
	}
	wg.Wait()

	n, ttl, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestMemoryAttemptStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryAttemptStore()
	store.now = clock.Now

	store.Increment(ctx, "old", time.Minute)
	clock.Advance(2 * time.Minute)
	store.Increment(ctx, "new", time.Minute)

	n, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, _, _ := store.Get(ctx, "new")
	assert.Equal(t, int64(1), count)
}

func newTestDBStore(t *testing.T) (*DBAttemptStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := NewDBAttemptStore(testutil.OpenDB(t))
	store.now = clock.Now
	return store, clock
}

func TestDBAttemptStore_IncrementAndGet(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestDBStore(t)

	for i := int64(1); i <= 3; i++ {
		n, err := store.Increment(ctx, "alice|10.0.0.1", 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
		clock.Advance(time.Minute)
	}

	n, ttl, err := store.Get(ctx, "alice|10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 12*time.Minute, ttl)
}

func TestDBAttemptStore_ResetsAfterExpiry(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestDBStore(t)

	store.Increment(ctx, "k", time.Minute)
	store.Increment(ctx, "k", time.Minute)
	clock.Advance(2 * time.Minute)

	n, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "elapsed window reads as empty")

	n, err = store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ttl, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl, "expiry moves with the new window")
}

func TestDBAttemptStore_DeleteAndPurge(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestDBStore(t)

	store.Increment(ctx, "a", time.Minute)
	store.Increment(ctx, "b", time.Hour)
	require.NoError(t, store.Delete(ctx, "b"))

	clock.Advance(2 * time.Minute)
	n, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var count int64
	store.db.Model(&models.LoginAttempt{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestDBAttemptStore_ConcurrentIncrement(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestDBStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Increment(ctx, "k", time.Hour)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)
}

// Runs against a real server when TEST_REDIS_ADDR is set.
func TestRedisAttemptStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	store := NewRedisAttemptStore(client, "gatehouse:test:"+t.Name()+":")
	require.NoError(t, store.Delete(ctx, "k"))

	for i := int64(1); i <= 3; i++ {
		n, err := store.Increment(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	n, ttl, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, store.Delete(ctx, "k"))
	n, _, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
