package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func redisTestKey() Key {
	return Key{UserID: "u", DocumentID: uuid.NewString(), Fingerprint: "fp", RunID: uuid.NewString()}
}

func TestRedisCacheUpdateIfBetter(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	c := NewRedisCache(rdb, time.Minute)
	key := redisTestKey()

	require.NoError(t, c.Store(ctx, key, PartialResult{OptimizedContent: "forty", MatchScore: 61, Progress: 40}))
	require.NoError(t, c.Store(ctx, key, PartialResult{OptimizedContent: "twenty", MatchScore: 12, Progress: 20}))
	require.NoError(t, c.Store(ctx, key, PartialResult{OptimizedContent: "also forty", Progress: 40}))

	entry, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 40, entry.Progress)
	assert.Equal(t, "forty", entry.OptimizedContent)
	assert.Equal(t, 61.0, entry.MatchScore)

	require.NoError(t, c.Store(ctx, key, PartialResult{OptimizedContent: "seventy", Progress: 70}))
	entry, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 70, entry.Progress)
	assert.Equal(t, "seventy", entry.OptimizedContent)
}

func TestRedisCacheRecordErrorKeepsContent(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	c := NewRedisCache(rdb, time.Minute)
	key := redisTestKey()

	require.NoError(t, c.Store(ctx, key, PartialResult{OptimizedContent: "draft", Progress: 66}))
	require.NoError(t, c.RecordError(ctx, key, "timeout: stage exceeded deadline"))

	entry, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.NotNil(t, entry.Error)
	assert.Equal(t, "timeout: stage exceeded deadline", *entry.Error)
	assert.Equal(t, "draft", entry.OptimizedContent)
	assert.True(t, entry.Usable())
}

func TestRedisCacheIncrementRetry(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	c := NewRedisCache(rdb, time.Minute)
	key := redisTestKey()

	for want := 1; want <= 3; want++ {
		n, err := c.IncrementRetry(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	other := key
	other.RunID = uuid.NewString()
	n, err := c.IncrementRetry(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "entries of different runs are counted separately")

	entry, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 3, entry.RetryCount)
	assert.False(t, entry.Usable())
}

func TestRedisCacheExpiresAndClears(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	c := NewRedisCache(rdb, time.Minute)

	expiring := redisTestKey()
	require.NoError(t, c.Store(ctx, expiring, PartialResult{OptimizedContent: "x", Progress: 1}))
	assert.Greater(t, mr.TTL(redisKeyPrefix+expiring.String()), time.Duration(0))
	mr.FastForward(2 * time.Minute)

	entry, err := c.Get(ctx, expiring)
	require.NoError(t, err)
	assert.Nil(t, entry)

	cleared := redisTestKey()
	require.NoError(t, c.Store(ctx, cleared, PartialResult{OptimizedContent: "x", Progress: 1}))
	require.NoError(t, c.Clear(ctx, cleared))

	entry, err = c.Get(ctx, cleared)
	require.NoError(t, err)
	assert.Nil(t, entry)

	swept, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestRedisCacheReplacesCorruptEntry(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	c := NewRedisCache(rdb, time.Minute)
	key := redisTestKey()

	require.NoError(t, mr.Set(redisKeyPrefix+key.String(), "{not json"))

	require.NoError(t, c.Store(ctx, key, PartialResult{OptimizedContent: "fresh", Progress: 33}))
	entry, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "fresh", entry.OptimizedContent)
}
