package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func testKey() Key {
	return Key{UserID: "user-1", DocumentID: "doc-1", Fingerprint: Fingerprint("Senior Go engineer", "modern")}
}

func TestStoreRejectsProgressRegression(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := testKey()

	require.NoError(t, c.Store(ctx, key, PartialResult{OptimizedContent: "draft at 40", Progress: 40}))
	require.NoError(t, c.Store(ctx, key, PartialResult{OptimizedContent: "stale draft", Progress: 20}))

	entry, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 40, entry.Progress)
	assert.Equal(t, "draft at 40", entry.OptimizedContent)
}

func TestStoreEqualProgressIsIgnored(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := testKey()

	require.NoError(t, c.Store(ctx, key, PartialResult{OptimizedContent: "first", Progress: 50}))
	require.NoError(t, c.Store(ctx, key, PartialResult{OptimizedContent: "second", Progress: 50}))

	entry, _ := c.Get(ctx, key)
	assert.Equal(t, "first", entry.OptimizedContent)
}

func TestRecordErrorKeepsContent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := testKey()

	require.NoError(t, c.Store(ctx, key, PartialResult{
		OptimizedContent: "rewritten resume",
		MatchScore:       72,
		Recommendations:  []string{"quantify impact"},
		Progress:         66,
	}))
	require.NoError(t, c.RecordError(ctx, key, "ai_unavailable: upstream 503"))

	entry, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, entry.Error)
	assert.Equal(t, "ai_unavailable: upstream 503", *entry.Error)
	assert.Equal(t, "rewritten resume", entry.OptimizedContent)
	assert.Equal(t, []string{"quantify impact"}, entry.Recommendations)
	assert.Equal(t, 66, entry.Progress)
}

func TestGetMissingReturnsNil(t *testing.T) {
	entry, err := NewMemoryCache().Get(context.Background(), testKey())
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestGetReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := testKey()
	require.NoError(t, c.Store(ctx, key, PartialResult{Recommendations: []string{"a"}, Progress: 10}))

	entry, _ := c.Get(ctx, key)
	entry.Recommendations[0] = "mutated"
	entry.Progress = 99

	again, _ := c.Get(ctx, key)
	assert.Equal(t, "a", again.Recommendations[0])
	assert.Equal(t, 10, again.Progress)
}

func TestIncrementRetryCounts(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := testKey()

	for want := 1; want <= 3; want++ {
		got, err := c.IncrementRetry(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestIncrementRetryConcurrent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := testKey()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.IncrementRetry(ctx, key)
		}()
	}
	wg.Wait()

	entry, _ := c.Get(ctx, key)
	assert.Equal(t, 50, entry.RetryCount)
}

func TestClearRemovesEntry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := testKey()
	require.NoError(t, c.Store(ctx, key, PartialResult{OptimizedContent: "x", Progress: 5}))
	require.NoError(t, c.Clear(ctx, key))

	entry, _ := c.Get(ctx, key)
	assert.Nil(t, entry)
}

func TestSweepEvictsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(WithClock(clock.Now), WithExpiration(30*time.Minute))
	key := testKey()
	fresh := Key{UserID: "user-2", DocumentID: "doc-2", Fingerprint: "abc"}

	require.NoError(t, c.Store(ctx, key, PartialResult{OptimizedContent: "old", Progress: 30}))
	clock.Advance(29 * time.Minute)

	entry, _ := c.Get(ctx, key)
	require.NotNil(t, entry, "entry should survive until the window passes")

	clock.Advance(20 * time.Minute)
	require.NoError(t, c.Store(ctx, fresh, PartialResult{OptimizedContent: "new", Progress: 30}))
	clock.Advance(11 * time.Minute)

	removed, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	entry, _ = c.Get(ctx, key)
	assert.Nil(t, entry)
	entry, _ = c.Get(ctx, fresh)
	assert.NotNil(t, entry)
}

func TestFingerprintSeparatesTargets(t *testing.T) {
	a := Fingerprint("Backend engineer, Go", "modern")
	b := Fingerprint("  backend   ENGINEER, go ", "Modern")
	c := Fingerprint("Data scientist", "modern")
	d := Fingerprint("Backend engineer, Go", "classic")

	assert.Len(t, a, 16)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestRunsOfSameTargetDoNotShareEntries(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	old := testKey()
	old.RunID = "run-1"
	current := testKey()
	current.RunID = "run-2"

	require.NoError(t, c.Store(ctx, current, PartialResult{OptimizedContent: "current draft", Progress: 33}))
	_, err := c.IncrementRetry(ctx, old)
	require.NoError(t, err)
	require.NoError(t, c.Store(ctx, old, PartialResult{OptimizedContent: "late draft", Progress: 66}))
	require.NoError(t, c.RecordError(ctx, old, "ai_unavailable: gave up"))

	entry, err := c.Get(ctx, current)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "current draft", entry.OptimizedContent)
	assert.Equal(t, 33, entry.Progress)
	assert.Zero(t, entry.RetryCount)
	assert.Nil(t, entry.Error)
	assert.NotEqual(t, old.String(), current.String())
}
