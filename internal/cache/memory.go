package cache

import (
	"context"
	"sync"
	"time"
)

type memoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	expiration time.Duration
	now        func() time.Time
}

type Option func(*memoryCache)

func WithExpiration(d time.Duration) Option {
	return func(c *memoryCache) {
		if d > 0 {
			c.expiration = d
		}
	}
}

// WithClock overrides time.Now, used by tests to age entries.
func WithClock(now func() time.Time) Option {
	return func(c *memoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewMemoryCache(opts ...Option) Cache {
	c := &memoryCache{
		entries:    make(map[string]*Entry),
		expiration: DefaultExpiration,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *memoryCache) Store(ctx context.Context, key Key, result PartialResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.entries[key.String()]
	if !ok {
		entry = newEntry(now)
		c.entries[key.String()] = entry
	}
	entry.apply(result, now)
	return nil
}

func (c *memoryCache) Get(ctx context.Context, key Key) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.String()]
	if !ok {
		return nil, nil
	}
	entry.LastUpdated = c.now()
	return entry.clone(), nil
}

func (c *memoryCache) IncrementRetry(ctx context.Context, key Key) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.entries[key.String()]
	if !ok {
		entry = newEntry(now)
		c.entries[key.String()] = entry
	}
	entry.RetryCount++
	entry.LastUpdated = now
	return entry.RetryCount, nil
}

func (c *memoryCache) RecordError(ctx context.Context, key Key, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.entries[key.String()]
	if !ok {
		entry = newEntry(now)
		c.entries[key.String()] = entry
	}
	entry.Error = &message
	entry.LastUpdated = now
	return nil
}

func (c *memoryCache) Clear(ctx context.Context, key Key) error {
	c.mu.Lock()
	delete(c.entries, key.String())
	c.mu.Unlock()
	return nil
}

// Sweep collects candidates under the read lock and takes the write lock once
// per eviction, so readers wait at most for a single delete.
func (c *memoryCache) Sweep(ctx context.Context) (int, error) {
	now := c.now()

	c.mu.RLock()
	var expired []string
	for k, entry := range c.entries {
		if entry.expired(now, c.expiration) {
			expired = append(expired, k)
		}
	}
	c.mu.RUnlock()

	removed := 0
	for _, k := range expired {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		c.mu.Lock()
		// A Get or Store may have refreshed it since the scan.
		if entry, ok := c.entries[k]; ok && entry.expired(now, c.expiration) {
			delete(c.entries, k)
			removed++
		}
		c.mu.Unlock()
	}
	return removed, nil
}
