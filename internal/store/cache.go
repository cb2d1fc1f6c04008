package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/zhouzirui/z-journal/backend/internal/model/memory"
)

// CachedSummaries is a read-through cache of latest summaries in front of
// another Summaries implementation. Session summaries are not cached.
//
// Every successful save bumps the user's generation. A fill only lands when
// the generation it observed before reading the store is still current, so a
// reader holding an old record cannot overwrite a newer cached one.
type CachedSummaries struct {
	Summaries
	cache *ristretto.Cache

	mu  sync.Mutex
	gen map[string]uint64
}

// NewCachedSummaries caches up to maxEntries latest summaries.
func NewCachedSummaries(next Summaries, maxEntries int64) (*CachedSummaries, error) {
	if maxEntries < 1 {
		maxEntries = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create summary cache: %w", err)
	}
	return &CachedSummaries{Summaries: next, cache: cache, gen: make(map[string]uint64)}, nil
}

// SaveLatestSummary writes through and then refreshes the cache from the
// store, so a rejected older write never replaces a newer cached value.
func (c *CachedSummaries) SaveLatestSummary(ctx context.Context, rec memory.SummaryRecord) error {
	err := c.Summaries.SaveLatestSummary(ctx, rec)
	gen := c.invalidate(rec.UserID)
	if err != nil {
		return err
	}

	latest, loadErr := c.Summaries.LatestSummary(ctx, rec.UserID)
	if loadErr == nil && latest != nil {
		c.fill(rec.UserID, gen, *latest)
	}
	return nil
}

func (c *CachedSummaries) LatestSummary(ctx context.Context, userID string) (*memory.SummaryRecord, error) {
	if v, ok := c.cache.Get(userID); ok {
		if rec, ok := v.(memory.SummaryRecord); ok {
			out := cloneRecord(rec)
			return &out, nil
		}
	}

	gen := c.generation(userID)
	latest, err := c.Summaries.LatestSummary(ctx, userID)
	if err != nil || latest == nil {
		return latest, err
	}
	c.fill(userID, gen, *latest)
	return latest, nil
}

// invalidate drops the cached entry and returns the new generation.
func (c *CachedSummaries) invalidate(userID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[userID]++
	c.cache.Del(userID)
	return c.gen[userID]
}

func (c *CachedSummaries) generation(userID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[userID]
}

// fill caches rec if no save happened since gen was observed. The set is
// applied before the lock is released.
func (c *CachedSummaries) fill(userID string, gen uint64, rec memory.SummaryRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[userID] != gen {
		return
	}
	c.cache.Set(userID, cloneRecord(rec), 1)
	c.cache.Wait()
}

// Close releases the cache.
func (c *CachedSummaries) Close() {
	c.cache.Close()
}
