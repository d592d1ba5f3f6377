// Package ristretto implements the verdict cache port using dgraph-io/ristretto
// as an in-process cache.
package ristretto

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/opsloop/internal/domain/policy"
	"github.com/Strob0t/opsloop/internal/port/cache"
)

// Cache holds classification verdicts. Each entry costs 1, so the
// capacity is expressed in entries.
type Cache struct {
	c   *ristretto.Cache[string, policy.Verdict]
	ttl time.Duration
}

// New creates a cache holding at most maxEntries verdicts. A zero ttl keeps
// entries until evicted.
func New(maxEntries int64, ttl time.Duration) (*Cache, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("ristretto: max entries must be > 0, got %d", maxEntries)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, policy.Verdict]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, ttl: ttl}, nil
}

// Get retrieves a cached verdict.
func (c *Cache) Get(profile, command string) (policy.Verdict, bool) {
	return c.c.Get(cache.Key(profile, command))
}

// Set stores a verdict. Admission is probabilistic; a Set may be dropped.
func (c *Cache) Set(profile, command string, v policy.Verdict) {
	c.c.SetWithTTL(cache.Key(profile, command), v, 1, c.ttl)
}

// Wait blocks until buffered writes have been applied.
func (c *Cache) Wait() {
	c.c.Wait()
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}

var _ cache.VerdictCache = (*Cache)(nil)
