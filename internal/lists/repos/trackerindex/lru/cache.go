// Package lru provides the lookup-result cache used by the tracker index.
package lru

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-lists/internal/lists/repos/trackerindex"
)

var newLRU = lru.NewWithEvict[string, trackerindex.Match]

// resultCache is an LRU-backed trackerindex.ResultCache tracking hits,
// misses and evictions.
type resultCache struct {
	lru       *lru.Cache[string, trackerindex.Match]
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// disabledCache is a no-op ResultCache used when size <= 0.
type disabledCache struct{}

// New creates a ResultCache with the given capacity. If size <= 0 a disabled
// cache is returned that always misses.
func New(size int) (trackerindex.ResultCache, error) {
	if size <= 0 {
		return disabledCache{}, nil
	}
	c := &resultCache{}
	// NewWithEvict observes evictions, including Purge-induced ones.
	cache, err := newLRU(size, func(string, trackerindex.Match) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	c.lru = cache
	return c, nil
}

func (c *resultCache) Get(host string) (trackerindex.Match, bool) {
	if v, ok := c.lru.Get(host); ok {
		c.hits.Add(1)
		return v, true
	}
	c.misses.Add(1)
	return trackerindex.Match{}, false
}

func (c *resultCache) Put(host string, m trackerindex.Match) { c.lru.Add(host, m) }

func (c *resultCache) Len() int { return c.lru.Len() }

func (c *resultCache) Purge() { c.lru.Purge() }

func (c *resultCache) Stats() (hits, misses, evictions uint64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

func (disabledCache) Get(string) (trackerindex.Match, bool) { return trackerindex.Match{}, false }
func (disabledCache) Put(string, trackerindex.Match)        {}
func (disabledCache) Len() int                              { return 0 }
func (disabledCache) Purge()                                {}
func (disabledCache) Stats() (uint64, uint64, uint64)       { return 0, 0, 0 }

var (
	_ trackerindex.ResultCache = (*resultCache)(nil)
	_ trackerindex.ResultCache = disabledCache{}
)
