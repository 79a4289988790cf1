// Package trackerindex answers "is this host a tracker, and of which category"
// for the usage monitor. Lookups run cache → bloom → map; Rebuild swaps the
// whole snapshot at once.
package trackerindex

import (
	"sync"

	"github.com/haukened/rr-lists/internal/lists/common/clock"
	"github.com/haukened/rr-lists/internal/lists/common/utils"
	"github.com/haukened/rr-lists/internal/lists/domain"
)

// Index is an in-memory tracker lookup table.
type Index struct {
	mu       sync.RWMutex
	byDomain map[string]domain.TrackerEntry
	bloom    BloomFilter
	cache    ResultCache
	factory  BloomFactory
	fpRate   float64
	clock    clock.Clock
	updated  int64
	// gen counts rebuilds; cache writes computed against an older
	// snapshot are dropped.
	gen uint64
}

// New constructs an empty Index. fpRate is the target false-positive rate
// used when sizing the Bloom filter on Rebuild.
func New(cache ResultCache, factory BloomFactory, fpRate float64, clk clock.Clock) *Index {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Index{
		byDomain: map[string]domain.TrackerEntry{},
		cache:    cache,
		factory:  factory,
		fpRate:   fpRate,
		clock:    clk,
	}
}

// Rebuild replaces the indexed set with entries. When a domain appears more
// than once the first record wins.
func (ix *Index) Rebuild(entries []domain.TrackerEntry) {
	byDomain := make(map[string]domain.TrackerEntry, len(entries))
	for _, e := range entries {
		if _, dup := byDomain[e.Domain]; dup {
			continue
		}
		byDomain[e.Domain] = e
	}
	bf := ix.factory.New(uint64(len(byDomain)), ix.fpRate)
	for d := range byDomain {
		bf.Add([]byte(d))
	}

	ix.mu.Lock()
	ix.byDomain = byDomain
	ix.bloom = bf
	ix.cache.Purge()
	ix.gen++
	ix.updated = ix.clock.Now().Unix()
	ix.mu.Unlock()
}

// Lookup resolves host, or any of its parent domains down to the registrable
// domain, to a tracker entry. The most specific match wins.
func (ix *Index) Lookup(host string) (domain.TrackerEntry, bool) {
	cn := utils.CanonicalHost(host)
	if cn == "" {
		return domain.TrackerEntry{}, false
	}
	if m, ok := ix.checkCache(cn); ok {
		return m.Entry, m.Found
	}
	m, gen := ix.checkIndex(cn)
	ix.updateCache(cn, m, gen)
	return m.Entry, m.Found
}

// Len returns the number of distinct indexed domains.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byDomain)
}

// Stats returns a snapshot of index and cache counters.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	hits, misses, evictions := ix.cache.Stats()
	return Stats{
		Domains:     len(ix.byDomain),
		UpdatedUnix: ix.updated,
		Cache: CacheStats{
			Size:      ix.cache.Len(),
			Hits:      hits,
			Misses:    misses,
			Evictions: evictions,
		},
	}
}

func (ix *Index) checkCache(cn string) (Match, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.cache.Get(cn)
}

// checkIndex returns the match for cn and the generation it was computed from.
func (ix *Index) checkIndex(cn string) (Match, uint64) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, v := range utils.HostVariations(cn) {
		// definitely negative for this variation
		if ix.bloom != nil && !ix.bloom.MightContain([]byte(v)) {
			continue
		}
		if e, ok := ix.byDomain[v]; ok {
			return Match{Entry: e, Found: true}, ix.gen
		}
	}
	return Match{}, ix.gen
}

func (ix *Index) updateCache(cn string, m Match, gen uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if gen != ix.gen {
		return
	}
	ix.cache.Put(cn, m)
}
