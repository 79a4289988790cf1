package trackerindex

import "github.com/haukened/rr-lists/internal/lists/domain"

// BloomFilter is the minimal interface the index needs from Bloom filters.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}

// BloomFactory builds filters sized for a dataset.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// Match is a cached lookup result. Negative results are cached too.
type Match struct {
	Entry domain.TrackerEntry
	Found bool
}

// ResultCache caches lookup results by canonical host with basic metrics.
type ResultCache interface {
	Get(host string) (Match, bool)
	Put(host string, m Match)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}

// CacheStats reports lightweight cache metrics.
type CacheStats struct {
	Size      int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats is a snapshot of the index.
type Stats struct {
	Domains     int
	UpdatedUnix int64
	Cache       CacheStats
}
