// Package bloom provides the Bloom prefilter used by the tracker index.
package bloom

import (
	"sync"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-lists/internal/lists/repos/trackerindex"
)

// defaultFPRate replaces a target false-positive rate outside (0, 1).
const defaultFPRate = 0.01

// factory implements trackerindex.BloomFactory.
type factory struct{}

// NewFactory returns a BloomFactory that sizes filters from capacity and FP rate.
// A zero capacity is sized as one element so empty lists still get a usable filter.
func NewFactory() trackerindex.BloomFactory { return factory{} }

func (factory) New(capacity uint64, fpRate float64) trackerindex.BloomFilter {
	if capacity == 0 {
		capacity = 1
	}
	if !(fpRate > 0 && fpRate < 1) {
		fpRate = defaultFPRate
	}
	return &filter{bf: bitsbloom.NewWithEstimates(uint(capacity), fpRate)}
}

// filter serialises writes; the index only adds before publishing a filter,
// so reads need no lock.
type filter struct {
	mu sync.Mutex
	bf *bitsbloom.BloomFilter
}

func (f *filter) Add(key []byte) {
	f.mu.Lock()
	f.bf.Add(key)
	f.mu.Unlock()
}

func (f *filter) MightContain(key []byte) bool {
	return f.bf.Test(key)
}
