// Package monitor counts tracker entries applied during page loads.
// Counters live for the process lifetime and are never persisted.
package monitor

import (
	"sync/atomic"

	"github.com/haukened/rr-lists/internal/lists/common/log"
	"github.com/haukened/rr-lists/internal/lists/common/utils"
	"github.com/haukened/rr-lists/internal/lists/domain"
)

// Monitor holds one lock-free counter per category.
type Monitor struct {
	counts [len(domainCategories)]atomic.Int64
	total  atomic.Int64
}

var domainCategories = [...]domain.Category{
	domain.CategoryNone,
	domain.CategoryAdvertising,
	domain.CategoryAnalytics,
	domain.CategoryContent,
	domain.CategorySocial,
}

// New returns a Monitor with all counters at zero.
func New() *Monitor { return &Monitor{} }

// Record counts one application of entry. Out-of-range categories are
// counted as CategoryNone.
func (m *Monitor) Record(entry domain.TrackerEntry) {
	m.counts[slot(entry.Category)].Add(1)
	m.total.Add(1)
}

// CountFor returns the number of recorded entries of category c.
func (m *Monitor) CountFor(c domain.Category) int {
	return int(m.counts[slot(c)].Load())
}

// Total returns the number of recorded entries across all categories.
func (m *Monitor) Total() int {
	return int(m.total.Load())
}

// Snapshot returns every category's count. Counters are read one by one, so
// under concurrent Record calls the sum may briefly differ from Total.
func (m *Monitor) Snapshot() map[domain.Category]int {
	out := make(map[domain.Category]int, len(domainCategories))
	for i, c := range domainCategories {
		out[c] = int(m.counts[i].Load())
	}
	return out
}

func slot(c domain.Category) int {
	if int(c) < len(domainCategories) {
		return int(c)
	}
	return int(domain.CategoryNone)
}

// Resolver finds the tracker entry responsible for a host.
type Resolver interface {
	Lookup(host string) (domain.TrackerEntry, bool)
}

// Observer feeds request URLs through a Resolver into a Monitor.
type Observer struct {
	monitor  *Monitor
	resolver Resolver
	logger   log.Logger
}

// NewObserver creates an Observer.
func NewObserver(m *Monitor, r Resolver, logger log.Logger) *Observer {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Observer{monitor: m, resolver: r, logger: log.With(logger, map[string]any{"component": "monitor"})}
}

// ObserveURL records a hit when the host of rawURL belongs to a known
// tracker, and returns the matched entry.
func (o *Observer) ObserveURL(rawURL string) (domain.TrackerEntry, bool) {
	host := utils.HostFromURL(rawURL)
	if host == "" {
		return domain.TrackerEntry{}, false
	}
	entry, ok := o.resolver.Lookup(host)
	if !ok {
		return domain.TrackerEntry{}, false
	}
	o.monitor.Record(entry)
	o.logger.Debug(map[string]any{"host": host, "tracker": entry.Domain, "category": entry.Category.String()}, "tracker observed")
	return entry, true
}
