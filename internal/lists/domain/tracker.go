package domain

import (
	"fmt"
	"regexp"
)

// TrackerEntry is a single tracker domain and its category.
// Equality is structural over (Domain, Category).
type TrackerEntry struct {
	Domain   string   `json:"domain"`
	Category Category `json:"category"`
}

// Validate checks that the entry carries a domain.
func (e TrackerEntry) Validate() error {
	if e.Domain == "" {
		return fmt.Errorf("tracker domain must not be empty")
	}
	return nil
}

// ContentBlockerEntry is the unit consumed by the rule compiler.
// URL is used verbatim as the rule's url-filter.
type ContentBlockerEntry struct {
	Domain string
	URL    string
}

const (
	// subDomainPrefix matches any scheme (including websockets) and any chain of subdomains.
	subDomainPrefix = `^(https?)?(wss?)?://([a-z0-9-]+\.)*`
	// domainMatchSuffix matches an optional port followed by any path.
	domainMatchSuffix = `(:?[0-9]+)?/.*`
)

// NewContentBlockerEntry derives the content blocker entry for a tracker,
// matching the tracker domain and all of its subdomains.
func NewContentBlockerEntry(t TrackerEntry) ContentBlockerEntry {
	return ContentBlockerEntry{
		Domain: t.Domain,
		URL:    subDomainPrefix + regexp.QuoteMeta(t.Domain) + domainMatchSuffix,
	}
}
