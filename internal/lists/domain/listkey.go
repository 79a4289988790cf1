package domain

import (
	"fmt"
	"strings"
)

// ListKey identifies one downloadable list. It is the key of the ETag cache,
// the manifest store and the per-list refresh coalescing.
type ListKey uint8

const (
	// ListTrackers is the categorised tracker list compiled into content rules.
	ListTrackers ListKey = iota
	// ListRegions is the region filter list used by search region selection.
	ListRegions
	// ListAttribution is the attribution-token list.
	ListAttribution
)

// AllLists enumerates every known list in refresh order.
var AllLists = []ListKey{ListTrackers, ListRegions, ListAttribution}

// String returns a stable string representation of the list key.
func (k ListKey) String() string {
	switch k {
	case ListTrackers:
		return "trackers"
	case ListRegions:
		return "regions"
	case ListAttribution:
		return "attribution"
	default:
		return fmt.Sprintf("ListKey(%d)", k)
	}
}

// ParseListKey converts a string into a ListKey (case-insensitive).
func ParseListKey(s string) (ListKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trackers":
		return ListTrackers, nil
	case "regions":
		return ListRegions, nil
	case "attribution":
		return ListAttribution, nil
	default:
		return 0, fmt.Errorf("unsupported list: %q", s)
	}
}
