package domain

import "strings"

// RegionFilter is a search region: the filter code sent to the search
// backend and its human-readable name.
type RegionFilter struct {
	FilterCode  string
	DisplayName string
}

// DefaultRegion is returned whenever a region lookup misses.
var DefaultRegion = RegionFilter{FilterCode: "wt-wt", DisplayName: "None (Default)"}

// RegionList is an ordered list of region filters.
type RegionList []RegionFilter

// Lookup returns the region with the given filter code (case-insensitive).
// It is total: unknown or empty codes yield DefaultRegion.
func (l RegionList) Lookup(code string) RegionFilter {
	code = strings.TrimSpace(code)
	for _, r := range l {
		if strings.EqualFold(r.FilterCode, code) {
			return r
		}
	}
	return DefaultRegion
}

// WithDefault returns the list with DefaultRegion prepended unless the list
// already carries the default filter code.
func (l RegionList) WithDefault() RegionList {
	for _, r := range l {
		if r.FilterCode == DefaultRegion.FilterCode {
			return l
		}
	}
	out := make(RegionList, 0, len(l)+1)
	out = append(out, DefaultRegion)
	return append(out, l...)
}
