package utils

import (
	"strings"

	"golang.org/x/net/idna"
)

// CanonicalHost returns a host name in canonical form:
// - Trimmed of surrounding whitespace
// - Lowercased
// - Internationalized labels converted to their ASCII (punycode) form
// - No trailing dot
//
// If IDNA conversion fails the lowercased input is returned so callers can
// still reject it with IsValidHostname.
func CanonicalHost(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	if name == "" {
		return ""
	}
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return name
	}
	return ascii
}

// IsValidHostname reports whether name is usable as a tracker domain.
// It enforces the following rules:
//   - The total length must not exceed 253 characters.
//   - The name must contain at least two labels (e.g. example.com).
//   - Each label must be between 1 and 63 characters long.
//   - Labels consist of letters, digits and hyphens, and do not start or end with a hyphen.
//   - Underscores are tolerated inside labels, trackers use them in service names.
func IsValidHostname(name string) bool {
	if len(name) == 0 || len(name) > 253 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			switch {
			case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			default:
				return false
			}
		}
	}
	return true
}

// HostVariations returns name followed by each parent domain, most-specific first,
// stopping before the bare public suffix.
//
//	"a.b.example.co.uk" -> ["a.b.example.co.uk", "b.example.co.uk", "example.co.uk"]
func HostVariations(name string) []string {
	name = CanonicalHost(name)
	if name == "" {
		return nil
	}
	apex := GetApexDomain(name)
	variations := []string{name}
	for cur := name; cur != apex; {
		i := strings.IndexByte(cur, '.')
		if i < 0 {
			break
		}
		cur = cur[i+1:]
		variations = append(variations, cur)
	}
	return variations
}
