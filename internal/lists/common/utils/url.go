package utils

import (
	"net/url"
	"strings"
)

// HostFromURL extracts the canonical host from a request URL.
// Scheme-less inputs ("tracker.example/pixel.gif") are accepted.
// Returns "" when no host can be found.
func HostFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return CanonicalHost(u.Hostname())
}
