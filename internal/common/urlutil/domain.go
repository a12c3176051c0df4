package urlutil

import (
	"net/url"
	"strings"
)

// Host returns the lowercased host (with port) of rawURL, "" when it has none
func Host(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

// StripPort removes the port from a host string. Bracketed IPv6 literals
// keep their brackets; bare IPv6 literals are returned unchanged.
func StripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end != -1 {
			return host[:end+1]
		}
		return host
	}
	if idx := strings.LastIndex(host, ":"); idx != -1 && strings.Count(host, ":") == 1 {
		return host[:idx]
	}
	return host
}

// SameSite reports whether two URLs point at the same storefront: equal
// hostnames, or one a subdomain of the other (www.shop.test and
// shop.test). Ports and scheme are ignored.
func SameSite(baseURL, otherURL string) bool {
	base := StripPort(Host(baseURL))
	other := StripPort(Host(otherURL))
	if base == "" || other == "" {
		return false
	}
	return base == other ||
		strings.HasSuffix(other, "."+base) ||
		strings.HasSuffix(base, "."+other)
}
