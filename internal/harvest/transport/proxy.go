package transport

import (
	"strings"
	"sync/atomic"
)

// ProxyProvider hands out a proxy endpoint per outbound request.
// An empty endpoint means connect directly.
type ProxyProvider interface {
	Endpoint() string
}

// DirectProvider never proxies
type DirectProvider struct{}

// Endpoint returns ""
func (DirectProvider) Endpoint() string { return "" }

// StaticProxies rotates through a fixed endpoint list
type StaticProxies struct {
	endpoints []string
	next      atomic.Uint64
}

// NewStaticProxies returns a round-robin provider, or DirectProvider when
// no usable endpoints are given.
func NewStaticProxies(endpoints []string) ProxyProvider {
	cleaned := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep = strings.TrimSpace(ep); ep != "" {
			cleaned = append(cleaned, ep)
		}
	}
	if len(cleaned) == 0 {
		return DirectProvider{}
	}
	return &StaticProxies{endpoints: cleaned}
}

// Endpoint returns the next endpoint in rotation
func (s *StaticProxies) Endpoint() string {
	n := s.next.Add(1) - 1
	return s.endpoints[n%uint64(len(s.endpoints))]
}

// dialAddress strips the scheme from a proxy URL; the fasthttp proxy dialer
// expects "[user:pass@]host:port".
func dialAddress(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		return endpoint[i+3:]
	}
	return endpoint
}
