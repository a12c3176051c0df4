package session

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

// Cookie is a jar entry shared between the HTTP transport and the renderer
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time // zero means session cookie
	Secure   bool
	HTTPOnly bool
}

// Expired reports whether the cookie has a past expiry
func (c Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && c.Expires.Before(now)
}

// CookieJar is a run-scoped cookie store keyed by cookie name.
// Writers swap in a new map with compare-and-swap, so readers never lock
// and entries are only ever added or overwritten.
type CookieJar struct {
	entries atomic.Pointer[map[string]Cookie]
}

// NewCookieJar creates an empty jar
func NewCookieJar() *CookieJar {
	j := &CookieJar{}
	empty := make(map[string]Cookie)
	j.entries.Store(&empty)
	return j
}

// Set adds or overwrites cookies by name
func (j *CookieJar) Set(cookies ...Cookie) {
	if len(cookies) == 0 {
		return
	}
	for {
		current := j.entries.Load()
		next := make(map[string]Cookie, len(*current)+len(cookies))
		for k, v := range *current {
			next[k] = v
		}
		for _, c := range cookies {
			if c.Name == "" {
				continue
			}
			next[c.Name] = c
		}
		if j.entries.CompareAndSwap(current, &next) {
			return
		}
	}
}

// SetFromHeader parses a raw Set-Cookie header value and stores it.
// Returns false when the value cannot be parsed.
func (j *CookieJar) SetFromHeader(raw []byte) bool {
	c := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(c)

	if err := c.ParseBytes(raw); err != nil || len(c.Key()) == 0 {
		return false
	}

	entry := Cookie{
		Name:     string(c.Key()),
		Value:    string(c.Value()),
		Domain:   strings.TrimPrefix(string(c.Domain()), "."),
		Path:     string(c.Path()),
		Secure:   c.Secure(),
		HTTPOnly: c.HTTPOnly(),
	}
	if exp := c.Expire(); !exp.Equal(fasthttp.CookieExpireUnlimited) {
		entry.Expires = exp
	}
	if c.MaxAge() > 0 {
		entry.Expires = time.Now().Add(time.Duration(c.MaxAge()) * time.Second)
	}

	j.Set(entry)
	return true
}

// Get returns a cookie by name
func (j *CookieJar) Get(name string) (Cookie, bool) {
	c, ok := (*j.entries.Load())[name]
	return c, ok
}

// All returns live cookies sorted by name
func (j *CookieJar) All() []Cookie {
	now := time.Now()
	snapshot := *j.entries.Load()
	out := make([]Cookie, 0, len(snapshot))
	for _, c := range snapshot {
		if c.Expired(now) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Header renders live cookies as a Cookie request header value
func (j *CookieJar) Header() string {
	cookies := j.All()
	if len(cookies) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, c := range cookies {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(c.Name)
		sb.WriteByte('=')
		sb.WriteString(c.Value)
	}
	return sb.String()
}

// Len returns the number of stored cookies, expired ones included
func (j *CookieJar) Len() int {
	return len(*j.entries.Load())
}
