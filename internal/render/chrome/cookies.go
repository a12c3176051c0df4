package chrome

import (
	"context"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"

	"github.com/edgecomet/harvester/internal/harvest/session"
)

// toCookieParams converts jar entries for injection into the browser.
// Entries without a domain are scoped to the target host.
func toCookieParams(cookies []session.Cookie, targetURL string, now time.Time) []*network.CookieParam {
	host := ""
	if u, err := url.Parse(targetURL); err == nil {
		host = u.Hostname()
	}

	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c.Expired(now) {
			continue
		}
		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == "" {
			domain = host
		}
		if domain == "" {
			continue
		}
		path := c.Path
		if path == "" {
			path = "/"
		}

		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if !c.Expires.IsZero() {
			ts := cdp.TimeSinceEpoch(c.Expires)
			p.Expires = &ts
		}
		params = append(params, p)
	}
	return params
}

// fromNetworkCookies converts cookies read back from the browser
func fromNetworkCookies(cookies []*network.Cookie) []session.Cookie {
	out := make([]session.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		entry := session.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   strings.TrimPrefix(c.Domain, "."),
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			entry.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		out = append(out, entry)
	}
	return out
}

// injectCookies seeds the tab with the run's jar
func injectCookies(jar *session.CookieJar, targetURL string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		params := toCookieParams(jar.All(), targetURL, time.Now())
		if len(params) == 0 {
			return nil
		}
		return network.SetCookies(params).Do(ctx)
	}
}

// harvestCookies copies cookies the page set back into the run's jar
func harvestCookies(jar *session.CookieJar, targetURL string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cookies, err := network.GetCookies().WithURLs([]string{targetURL}).Do(ctx)
		if err != nil {
			return err
		}
		jar.Set(fromNetworkCookies(cookies)...)
		return nil
	}
}
