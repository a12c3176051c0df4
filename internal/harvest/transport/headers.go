package transport

import (
	"math/rand/v2"
)

// ProfileKind selects the navigation shape the headers imitate
type ProfileKind int

const (
	// ProfileNavigate imitates a typed-in or bookmarked top-level navigation
	ProfileNavigate ProfileKind = iota
	// ProfileDetail imitates a same-origin click from a listing page
	ProfileDetail
)

// HeaderProfile parameterizes header generation for one request
type HeaderProfile struct {
	Kind           ProfileKind
	Referer        string
	AcceptLanguage string
}

// NavigateProfile returns a top-level navigation profile
func NavigateProfile() HeaderProfile {
	return HeaderProfile{Kind: ProfileNavigate}
}

// DetailProfile returns a same-origin navigation profile with a referer
func DetailProfile(referer string) HeaderProfile {
	return HeaderProfile{Kind: ProfileDetail, Referer: referer}
}

type browserAgent struct {
	userAgent string
	chromium  bool
	brand     string // sec-ch-ua for chromium agents
	platform  string // sec-ch-ua-platform
}

var desktopAgents = []browserAgent{
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		chromium:  true,
		brand:     `"Not/A)Brand";v="8", "Chromium";v="126", "Google Chrome";v="126"`,
		platform:  `"Windows"`,
	},
	{
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		chromium:  true,
		brand:     `"Google Chrome";v="125", "Chromium";v="125", "Not.A/Brand";v="24"`,
		platform:  `"macOS"`,
	},
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
		chromium:  true,
		brand:     `"Chromium";v="124", "Microsoft Edge";v="124", "Not-A.Brand";v="99"`,
		platform:  `"Windows"`,
	},
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	},
	{
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	},
}

const (
	acceptDocument        = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"
	defaultAcceptLanguage = "en-US,en;q=0.9"
)

// Header is a single request header in send order
type Header struct {
	Name  string
	Value string
}

// headerBuilder produces randomized but internally consistent header sets
type headerBuilder struct {
	agents         []browserAgent
	acceptLanguage string
	intn           func(n int) int
}

func newHeaderBuilder(userAgents []string, acceptLanguage string) *headerBuilder {
	agents := desktopAgents
	if len(userAgents) > 0 {
		agents = make([]browserAgent, 0, len(userAgents))
		for _, ua := range userAgents {
			agents = append(agents, browserAgent{userAgent: ua})
		}
	}
	if acceptLanguage == "" {
		acceptLanguage = defaultAcceptLanguage
	}
	return &headerBuilder{
		agents:         agents,
		acceptLanguage: acceptLanguage,
		intn:           rand.IntN,
	}
}

// UserAgent returns a randomly chosen user agent string
func (hb *headerBuilder) UserAgent() string {
	return hb.agents[hb.intn(len(hb.agents))].userAgent
}

// Build returns the header set for one request
func (hb *headerBuilder) Build(profile HeaderProfile) []Header {
	agent := hb.agents[hb.intn(len(hb.agents))]

	lang := profile.AcceptLanguage
	if lang == "" {
		lang = hb.acceptLanguage
	}

	headers := []Header{
		{"User-Agent", agent.userAgent},
		{"Accept", acceptDocument},
		{"Accept-Language", lang},
		{"Accept-Encoding", "gzip, deflate, br"},
		{"Upgrade-Insecure-Requests", "1"},
	}

	if agent.chromium {
		headers = append(headers,
			Header{"sec-ch-ua", agent.brand},
			Header{"sec-ch-ua-mobile", "?0"},
			Header{"sec-ch-ua-platform", agent.platform},
		)
	}

	site := "none"
	if profile.Kind == ProfileDetail {
		site = "same-origin"
	}
	headers = append(headers,
		Header{"Sec-Fetch-Dest", "document"},
		Header{"Sec-Fetch-Mode", "navigate"},
		Header{"Sec-Fetch-Site", site},
		Header{"Sec-Fetch-User", "?1"},
	)

	if profile.Kind == ProfileDetail && profile.Referer != "" {
		headers = append(headers, Header{"Referer", profile.Referer})
	}

	return headers
}
