package chrome

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/network"

	"github.com/edgecomet/harvester/pkg/pattern"
)

// trackingPatterns are analytics and ad hosts that never affect the state payload
var trackingPatterns = []string{
	"*2mdn.net*",
	"*doubleclick.net*",
	"*google-analytics.com*",
	"*analytics.google.com*",
	"*googleadservices.com*",
	"*googlesyndication.com*",
	"*googletagmanager.com*",
	"*googletagservices.com*",
	"*facebook.net*",
	"*facebook.com/tr*",
	"*connect.facebook.net*",
	"*hotjar.com*",
	"*clarity.ms*",
	"*segment.io*",
	"*cdn.segment.com*",
	"*amplitude.com*",
	"*branch.io*",
	"*braze.com*",
	"*fullstory.com*",
	"*newrelic.com*",
	"*nr-data.net*",
	"*sentry.io*",
	"*static.cloudflareinsights.com*",
	"*tiktok.com*",
	"*pinterest.com*",
	"*bing.com/bat*",
	"*criteo.com*",
	"*taboola.com*",
}

// DefaultBlockedResourceTypes are the heavy types the state payload never needs
func DefaultBlockedResourceTypes() []string {
	return []string{
		string(network.ResourceTypeImage),
		string(network.ResourceTypeFont),
		string(network.ResourceTypeStylesheet),
		string(network.ResourceTypeMedia),
	}
}

var knownResourceTypes = map[network.ResourceType]struct{}{
	network.ResourceTypeDocument:           {},
	network.ResourceTypeStylesheet:         {},
	network.ResourceTypeImage:              {},
	network.ResourceTypeMedia:              {},
	network.ResourceTypeFont:               {},
	network.ResourceTypeScript:             {},
	network.ResourceTypeTextTrack:          {},
	network.ResourceTypeXHR:                {},
	network.ResourceTypeFetch:              {},
	network.ResourceTypePrefetch:           {},
	network.ResourceTypeEventSource:        {},
	network.ResourceTypeWebSocket:          {},
	network.ResourceTypeManifest:           {},
	network.ResourceTypeSignedExchange:     {},
	network.ResourceTypePing:               {},
	network.ResourceTypeCSPViolationReport: {},
	network.ResourceTypePreflight:          {},
	network.ResourceTypeOther:              {},
}

func isKnownResourceType(rt string) bool {
	_, ok := knownResourceTypes[network.ResourceType(rt)]
	return ok
}

// Decision is the outcome for one intercepted request
type Decision int

const (
	DecisionContinue Decision = iota
	DecisionBlockType
	DecisionBlockURL
)

func (d Decision) String() string {
	switch d {
	case DecisionContinue:
		return "continue"
	case DecisionBlockType:
		return "block_type"
	case DecisionBlockURL:
		return "block_url"
	default:
		return "unknown"
	}
}

// BlockPolicy decides which intercepted requests are aborted
type BlockPolicy struct {
	resourceTypes map[network.ResourceType]struct{}
	patterns      *pattern.Set
}

// NewBlockPolicy combines the tracking list with extra URL patterns
func NewBlockPolicy(resourceTypes, extraPatterns []string) (*BlockPolicy, error) {
	rules := make([]string, 0, len(trackingPatterns)+len(extraPatterns))
	rules = append(rules, trackingPatterns...)
	rules = append(rules, extraPatterns...)

	set, err := pattern.CompileSet(rules)
	if err != nil {
		return nil, fmt.Errorf("invalid block pattern: %w", err)
	}

	bp := &BlockPolicy{
		resourceTypes: make(map[network.ResourceType]struct{}, len(resourceTypes)),
		patterns:      set,
	}
	for _, rt := range resourceTypes {
		rt = strings.TrimSpace(rt)
		if rt == "" {
			continue
		}
		if !isKnownResourceType(rt) {
			return nil, fmt.Errorf("unknown resource type %q", rt)
		}
		bp.resourceTypes[network.ResourceType(rt)] = struct{}{}
	}
	return bp, nil
}

// Decide never blocks the top-level document
func (bp *BlockPolicy) Decide(requestURL string, rt network.ResourceType) Decision {
	if rt == network.ResourceTypeDocument {
		return DecisionContinue
	}
	if _, blocked := bp.resourceTypes[rt]; blocked {
		return DecisionBlockType
	}
	if bp.patterns.MatchAny(requestURL) != nil {
		return DecisionBlockURL
	}
	return DecisionContinue
}

// PatternCount returns the number of compiled URL rules
func (bp *BlockPolicy) PatternCount() int {
	return bp.patterns.Len()
}
