// Package pattern matches URLs and hosts against configured rules.
//
// Rule syntax:
//
//   - Exact (no prefix): case-insensitive equality
//     "cdn.example.com" matches "CDN.example.com"
//
//   - Wildcard (*): case-insensitive, * spans any run of characters
//     "*doubleclick.net*" matches "https://ad.doubleclick.net/pixel"
//
//   - Regexp (~): case-sensitive regular expression
//     "~^https://[a-z]+\.tracker\.io/" matches "https://px.tracker.io/a"
//
//   - Regexp (~*): case-insensitive regular expression
//     "~*(analytics|beacon)" matches "https://x.com/Beacon.js"
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the matching mode of a compiled rule
type Kind int

const (
	KindWildcard Kind = iota
	KindRegexp
	KindExact
)

func (k Kind) String() string {
	switch k {
	case KindWildcard:
		return "wildcard"
	case KindRegexp:
		return "regexp"
	case KindExact:
		return "exact"
	default:
		return "unknown"
	}
}

// Pattern is a compiled rule
type Pattern struct {
	Source string
	Kind   Kind

	body  string // rule text without prefix, lowercased for wildcard/exact
	parts []string
	re    *regexp.Regexp
}

// Compile parses a rule string
func Compile(rule string) (*Pattern, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	p := &Pattern{Source: rule}

	switch {
	case strings.HasPrefix(rule, "~*"):
		re, err := regexp.Compile("(?i)" + rule[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid regexp pattern %q: %w", rule, err)
		}
		p.Kind, p.body, p.re = KindRegexp, rule[2:], re
	case strings.HasPrefix(rule, "~"):
		re, err := regexp.Compile(rule[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid regexp pattern %q: %w", rule, err)
		}
		p.Kind, p.body, p.re = KindRegexp, rule[1:], re
	case strings.Contains(rule, "*"):
		p.Kind = KindWildcard
		p.body = strings.ToLower(rule)
		p.parts = strings.Split(p.body, "*")
	default:
		p.Kind = KindExact
		p.body = strings.ToLower(rule)
	}

	return p, nil
}

// MustCompile is Compile for rules known at build time
func MustCompile(rule string) *Pattern {
	p, err := Compile(rule)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether input satisfies the rule
func (p *Pattern) Match(input string) bool {
	if p == nil {
		return false
	}

	switch p.Kind {
	case KindRegexp:
		return p.re.MatchString(input)
	case KindWildcard:
		return matchParts(strings.ToLower(input), p.parts)
	case KindExact:
		return strings.ToLower(input) == p.body
	default:
		return false
	}
}

// matchParts checks text against wildcard-separated literal parts.
// The first part anchors the start and the last part anchors the end.
func matchParts(text string, parts []string) bool {
	if len(parts) == 1 {
		return text == parts[0]
	}

	if !strings.HasPrefix(text, parts[0]) {
		return false
	}
	text = text[len(parts[0]):]

	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(text, part)
		if idx < 0 {
			return false
		}
		text = text[idx+len(part):]
	}

	return strings.HasSuffix(text, last)
}

// Set is an ordered collection of compiled rules
type Set struct {
	patterns []*Pattern
}

// CompileSet compiles every rule; blank rules are skipped and the first
// invalid rule aborts compilation.
func CompileSet(rules []string) (*Set, error) {
	s := &Set{patterns: make([]*Pattern, 0, len(rules))}
	for _, rule := range rules {
		if strings.TrimSpace(rule) == "" {
			continue
		}
		p, err := Compile(rule)
		if err != nil {
			return nil, err
		}
		s.patterns = append(s.patterns, p)
	}
	return s, nil
}

// MatchAny returns the first rule that matches input, or nil
func (s *Set) MatchAny(input string) *Pattern {
	if s == nil {
		return nil
	}
	for _, p := range s.patterns {
		if p.Match(input) {
			return p
		}
	}
	return nil
}

// Len returns the number of compiled rules
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.patterns)
}
