package stategraph

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// DefaultMinPayloadLength is the shortest decoded payload worth parsing
const DefaultMinPayloadLength = 100

var percentMarkers = []string{"%7B", "%7b", "%22", "%7D", "%7d"}

// Decode turns raw script text into a JSON object string.
// Steps run in a fixed order: percent-decoding when the text carries encoded
// braces or quotes, HTML entity decoding, then trimming to the outermost braces.
func Decode(raw string, minLength int) (string, error) {
	s := strings.TrimSpace(raw)

	if hasPercentMarkers(s) {
		if unescaped, err := url.PathUnescape(s); err == nil {
			s = unescaped
		}
	}

	if strings.IndexByte(s, '&') >= 0 {
		s = html.UnescapeString(s)
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		if len(s) < minLength {
			return "", ErrPayloadTooShort
		}
		return "", ErrMalformedPayload
	}
	s = s[start : end+1]

	if len(s) < minLength {
		return "", ErrPayloadTooShort
	}
	return s, nil
}

func hasPercentMarkers(s string) bool {
	for _, m := range percentMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
