package normalize

import (
	"strconv"
	"strings"
)

// DefaultImageDimension replaces width/height placeholders in templated image URLs
const DefaultImageDimension = 400

var imagePlaceholders = []string{
	"{width}", "{height}",
	"{=w}", "{=h}",
	"{w}", "{h}",
	"{size}",
	"%7Bwidth%7D", "%7Bheight%7D",
	"%7B=w%7D", "%7B=h%7D",
}

// NormalizeImageURL fills size placeholders and strips responsive-image
// artifacts: only the first srcset candidate survives, without its
// descriptor or trailing commas.
func NormalizeImageURL(raw string, dimension int) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if dimension <= 0 {
		dimension = DefaultImageDimension
	}

	dim := strconv.Itoa(dimension)
	for _, ph := range imagePlaceholders {
		s = strings.ReplaceAll(s, ph, dim)
	}

	// "a.jpg 1x, b.jpg 2x": first candidate, descriptor dropped
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[0]
	}
	s = strings.TrimRight(s, ",")

	// "a.jpg,https://cdn/b.jpg": comma-joined alternatives without spaces
	for _, sep := range []string{",https://", ",http://", ",//", ",/"} {
		if i := strings.Index(s, sep); i > 0 {
			s = s[:i]
		}
	}

	return s
}
