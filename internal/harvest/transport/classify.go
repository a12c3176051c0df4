package transport

import (
	"bytes"

	"github.com/valyala/fasthttp"
)

// Verdict is the transport's reading of one HTTP response
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictRetry
	VerdictFail
)

func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictRetry:
		return "retry"
	case VerdictFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Classify maps a status code and body to a verdict.
// 202 is usable only when the body already carries the state marker.
func Classify(statusCode int, body []byte, marker string) Verdict {
	switch statusCode {
	case fasthttp.StatusOK:
		return VerdictOK
	case fasthttp.StatusAccepted:
		if HasMarker(body, marker) {
			return VerdictOK
		}
		return VerdictRetry
	case fasthttp.StatusTooManyRequests, fasthttp.StatusForbidden, fasthttp.StatusServiceUnavailable:
		return VerdictRetry
	default:
		return VerdictFail
	}
}

// HasMarker reports whether body contains the state marker
func HasMarker(body []byte, marker string) bool {
	return marker != "" && bytes.Contains(body, []byte(marker))
}
