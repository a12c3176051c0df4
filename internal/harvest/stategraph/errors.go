package stategraph

import "errors"

var (
	// ErrNoStateScript means the page carries no state script; fall back to HTML extraction
	ErrNoStateScript = errors.New("state script not found")

	// ErrPayloadTooShort means the decoded payload is too small to hold a graph
	ErrPayloadTooShort = errors.New("state payload too short")

	// ErrMalformedPayload means the payload could not be decoded into a JSON object
	ErrMalformedPayload = errors.New("malformed state payload")
)
