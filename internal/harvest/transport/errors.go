package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed marks a direct-HTTP failure the caller should escalate
	ErrFetchFailed = errors.New("direct fetch failed")
	// ErrInvalidURL is returned for URLs the client cannot request
	ErrInvalidURL = errors.New("invalid target URL")
)

// StatusError reports a non-retryable HTTP status
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Unwrap lets errors.Is(err, ErrFetchFailed) match status failures
func (e *StatusError) Unwrap() error {
	return ErrFetchFailed
}
