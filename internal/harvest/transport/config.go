package transport

import (
	"fmt"
	"time"
)

// Config holds direct-HTTP transport settings
type Config struct {
	Timeout        time.Duration // hard per-request timeout
	MaxAttempts    int           // attempts for retryable statuses, first try included
	BackoffBase    time.Duration // first retry delay, doubled per attempt
	StateMarker    string        // substring that makes a 202 body usable
	RateLimit      float64       // requests per second across the run, 0 disables pacing
	RateBurst      int
	AcceptLanguage string
	UserAgents     []string // replaces the built-in desktop agent pool when set
	MaxBodySize    int
}

// DefaultConfig returns production defaults
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		MaxAttempts:    3,
		BackoffBase:    time.Second,
		StateMarker:    "node-apollo-state",
		RateLimit:      0,
		RateBurst:      1,
		AcceptLanguage: defaultAcceptLanguage,
		MaxBodySize:    20 * 1024 * 1024,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.BackoffBase < 0 {
		return fmt.Errorf("backoff base cannot be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rate burst must be positive when rate limit is set")
	}
	if c.MaxBodySize <= 0 {
		return fmt.Errorf("max body size must be positive")
	}
	return nil
}

// BackoffDelay returns the wait before retry number attempt (1-based):
// base, 2*base, 4*base, ...
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}
