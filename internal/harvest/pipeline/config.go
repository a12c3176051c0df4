package pipeline

import (
	"fmt"
	"time"
)

// Config controls one harvest run
type Config struct {
	StartURLs    []string
	Target       int
	MaxPages     int
	PageParam    string
	PageDelayMin time.Duration
	PageDelayMax time.Duration

	Enrich      bool
	Concurrency int
	ChunkPause  time.Duration
	SkipSeenTTL time.Duration

	BatchSize int
}

// DefaultConfig returns production defaults without start URLs
func DefaultConfig() Config {
	return Config{
		Target:       100,
		MaxPages:     10,
		PageParam:    "page",
		PageDelayMin: 2 * time.Second,
		PageDelayMax: 5 * time.Second,
		Enrich:       true,
		Concurrency:  4,
		ChunkPause:   time.Second,
		BatchSize:    50,
	}
}

func (c *Config) Validate() error {
	if len(c.StartURLs) == 0 {
		return fmt.Errorf("at least one start URL is required")
	}
	if c.Target <= 0 {
		return fmt.Errorf("target must be positive")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.PageParam == "" {
		return fmt.Errorf("page param is required")
	}
	if c.PageDelayMin < 0 || c.PageDelayMax < c.PageDelayMin {
		return fmt.Errorf("invalid page delay range %s..%s", c.PageDelayMin, c.PageDelayMax)
	}
	if c.Enrich && c.Concurrency <= 0 {
		return fmt.Errorf("enrichment concurrency must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	return nil
}
