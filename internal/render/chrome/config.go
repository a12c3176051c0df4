package chrome

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

const (
	PoolSizeAuto = "auto"

	// auto sizing bounds. Browser contexts are expensive, so the ceiling
	// stays below typical enrichment concurrency.
	minAutoPoolSize = 1
	maxAutoPoolSize = 4

	reservedRAMBytes = int64(2 * 1024 * 1024 * 1024)
	instanceRAMBytes = int64(500 * 1024 * 1024)

	defaultMaxHTMLSize = 20 * 1024 * 1024
)

// Config holds pool and per-render settings
type Config struct {
	PoolSize          string        // "auto" or integer string
	NavTimeout        time.Duration // hard timeout for navigation + DOM ready
	SettleDelay       time.Duration // wait after DOMContentLoaded for hydration
	RestartAfterCount int           // recycle an instance after N renders
	RestartAfterTime  time.Duration // recycle an instance after this age
	ShutdownTimeout   time.Duration
	Headless          bool
	ExecPath          string // empty uses chromedp's lookup
	ViewportWidth     int
	ViewportHeight    int
	MaxHTMLSize       int

	BlockedResourceTypes []string // CDP resource types, e.g. Image, Font
	BlockedPatterns      []string // extra URL patterns on top of the tracking list
}

// DefaultConfig returns the render defaults
func DefaultConfig() *Config {
	return &Config{
		PoolSize:             "2",
		NavTimeout:           20 * time.Second,
		SettleDelay:          1500 * time.Millisecond,
		RestartAfterCount:    50,
		RestartAfterTime:     30 * time.Minute,
		ShutdownTimeout:      15 * time.Second,
		Headless:             true,
		ViewportWidth:        1366,
		ViewportHeight:       900,
		MaxHTMLSize:          defaultMaxHTMLSize,
		BlockedResourceTypes: DefaultBlockedResourceTypes(),
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.PoolSize != PoolSizeAuto {
		size, err := strconv.Atoi(c.PoolSize)
		if err != nil {
			return fmt.Errorf("pool size must be 'auto' or valid integer")
		}
		if size <= 0 {
			return fmt.Errorf("pool size must be positive")
		}
	}
	if c.NavTimeout <= 0 {
		return fmt.Errorf("navigation timeout must be positive")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle delay cannot be negative")
	}
	if c.SettleDelay >= c.NavTimeout {
		return fmt.Errorf("settle delay must be shorter than navigation timeout")
	}
	if c.RestartAfterCount <= 0 {
		return fmt.Errorf("restart after count must be positive")
	}
	if c.RestartAfterTime <= 0 {
		return fmt.Errorf("restart after time must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return fmt.Errorf("viewport dimensions must be positive")
	}
	if c.MaxHTMLSize <= 0 {
		return fmt.Errorf("max html size must be positive")
	}
	for _, rt := range c.BlockedResourceTypes {
		if !isKnownResourceType(rt) {
			return fmt.Errorf("unknown resource type %q", rt)
		}
	}
	return nil
}

// CalculatePoolSize resolves "auto" from system memory.
// Formula: (total RAM - 2GB) / 500MB, clamped to [1, 4].
func (c *Config) CalculatePoolSize() int {
	if c.PoolSize != PoolSizeAuto {
		if size, err := strconv.Atoi(c.PoolSize); err == nil && size > 0 {
			return size
		}
	}
	return autoPoolSize()
}

func autoPoolSize() int {
	total := int64(8 * 1024 * 1024 * 1024)
	if v, err := mem.VirtualMemory(); err == nil {
		total = int64(v.Total)
	}

	size := int((total - reservedRAMBytes) / instanceRAMBytes)
	if size < minAutoPoolSize {
		size = minAutoPoolSize
	}
	if size > maxAutoPoolSize {
		size = maxAutoPoolSize
	}
	return size
}
