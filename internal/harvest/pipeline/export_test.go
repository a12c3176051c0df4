package pipeline

import (
	"context"
	"time"
)

// SetSleep replaces the pause used between pages and enrichment chunks
func (p *Pipeline) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	p.sleep = fn
}
