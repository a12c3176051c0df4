package chrome

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ChromeStatus represents the current state of a Chrome instance
type ChromeStatus int

const (
	ChromeStatusIdle ChromeStatus = iota
	ChromeStatusRendering
	ChromeStatusRestarting
	ChromeStatusDead
)

func (s ChromeStatus) String() string {
	switch s {
	case ChromeStatusIdle:
		return "idle"
	case ChromeStatusRendering:
		return "rendering"
	case ChromeStatusRestarting:
		return "restarting"
	case ChromeStatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ChromeInstance is one browser process. Each instance owns one proxy
// endpoint for its whole lifetime; a restart draws a fresh endpoint.
type ChromeInstance struct {
	ID              int
	ctx             context.Context
	cancel          context.CancelFunc
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	createdAt       time.Time
	logger          *zap.Logger
	proxy           string
	browserVersion  string

	status       int32 // ChromeStatus
	requestsDone int32
	lastUsedNano int64
}

// PoolStats is a point-in-time view of the pool
type PoolStats struct {
	TotalInstances     int
	AvailableInstances int
	ActiveInstances    int
	TotalRenders       int64
	TotalRestarts      int64
	Uptime             time.Duration
}
