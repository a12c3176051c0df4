package chrome

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/harvest/metrics"
	"github.com/edgecomet/harvester/internal/harvest/transport"
)

// ChromePool manages browser instances with a FIFO queue of idle ids
type ChromePool struct {
	config        *Config
	logger        *zap.Logger
	proxies       transport.ProxyProvider
	metrics       *metrics.Collector
	instances     []*ChromeInstance
	queue         chan int
	mu            sync.RWMutex
	activeTabs    atomic.Int32
	totalRenders  atomic.Int64
	totalRestarts atomic.Int64
	createdAt     time.Time
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewChromePool starts every instance up front. proxies may be nil.
func NewChromePool(config *Config, proxies transport.ProxyProvider, collector *metrics.Collector, logger *zap.Logger) (*ChromePool, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if proxies == nil {
		proxies = transport.DirectProvider{}
	}

	poolSize := config.CalculatePoolSize()
	logger.Info("Initializing Chrome pool", zap.Int("pool_size", poolSize))

	ctx, cancel := context.WithCancel(context.Background())
	pool := &ChromePool{
		config:    config,
		logger:    logger,
		proxies:   proxies,
		metrics:   collector,
		instances: make([]*ChromeInstance, poolSize),
		queue:     make(chan int, poolSize),
		createdAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < poolSize; i++ {
		instance, err := NewChromeInstance(i, proxies.Endpoint(), config, logger)
		if err != nil {
			pool.Shutdown()
			return nil, fmt.Errorf("failed to create Chrome instance %d: %w", i, err)
		}
		pool.instances[i] = instance
		pool.queue <- i
	}
	pool.metrics.UpdateRenderAvailable(len(pool.queue))

	logger.Info("Chrome pool initialized successfully", zap.Int("instances", poolSize))
	return pool, nil
}

// Acquire blocks until an instance is idle, ctx ends or the pool shuts down.
// Dead instances are restarted and instances past their budget are recycled
// before being handed out.
func (p *ChromePool) Acquire(ctx context.Context) (*ChromeInstance, error) {
	select {
	case <-p.ctx.Done():
		return nil, ErrPoolShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	case instanceID := <-p.queue:
		p.activeTabs.Add(1)
		p.metrics.UpdateRenderAvailable(len(p.queue))

		p.mu.RLock()
		instance := p.instances[instanceID]
		p.mu.RUnlock()

		if !instance.IsAlive() {
			p.logger.Warn("Chrome instance is dead, restarting",
				zap.Int("instance_id", instanceID),
				zap.Int32("requests_done", instance.GetRequestsDone()))

			if err := instance.Restart(p.config, p.proxies.Endpoint()); err != nil {
				p.logger.Error("Failed to restart dead instance",
					zap.Int("instance_id", instanceID),
					zap.Error(err))
				p.requeue(instanceID)
				return nil, fmt.Errorf("%w: instance %d", ErrInstanceDead, instanceID)
			}
			p.totalRestarts.Add(1)
		} else if instance.ShouldRestart(p.config) {
			p.logger.Info("Recycling Chrome instance",
				zap.Int("instance_id", instanceID),
				zap.Int32("requests_done", instance.GetRequestsDone()),
				zap.Duration("age", instance.Age()))

			if err := instance.Restart(p.config, p.proxies.Endpoint()); err != nil {
				p.logger.Error("Failed to recycle instance",
					zap.Int("instance_id", instanceID),
					zap.Error(err))
				p.requeue(instanceID)
				return nil, fmt.Errorf("%w: instance %d", ErrInstanceDead, instanceID)
			}
			p.totalRestarts.Add(1)
		}

		instance.SetStatus(ChromeStatusRendering)
		p.logger.Debug("Chrome instance acquired",
			zap.Int("instance_id", instanceID),
			zap.Int32("active_tabs", p.activeTabs.Load()))
		return instance, nil
	}
}

// Release returns an instance to the queue
func (p *ChromePool) Release(instance *ChromeInstance) {
	instance.SetStatus(ChromeStatusIdle)
	instance.IncrementRequests()
	p.totalRenders.Add(1)
	p.requeue(instance.ID)
}

func (p *ChromePool) requeue(id int) {
	p.activeTabs.Add(-1)
	select {
	case p.queue <- id:
	case <-p.ctx.Done():
	default:
		p.logger.Error("Queue full when returning instance - possible leak",
			zap.Int("instance_id", id),
			zap.Int("queue_len", len(p.queue)))
	}
	p.metrics.UpdateRenderAvailable(len(p.queue))
}

// GetStats returns current pool statistics
func (p *ChromePool) GetStats() PoolStats {
	p.mu.RLock()
	total := len(p.instances)
	p.mu.RUnlock()

	return PoolStats{
		TotalInstances:     total,
		AvailableInstances: len(p.queue),
		ActiveInstances:    int(p.activeTabs.Load()),
		TotalRenders:       p.totalRenders.Load(),
		TotalRestarts:      p.totalRestarts.Load(),
		Uptime:             time.Since(p.createdAt),
	}
}

// Shutdown drains active renders up to the configured timeout, then kills every browser
func (p *ChromePool) Shutdown() error {
	p.logger.Info("Initiating Chrome pool shutdown",
		zap.Duration("timeout", p.config.ShutdownTimeout),
		zap.Int32("active_renders", p.activeTabs.Load()))

	p.cancel()

	if !p.waitForActiveRenders(p.config.ShutdownTimeout) {
		p.logger.Warn("Shutdown timeout exceeded, forcing termination",
			zap.Int32("stuck_renders", p.activeTabs.Load()))
	}

	p.mu.Lock()
	for _, instance := range p.instances {
		if instance != nil {
			_ = instance.Terminate()
		}
	}
	p.mu.Unlock()

	stats := p.GetStats()
	p.logger.Info("Chrome pool shut down",
		zap.Int64("total_renders", stats.TotalRenders),
		zap.Int64("total_restarts", stats.TotalRestarts),
		zap.Duration("uptime", stats.Uptime))
	return nil
}

func (p *ChromePool) waitForActiveRenders(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.activeTabs.Load() <= 0 {
			return true
		}
		<-ticker.C
		if time.Now().After(deadline) {
			return false
		}
	}
}

// PoolSize returns the number of instances
func (p *ChromePool) PoolSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.instances)
}

// AvailableInstances returns the number of idle instances
func (p *ChromePool) AvailableInstances() int {
	return len(p.queue)
}
