package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Fetch tiers
const (
	TierHTTP   = "http"
	TierRender = "render"
)

// Fetch outcomes
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeStatus    = "status"
	OutcomeExhausted = "exhausted"
	OutcomeTimeout   = "timeout"
)

// Merge results
const (
	MergeAdded       = "added"
	MergeUpdated     = "updated"
	MergeUnchanged   = "unchanged"
	MergePassthrough = "passthrough"
)

// Collector is the single entry point for recording harvester metrics.
// All methods are safe on a nil receiver so components can run without metrics.
type Collector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewCollector registers metrics on the default registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry registers metrics on a custom registry
func NewCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	return &Collector{
		prometheus: NewPrometheusMetricsWithRegistry(namespace, registerer, logger),
		logger:     logger,
	}
}

// RecordFetch counts one page retrieval outcome
func (c *Collector) RecordFetch(tier, outcome string) {
	if c == nil {
		return
	}
	c.prometheus.fetchTotal.WithLabelValues(tier, outcome).Inc()
}

// RecordRetry counts one transport backoff
func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.prometheus.fetchRetries.Inc()
}

// RecordRenderDuration observes a render in seconds
func (c *Collector) RecordRenderDuration(seconds float64) {
	if c == nil {
		return
	}
	c.prometheus.renderDuration.Observe(seconds)
}

// UpdateRenderAvailable sets the idle browser gauge
func (c *Collector) UpdateRenderAvailable(available int) {
	if c == nil {
		return
	}
	c.prometheus.renderAvailable.Set(float64(available))
}

// RecordRecords counts candidate records for an extraction method
func (c *Collector) RecordRecords(method string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.prometheus.recordsTotal.WithLabelValues(method).Add(float64(n))
}

// RecordMerge counts one merge result
func (c *Collector) RecordMerge(result string) {
	if c == nil {
		return
	}
	c.prometheus.mergesTotal.WithLabelValues(result).Inc()
}

// RecordEscalation counts a run switching to render-first
func (c *Collector) RecordEscalation() {
	if c == nil {
		return
	}
	c.prometheus.escalationsTotal.Inc()
	c.logger.Debug("Recorded escalation")
}

// RecordPage counts a processed listing page
func (c *Collector) RecordPage() {
	if c == nil {
		return
	}
	c.prometheus.pagesTotal.Inc()
}

// FetchCount returns the current counter value for a tier/outcome pair
func (c *Collector) FetchCount(tier, outcome string) float64 {
	if c == nil {
		return 0
	}
	return c.prometheus.counterValue(c.prometheus.fetchTotal.WithLabelValues(tier, outcome))
}

// Handler returns the fasthttp handler serving the registry
func (c *Collector) Handler() *PrometheusMetrics {
	if c == nil {
		return nil
	}
	return c.prometheus
}

// ServeHTTP lets the collector be mounted on the metrics server directly
func (c *Collector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	c.prometheus.ServeHTTP(ctx)
}
