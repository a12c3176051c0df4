package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics owns the harvester's Prometheus series
type PrometheusMetrics struct {
	fetchTotal       *prometheus.CounterVec
	fetchRetries     prometheus.Counter
	renderDuration   prometheus.Histogram
	renderAvailable  prometheus.Gauge
	recordsTotal     *prometheus.CounterVec
	mergesTotal      *prometheus.CounterVec
	escalationsTotal prometheus.Counter
	pagesTotal       prometheus.Counter

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetricsWithRegistry registers all series on registerer
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{logger: logger}

	pm.fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_total",
		Help:      "Page retrievals by tier and outcome",
	}, []string{"tier", "outcome"}) // tier: http, render

	pm.fetchRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_retries_total",
		Help:      "Backoff retries performed by the HTTP transport",
	})

	pm.renderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "render_duration_seconds",
		Help:      "Time spent rendering pages in the browser",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s to 32s
	})

	pm.renderAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "render_pool_available",
		Help:      "Idle browser instances in the render pool",
	})

	pm.recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_total",
		Help:      "Candidate records produced by extraction method",
	}, []string{"method"})

	pm.mergesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "merges_total",
		Help:      "Merge attempts by result",
	}, []string{"result"}) // result: added, updated, unchanged, passthrough

	pm.escalationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalations_total",
		Help:      "Runs escalated from direct HTTP to rendering",
	})

	pm.pagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listing_pages_total",
		Help:      "Listing pages processed",
	})

	registerer.MustRegister(
		pm.fetchTotal,
		pm.fetchRetries,
		pm.renderDuration,
		pm.renderAvailable,
		pm.recordsTotal,
		pm.mergesTotal,
		pm.escalationsTotal,
		pm.pagesTotal,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Debug("Harvester Prometheus metrics initialized", zap.String("namespace", namespace))
	return pm
}

// ServeHTTP exposes the registry over fasthttp
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}

// counterValue reads the current value of a counter
func (pm *PrometheusMetrics) counterValue(counter prometheus.Counter) float64 {
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		pm.logger.Warn("Failed to read counter value", zap.Error(err))
		return 0
	}
	return metric.GetCounter().GetValue()
}
