package metricsserver

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/common/configtypes"
)

// MetricsHandler serves the metrics registry
type MetricsHandler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// NewMetricsServer builds the fasthttp server without starting it
func NewMetricsServer(path string, handler MetricsHandler) *fasthttp.Server {
	return &fasthttp.Server{
		Handler:            createMetricsHandler(path, handler),
		Name:               "Harvester-Metrics",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 * 1024,
		MaxConnsPerIP:      20,
		Concurrency:        20,
	}
}

// StartMetricsServer serves metrics on cfg.Listen in the background.
// Returns nil when metrics are disabled.
func StartMetricsServer(cfg configtypes.MetricsConfig, handler MetricsHandler, logger *zap.Logger) (*fasthttp.Server, error) {
	if !cfg.Enabled {
		logger.Info("Metrics collection disabled")
		return nil, nil
	}

	listen, err := configtypes.NormalizeListen(cfg.Listen)
	if err != nil {
		return nil, err
	}

	server := NewMetricsServer(cfg.Path, handler)

	go func() {
		logger.Info("Metrics server listening",
			zap.String("listen", listen),
			zap.String("path", cfg.Path))

		if err := server.ListenAndServe(listen); err != nil {
			logger.Error("Metrics server stopped",
				zap.String("listen", listen),
				zap.Error(err))
		}
	}()

	return server, nil
}

func createMetricsHandler(path string, metrics MetricsHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == path {
			metrics.ServeHTTP(ctx)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString("Not Found")
	}
}
