package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/common/config"
	logutil "github.com/edgecomet/harvester/internal/common/logger"
	"github.com/edgecomet/harvester/internal/common/metricsserver"
	"github.com/edgecomet/harvester/internal/common/redis"
	"github.com/edgecomet/harvester/internal/harvest/htmlfallback"
	"github.com/edgecomet/harvester/internal/harvest/metrics"
	"github.com/edgecomet/harvester/internal/harvest/normalize"
	"github.com/edgecomet/harvester/internal/harvest/pipeline"
	"github.com/edgecomet/harvester/internal/harvest/session"
	"github.com/edgecomet/harvester/internal/harvest/sink"
	"github.com/edgecomet/harvester/internal/harvest/snapshot"
	"github.com/edgecomet/harvester/internal/harvest/stategraph"
	"github.com/edgecomet/harvester/internal/harvest/summary"
	"github.com/edgecomet/harvester/internal/harvest/transport"
)

func main() {
	configPath := flag.String("c", "", "Path to harvester configuration file (default $HARVESTER_CONFIG or configs/harvester.yaml)")
	recent := flag.Int("recent", 0, "Log the N most recent run summaries stored in Redis and exit")
	flag.Parse()

	// Initialize logger (will be reconfigured from config)
	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	absPath, err := config.ResolvePath(*configPath)
	if err != nil {
		initialLogger.Fatal("Invalid config path", zap.Error(err))
	}
	initialLogger.Info("Loading configuration", zap.String("path", absPath))

	cfg, err := config.Load(absPath)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Startup is logged at INFO even when the configured level is higher
	dynamicLogger, err := logutil.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	logger := dynamicLogger.Logger

	if *recent > 0 {
		os.Exit(listRecentRuns(cfg, logger, *recent))
	}
	os.Exit(runHarvest(cfg, dynamicLogger, logger))
}

// listRecentRuns logs stored run summaries, newest first
func listRecentRuns(cfg *config.HarvesterConfig, logger *zap.Logger, limit int) int {
	defer logger.Sync() //nolint:errcheck

	if !cfg.Redis.Enabled {
		logger.Error("Listing recent runs requires redis.enabled")
		return 1
	}
	client, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Error("Failed to connect to Redis", zap.Error(err))
		return 1
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := summary.NewRedisStore(client, time.Duration(cfg.Summary.RedisTTL), cfg.Summary.KeepRuns, logger)
	runs, err := store.Recent(ctx, limit)
	if err != nil {
		logger.Error("Failed to read run summaries", zap.Error(err))
		return 1
	}
	if len(runs) == 0 {
		logger.Info("No stored run summaries")
		return 0
	}
	for _, r := range runs {
		logger.Info("Run summary",
			zap.String("run_id", r.RunID),
			zap.Time("started_at", r.StartedAt),
			zap.Duration("duration", r.Duration()),
			zap.Int("saved", r.SavedCount),
			zap.Int("target", r.TargetCount),
			zap.Int("pages", r.PagesProcessed),
			zap.Bool("render_engaged", r.RenderEngaged),
			zap.Any("methods_never_fired", r.MethodsNeverFired))
	}
	return 0
}

// runHarvest wires the components, runs one harvest and returns the exit code
func runHarvest(cfg *config.HarvesterConfig, dynamicLogger *logutil.DynamicLogger, logger *zap.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer logger.Sync() //nolint:errcheck

	run := session.NewRun(cfg.Run.Label, logger).
		WithRegion(cfg.Run.Region, cfg.Run.RegionCookie, cfg.Run.RegionCookieDomain)

	logger.Info("Harvester starting",
		zap.String("run_id", run.ID),
		zap.Strings("start_urls", cfg.Run.StartURLs),
		zap.Int("target", cfg.Run.Target),
		zap.Bool("render", !cfg.Render.Disabled),
		zap.Bool("enrich", cfg.Enrich.Enabled))

	collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)
	metricsServer, err := metricsserver.StartMetricsServer(cfg.Metrics, collector, logger)
	if err != nil {
		logger.Error("Failed to start metrics server", zap.Error(err))
		return 1
	}
	if metricsServer != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.ShutdownWithContext(shutdownCtx); err != nil {
				logger.Error("Metrics server shutdown error", zap.Error(err))
			}
		}()
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			logger.Error("Failed to connect to Redis", zap.Error(err))
			return 1
		}
		defer redisClient.Close()
	}

	proxies := transport.NewStaticProxies(cfg.Proxy.Endpoints)

	fetcher, err := transport.NewFetcher(transportConfig(cfg), logger,
		transport.WithProxies(proxies),
		transport.WithMetrics(collector))
	if err != nil {
		logger.Error("Failed to create fetcher", zap.Error(err))
		return 1
	}

	normCfg, err := normalizeConfig(cfg)
	if err != nil {
		logger.Error("Invalid normalization rules", zap.Error(err))
		return 1
	}

	htmlExtractor, err := htmlfallback.New(htmlSelectors(cfg), logger)
	if err != nil {
		logger.Error("Invalid normalize.html selectors", zap.Error(err))
		return 1
	}

	recordSink, err := newSink(cfg, logger)
	if err != nil {
		logger.Error("Failed to create record sink", zap.Error(err))
		return 1
	}
	defer func() {
		if err := recordSink.Close(); err != nil {
			logger.Error("Failed to close record sink", zap.Error(err))
		}
	}()

	snapshots, err := snapshot.NewWriter(cfg.Snapshots, logger)
	if err != nil {
		logger.Error("Failed to create snapshot writer", zap.Error(err))
		return 1
	}

	deps := pipeline.Deps{
		Fetcher:    fetcher,
		Parser:     stategraph.NewParser(stateOptions(cfg), logger),
		HTML:       htmlExtractor,
		Normalizer: normalize.New(normCfg, logger),
		Sink:       recordSink,
		Summaries:  newSummaryStore(cfg, redisClient, logger),
		Snapshots:  snapshots,
		Metrics:    collector,
	}
	if redisClient != nil && cfg.Enrich.SkipSeenTTL > 0 {
		deps.Seen = pipeline.NewRedisSeenSet(redisClient, run.ID)
	}

	if !cfg.Render.Disabled {
		renderer, pool, err := newRenderer(cfg, proxies, collector, logger)
		if err != nil {
			logger.Error("Failed to initialize browser rendering", zap.Error(err))
			return 1
		}
		defer func() {
			if err := pool.Shutdown(); err != nil {
				logger.Error("Chrome pool shutdown error", zap.Error(err))
			}
		}()
		deps.Renderer = renderer
	}

	p, err := pipeline.New(pipelineConfig(cfg), deps, logger)
	if err != nil {
		logger.Error("Failed to create pipeline", zap.Error(err))
		return 1
	}

	// Switch to configured log level after startup is complete
	dynamicLogger.SwitchToConfiguredLevel()

	result, err := p.Run(ctx, run)

	dynamicLogger.EnsureInfoLevelForShutdown()
	switch {
	case err == nil:
		logger.Info("Harvest complete",
			zap.Int("saved", result.SavedCount),
			zap.Int("target", result.TargetCount))
		return 0
	case errors.Is(err, context.Canceled):
		logger.Warn("Harvest interrupted by signal", zap.Int("saved", result.SavedCount))
		return 130
	default:
		logger.Error("Harvest failed", zap.Error(err))
		return 1
	}
}

func newSink(cfg *config.HarvesterConfig, logger *zap.Logger) (sink.Sink, error) {
	if !cfg.Sink.File.Enabled {
		logger.Warn("No record sink enabled, records will be discarded")
		return sink.NoopSink{}, nil
	}
	return sink.NewFileSink(cfg.Sink.File, logger)
}

func newSummaryStore(cfg *config.HarvesterConfig, client *redis.Client, logger *zap.Logger) summary.Store {
	var stores summary.MultiStore
	if cfg.Summary.Redis && client != nil {
		stores = append(stores, summary.NewRedisStore(client, time.Duration(cfg.Summary.RedisTTL), cfg.Summary.KeepRuns, logger))
	}
	if cfg.Summary.FilePath != "" {
		stores = append(stores, summary.NewFileStore(cfg.Summary.FilePath))
	}
	if len(stores) == 0 {
		return nil
	}
	return stores
}
