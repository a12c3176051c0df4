package main

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/common/config"
	"github.com/edgecomet/harvester/internal/harvest/htmlfallback"
	"github.com/edgecomet/harvester/internal/harvest/metrics"
	"github.com/edgecomet/harvester/internal/harvest/normalize"
	"github.com/edgecomet/harvester/internal/harvest/pipeline"
	"github.com/edgecomet/harvester/internal/harvest/stategraph"
	"github.com/edgecomet/harvester/internal/harvest/transport"
	"github.com/edgecomet/harvester/internal/render/chrome"
)

func transportConfig(cfg *config.HarvesterConfig) *transport.Config {
	tc := transport.DefaultConfig()
	tc.Timeout = time.Duration(cfg.Transport.Timeout)
	tc.MaxAttempts = cfg.Transport.MaxAttempts
	tc.BackoffBase = time.Duration(cfg.Transport.BackoffBase)
	tc.RateLimit = cfg.Transport.RateLimit
	tc.RateBurst = cfg.Transport.RateBurst
	tc.MaxBodySize = cfg.Transport.MaxBodySize
	tc.UserAgents = cfg.Transport.UserAgents
	if cfg.Transport.AcceptLanguage != "" {
		tc.AcceptLanguage = cfg.Transport.AcceptLanguage
	}
	if len(cfg.State.ScriptIDs) > 0 {
		tc.StateMarker = cfg.State.ScriptIDs[0]
	}
	return tc
}

func chromeConfig(cfg *config.HarvesterConfig) *chrome.Config {
	cc := chrome.DefaultConfig()
	rc := cfg.Render
	cc.PoolSize = rc.PoolSize
	cc.NavTimeout = time.Duration(rc.NavTimeout)
	cc.SettleDelay = time.Duration(rc.SettleDelay)
	cc.RestartAfterCount = rc.RestartAfterCount
	cc.RestartAfterTime = time.Duration(rc.RestartAfterTime)
	cc.ShutdownTimeout = time.Duration(rc.ShutdownTimeout)
	cc.Headless = !rc.ShowBrowser
	cc.ExecPath = rc.ExecPath
	cc.ViewportWidth = rc.ViewportWidth
	cc.ViewportHeight = rc.ViewportHeight
	cc.MaxHTMLSize = cfg.Transport.MaxBodySize
	if len(rc.BlockedResourceTypes) > 0 {
		cc.BlockedResourceTypes = rc.BlockedResourceTypes
	}
	cc.BlockedPatterns = rc.BlockedPatterns
	return cc
}

func stateOptions(cfg *config.HarvesterConfig) stategraph.Options {
	return stategraph.Options{
		ScriptIDs:        cfg.State.ScriptIDs,
		MinPayloadLength: cfg.State.MinPayloadLength,
		MaxDepth:         cfg.State.MaxDepth,
		ProductTypes:     cfg.State.ProductTypes,
	}
}

func normalizeConfig(cfg *config.HarvesterConfig) (normalize.Config, error) {
	nc := normalize.DefaultConfig()
	n := cfg.Normalize
	if n.ProductsPath != "" {
		nc.ProductsPath = n.ProductsPath
	}
	if n.StoreSegment != "" {
		nc.StoreSegment = n.StoreSegment
	}
	if n.ImageDimension > 0 {
		nc.ImageDimension = n.ImageDimension
	}
	nc.DefaultCurrency = n.DefaultCurrency
	if err := nc.Rules.Override(n.Rules); err != nil {
		return nc, fmt.Errorf("normalize.rules: %w", err)
	}
	return nc, nil
}

func htmlSelectors(cfg *config.HarvesterConfig) htmlfallback.Selectors {
	h := cfg.Normalize.HTML
	return htmlfallback.Selectors{
		Card:          h.Card,
		IDAttributes:  h.IDAttributes,
		Name:          h.Name,
		Price:         h.Price,
		OriginalPrice: h.OriginalPrice,
		UnitPrice:     h.UnitPrice,
		Brand:         h.Brand,
		Size:          h.Size,
		Image:         h.Image,
		Link:          h.Link,
		OutOfStock:    h.OutOfStock,
	}
}

func pipelineConfig(cfg *config.HarvesterConfig) pipeline.Config {
	return pipeline.Config{
		StartURLs:    cfg.Run.StartURLs,
		Target:       cfg.Run.Target,
		MaxPages:     cfg.Run.MaxPages,
		PageParam:    cfg.Run.PageParam,
		PageDelayMin: time.Duration(cfg.Run.PageDelayMin),
		PageDelayMax: time.Duration(cfg.Run.PageDelayMax),
		Enrich:       cfg.Enrich.Enabled,
		Concurrency:  cfg.Enrich.Concurrency,
		ChunkPause:   time.Duration(cfg.Enrich.ChunkPause),
		SkipSeenTTL:  time.Duration(cfg.Enrich.SkipSeenTTL),
		BatchSize:    cfg.Sink.BatchSize,
	}
}

// newRenderer builds the browser tier. The pool is kept below enrichment
// concurrency so detail workers never all wait on browsers.
func newRenderer(cfg *config.HarvesterConfig, proxies transport.ProxyProvider, collector *metrics.Collector, logger *zap.Logger) (*chrome.Renderer, *chrome.ChromePool, error) {
	cc := chromeConfig(cfg)
	if err := cc.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid render config: %w", err)
	}
	if cfg.Enrich.Enabled && cfg.Enrich.Concurrency > 1 {
		if size := cc.CalculatePoolSize(); size >= cfg.Enrich.Concurrency {
			cc.PoolSize = strconv.Itoa(cfg.Enrich.Concurrency - 1)
		}
	}

	block, err := chrome.NewBlockPolicy(cc.BlockedResourceTypes, cc.BlockedPatterns)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid render block policy: %w", err)
	}

	pool, err := chrome.NewChromePool(cc, proxies, collector, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create chrome pool: %w", err)
	}

	acceptLanguage := transportConfig(cfg).AcceptLanguage
	stealth := chrome.DefaultStealthPolicy(chrome.LanguagesFromHeader(acceptLanguage))
	renderer := chrome.NewRenderer(pool, cc, stealth, block, acceptLanguage, collector, logger)
	return renderer, pool, nil
}
