package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/edgecomet/harvester/internal/common/configtypes"
	"github.com/edgecomet/harvester/pkg/types"
)

const (
	// EnvConfigPath overrides the default config location
	EnvConfigPath     = "HARVESTER_CONFIG"
	DefaultConfigPath = "configs/harvester.yaml"
)

// HarvesterConfig is the root of configs/harvester.yaml
type HarvesterConfig struct {
	Run       RunConfig                  `yaml:"run"`
	Transport TransportConfig            `yaml:"transport"`
	Render    RenderConfig               `yaml:"render"`
	State     StateConfig                `yaml:"state"`
	Normalize NormalizeConfig            `yaml:"normalize"`
	Enrich    EnrichConfig               `yaml:"enrich"`
	Proxy     ProxyConfig                `yaml:"proxy"`
	Sink      SinkConfig                 `yaml:"sink"`
	Summary   configtypes.SummaryConfig  `yaml:"summary"`
	Snapshots configtypes.SnapshotConfig `yaml:"snapshots"`
	Redis     configtypes.RedisConfig    `yaml:"redis"`
	Log       configtypes.LogConfig      `yaml:"log"`
	Metrics   configtypes.MetricsConfig  `yaml:"metrics"`
}

// RunConfig describes one crawl
type RunConfig struct {
	Label              string         `yaml:"label"`
	StartURLs          []string       `yaml:"start_urls"`
	Target             int            `yaml:"target"`
	MaxPages           int            `yaml:"max_pages"`
	PageParam          string         `yaml:"page_param"`
	PageDelayMin       types.Duration `yaml:"page_delay_min"`
	PageDelayMax       types.Duration `yaml:"page_delay_max"`
	Region             string         `yaml:"region"`
	RegionCookie       string         `yaml:"region_cookie"`
	RegionCookieDomain string         `yaml:"region_cookie_domain"`
}

type TransportConfig struct {
	Timeout        types.Duration `yaml:"timeout"`
	MaxAttempts    int            `yaml:"max_attempts"`
	BackoffBase    types.Duration `yaml:"backoff_base"`
	RateLimit      float64        `yaml:"rate_limit"`
	RateBurst      int            `yaml:"rate_burst"`
	AcceptLanguage string         `yaml:"accept_language"`
	UserAgents     []string       `yaml:"user_agents"`
	MaxBodySize    int            `yaml:"max_body_size"`
}

type RenderConfig struct {
	Disabled             bool           `yaml:"disabled"`
	PoolSize             string         `yaml:"pool_size"`
	NavTimeout           types.Duration `yaml:"nav_timeout"`
	SettleDelay          types.Duration `yaml:"settle_delay"`
	RestartAfterCount    int            `yaml:"restart_after_count"`
	RestartAfterTime     types.Duration `yaml:"restart_after_time"`
	ShutdownTimeout      types.Duration `yaml:"shutdown_timeout"`
	ShowBrowser          bool           `yaml:"show_browser"`
	ExecPath             string         `yaml:"exec_path"`
	ViewportWidth        int            `yaml:"viewport_width"`
	ViewportHeight       int            `yaml:"viewport_height"`
	BlockedResourceTypes []string       `yaml:"blocked_resource_types"`
	BlockedPatterns      []string       `yaml:"blocked_patterns"`
}

type StateConfig struct {
	ScriptIDs        []string `yaml:"script_ids"`
	MinPayloadLength int      `yaml:"min_payload_length"`
	MaxDepth         int      `yaml:"max_depth"`
	ProductTypes     []string `yaml:"product_types"`
}

type NormalizeConfig struct {
	ProductsPath    string              `yaml:"products_path"`
	StoreSegment    string              `yaml:"store_segment"`
	ImageDimension  int                 `yaml:"image_dimension"`
	DefaultCurrency string              `yaml:"default_currency"`
	Rules           map[string][]string `yaml:"rules"` // field name -> ordered paths, replaces the built-in chain
	HTML            HTMLConfig          `yaml:"html"`
}

// HTMLConfig overrides product-card selectors of the markup tier
type HTMLConfig struct {
	Card          string   `yaml:"card"`
	IDAttributes  []string `yaml:"id_attributes"`
	Name          string   `yaml:"name"`
	Price         string   `yaml:"price"`
	OriginalPrice string   `yaml:"original_price"`
	UnitPrice     string   `yaml:"unit_price"`
	Brand         string   `yaml:"brand"`
	Size          string   `yaml:"size"`
	Image         string   `yaml:"image"`
	Link          string   `yaml:"link"`
	OutOfStock    string   `yaml:"out_of_stock"`
}

type EnrichConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Concurrency int            `yaml:"concurrency"`
	ChunkPause  types.Duration `yaml:"chunk_pause"`
	SkipSeenTTL types.Duration `yaml:"skip_seen_ttl"` // 0 disables the cross-run seen-set
}

type ProxyConfig struct {
	Endpoints []string `yaml:"endpoints"`
}

type SinkConfig struct {
	BatchSize int                        `yaml:"batch_size"`
	File      configtypes.SinkFileConfig `yaml:"file"`
}

const (
	defaultTarget       = 100
	defaultMaxPages     = 10
	defaultPageParam    = "page"
	defaultPageDelayMin = 2 * time.Second
	defaultPageDelayMax = 5 * time.Second

	defaultTransportTimeout = 30 * time.Second
	defaultMaxAttempts      = 3
	defaultBackoffBase      = time.Second
	defaultRateBurst        = 1
	defaultMaxBodySize      = 20 * 1024 * 1024

	defaultPoolSize          = "2"
	defaultNavTimeout        = 20 * time.Second
	defaultSettleDelay       = 1500 * time.Millisecond
	defaultRestartAfterCount = 50
	defaultRestartAfterTime  = 30 * time.Minute
	defaultShutdownTimeout   = 15 * time.Second
	defaultViewportWidth     = 1366
	defaultViewportHeight    = 900

	defaultEnrichConcurrency = 4
	maxEnrichConcurrency     = 16
	defaultChunkPause        = time.Second

	defaultBatchSize = 50

	defaultSummaryTTL  = 7 * 24 * time.Hour
	defaultKeepRuns    = 100
	defaultMetricsPath = "/metrics"
	defaultNamespace   = "harvester"
)

var metricsNamespaceRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// applyDefaults fills zero values before validation
func (cfg *HarvesterConfig) applyDefaults() {
	r := &cfg.Run
	if r.Target == 0 {
		r.Target = defaultTarget
	}
	if r.MaxPages == 0 {
		r.MaxPages = defaultMaxPages
	}
	if r.PageParam == "" {
		r.PageParam = defaultPageParam
	}
	if r.PageDelayMin == 0 && r.PageDelayMax == 0 {
		r.PageDelayMin = types.Duration(defaultPageDelayMin)
		r.PageDelayMax = types.Duration(defaultPageDelayMax)
	}

	t := &cfg.Transport
	if t.Timeout == 0 {
		t.Timeout = types.Duration(defaultTransportTimeout)
	}
	if t.MaxAttempts == 0 {
		t.MaxAttempts = defaultMaxAttempts
	}
	if t.BackoffBase == 0 {
		t.BackoffBase = types.Duration(defaultBackoffBase)
	}
	if t.RateBurst == 0 {
		t.RateBurst = defaultRateBurst
	}
	if t.MaxBodySize == 0 {
		t.MaxBodySize = defaultMaxBodySize
	}

	rd := &cfg.Render
	if rd.PoolSize == "" {
		rd.PoolSize = defaultPoolSize
	}
	if rd.NavTimeout == 0 {
		rd.NavTimeout = types.Duration(defaultNavTimeout)
	}
	if rd.SettleDelay == 0 {
		rd.SettleDelay = types.Duration(defaultSettleDelay)
	}
	if rd.RestartAfterCount == 0 {
		rd.RestartAfterCount = defaultRestartAfterCount
	}
	if rd.RestartAfterTime == 0 {
		rd.RestartAfterTime = types.Duration(defaultRestartAfterTime)
	}
	if rd.ShutdownTimeout == 0 {
		rd.ShutdownTimeout = types.Duration(defaultShutdownTimeout)
	}
	if rd.ViewportWidth == 0 {
		rd.ViewportWidth = defaultViewportWidth
	}
	if rd.ViewportHeight == 0 {
		rd.ViewportHeight = defaultViewportHeight
	}

	if cfg.Enrich.Concurrency == 0 {
		cfg.Enrich.Concurrency = defaultEnrichConcurrency
	}
	if cfg.Enrich.ChunkPause == 0 {
		cfg.Enrich.ChunkPause = types.Duration(defaultChunkPause)
	}

	if cfg.Sink.BatchSize == 0 {
		cfg.Sink.BatchSize = defaultBatchSize
	}

	if cfg.Summary.RedisTTL == 0 {
		cfg.Summary.RedisTTL = types.Duration(defaultSummaryTTL)
	}
	if cfg.Summary.KeepRuns == 0 {
		cfg.Summary.KeepRuns = defaultKeepRuns
	}

	if cfg.Snapshots.Compression == "" {
		cfg.Snapshots.Compression = configtypes.CompressionSnappy
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = configtypes.LogLevelInfo
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = configtypes.LogFormatText
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = defaultNamespace
	}
}

// Validate checks configuration validity. Errors name the offending YAML path.
func (cfg *HarvesterConfig) Validate() error {
	validators := []func() error{
		cfg.validateRun,
		cfg.validateTransport,
		cfg.validateRender,
		cfg.validateState,
		cfg.validateNormalize,
		cfg.validateEnrich,
		cfg.validateOutputs,
		cfg.validateLog,
		cfg.validateMetrics,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *HarvesterConfig) validateRun() error {
	r := cfg.Run
	if len(r.StartURLs) == 0 {
		return fmt.Errorf("run.start_urls must list at least one URL")
	}
	for i, raw := range r.StartURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("run.start_urls[%d]: %q is not an absolute http(s) URL", i, raw)
		}
	}
	if r.Target <= 0 {
		return fmt.Errorf("run.target must be positive")
	}
	if r.MaxPages <= 0 {
		return fmt.Errorf("run.max_pages must be positive")
	}
	if r.PageDelayMin < 0 || r.PageDelayMax < 0 {
		return fmt.Errorf("run.page_delay_min and run.page_delay_max cannot be negative")
	}
	if r.PageDelayMax < r.PageDelayMin {
		return fmt.Errorf("run.page_delay_max (%s) must be >= run.page_delay_min (%s)", r.PageDelayMax, r.PageDelayMin)
	}
	if r.RegionCookie != "" && r.Region == "" {
		return fmt.Errorf("run.region is required when run.region_cookie is set")
	}
	return nil
}

func (cfg *HarvesterConfig) validateTransport() error {
	t := cfg.Transport
	if t.Timeout <= 0 {
		return fmt.Errorf("transport.timeout must be positive")
	}
	if t.MaxAttempts <= 0 {
		return fmt.Errorf("transport.max_attempts must be positive")
	}
	if t.BackoffBase < 0 {
		return fmt.Errorf("transport.backoff_base cannot be negative")
	}
	if t.RateLimit < 0 {
		return fmt.Errorf("transport.rate_limit cannot be negative")
	}
	if t.RateBurst <= 0 {
		return fmt.Errorf("transport.rate_burst must be positive")
	}
	if t.MaxBodySize <= 0 {
		return fmt.Errorf("transport.max_body_size must be positive")
	}
	return nil
}

func (cfg *HarvesterConfig) validateRender() error {
	rd := cfg.Render
	if rd.Disabled {
		return nil
	}
	if rd.PoolSize != "auto" {
		size, err := strconv.Atoi(rd.PoolSize)
		if err != nil || size <= 0 {
			return fmt.Errorf("render.pool_size must be 'auto' or positive integer")
		}
		if cfg.Enrich.Enabled && cfg.Enrich.Concurrency > 1 && size >= cfg.Enrich.Concurrency {
			return fmt.Errorf("render.pool_size (%d) must be lower than enrich.concurrency (%d)", size, cfg.Enrich.Concurrency)
		}
	}
	if rd.NavTimeout <= 0 {
		return fmt.Errorf("render.nav_timeout must be positive")
	}
	if rd.NavTimeout > cfg.Transport.Timeout {
		return fmt.Errorf("render.nav_timeout (%s) must not exceed transport.timeout (%s)", rd.NavTimeout, cfg.Transport.Timeout)
	}
	if rd.SettleDelay < 0 || rd.SettleDelay >= rd.NavTimeout {
		return fmt.Errorf("render.settle_delay must be non-negative and shorter than render.nav_timeout")
	}
	if rd.RestartAfterCount <= 0 {
		return fmt.Errorf("render.restart_after_count must be positive")
	}
	if rd.RestartAfterTime <= 0 {
		return fmt.Errorf("render.restart_after_time must be positive")
	}
	if rd.ShutdownTimeout <= 0 {
		return fmt.Errorf("render.shutdown_timeout must be positive")
	}
	if rd.ViewportWidth <= 0 || rd.ViewportHeight <= 0 {
		return fmt.Errorf("render.viewport_width and render.viewport_height must be positive")
	}
	return nil
}

func (cfg *HarvesterConfig) validateState() error {
	s := cfg.State
	for i, id := range s.ScriptIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("state.script_ids[%d] cannot be empty", i)
		}
	}
	if s.MinPayloadLength < 0 {
		return fmt.Errorf("state.min_payload_length cannot be negative")
	}
	if s.MaxDepth < 0 {
		return fmt.Errorf("state.max_depth cannot be negative")
	}
	return nil
}

func (cfg *HarvesterConfig) validateNormalize() error {
	n := cfg.Normalize
	if n.ProductsPath != "" && !strings.HasPrefix(n.ProductsPath, "/") {
		return fmt.Errorf("normalize.products_path must start with /")
	}
	if strings.Contains(n.StoreSegment, "/") {
		return fmt.Errorf("normalize.store_segment must be a single path segment")
	}
	if n.ImageDimension < 0 {
		return fmt.Errorf("normalize.image_dimension cannot be negative")
	}
	for field, chain := range n.Rules {
		if len(chain) == 0 {
			return fmt.Errorf("normalize.rules.%s must list at least one path", field)
		}
	}
	return nil
}

func (cfg *HarvesterConfig) validateEnrich() error {
	e := cfg.Enrich
	if e.Concurrency <= 0 || e.Concurrency > maxEnrichConcurrency {
		return fmt.Errorf("enrich.concurrency must be between 1 and %d", maxEnrichConcurrency)
	}
	if e.ChunkPause < 0 {
		return fmt.Errorf("enrich.chunk_pause cannot be negative")
	}
	if e.SkipSeenTTL < 0 {
		return fmt.Errorf("enrich.skip_seen_ttl cannot be negative")
	}
	if e.SkipSeenTTL > 0 && !cfg.Redis.Enabled {
		return fmt.Errorf("enrich.skip_seen_ttl requires redis.enabled")
	}
	return nil
}

func (cfg *HarvesterConfig) validateOutputs() error {
	if cfg.Sink.BatchSize <= 0 {
		return fmt.Errorf("sink.batch_size must be positive")
	}
	if cfg.Sink.File.Enabled && cfg.Sink.File.Path == "" {
		return fmt.Errorf("sink.file.path is required when sink.file.enabled")
	}
	if err := validateRotation("sink.file.rotation", cfg.Sink.File.Rotation); err != nil {
		return err
	}

	if cfg.Summary.Redis && !cfg.Redis.Enabled {
		return fmt.Errorf("summary.redis requires redis.enabled")
	}
	if cfg.Summary.RedisTTL < 0 {
		return fmt.Errorf("summary.redis_ttl cannot be negative")
	}
	if cfg.Summary.KeepRuns < 0 {
		return fmt.Errorf("summary.keep_runs cannot be negative")
	}

	if cfg.Snapshots.Enabled && cfg.Snapshots.Dir == "" {
		return fmt.Errorf("snapshots.dir is required when snapshots.enabled")
	}
	switch cfg.Snapshots.Compression {
	case configtypes.CompressionNone, configtypes.CompressionSnappy, configtypes.CompressionLZ4:
	default:
		return fmt.Errorf("invalid snapshots.compression: %s (must be none, snappy, or lz4)", cfg.Snapshots.Compression)
	}

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis.enabled")
	}
	if cfg.Redis.DB < 0 {
		return fmt.Errorf("redis.db cannot be negative")
	}
	return nil
}

func (cfg *HarvesterConfig) validateLog() error {
	validLogLevels := map[string]bool{
		configtypes.LogLevelDebug: true,
		configtypes.LogLevelInfo:  true,
		configtypes.LogLevelWarn:  true,
		configtypes.LogLevelError: true,
	}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", cfg.Log.Level)
	}

	if cfg.Log.Console.Enabled {
		switch cfg.Log.Console.Format {
		case configtypes.LogFormatJSON, configtypes.LogFormatConsole:
		default:
			return fmt.Errorf("invalid log.console.format: %s (must be json or console)", cfg.Log.Console.Format)
		}
	}

	if cfg.Log.File.Enabled {
		if cfg.Log.File.Path == "" {
			return fmt.Errorf("log.file.path must be specified when file logging is enabled")
		}
		switch cfg.Log.File.Format {
		case configtypes.LogFormatJSON, configtypes.LogFormatText:
		default:
			return fmt.Errorf("invalid log.file.format: %s (must be json or text)", cfg.Log.File.Format)
		}
		if err := validateRotation("log.file.rotation", cfg.Log.File.Rotation); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *HarvesterConfig) validateMetrics() error {
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen is required when metrics enabled")
		}
		if err := configtypes.ValidateListenAddress(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics.path: %s (must start with /)", cfg.Metrics.Path)
	}
	if !metricsNamespaceRe.MatchString(cfg.Metrics.Namespace) {
		return fmt.Errorf("invalid metrics.namespace: %s (must match [a-zA-Z_][a-zA-Z0-9_]*)", cfg.Metrics.Namespace)
	}
	return nil
}

func validateRotation(path string, r configtypes.RotationConfig) error {
	if r.MaxSize < 0 {
		return fmt.Errorf("%s.max_size must be >= 0, got %d", path, r.MaxSize)
	}
	if r.MaxAge < 0 {
		return fmt.Errorf("%s.max_age must be >= 0, got %d", path, r.MaxAge)
	}
	if r.MaxBackups < 0 {
		return fmt.Errorf("%s.max_backups must be >= 0, got %d", path, r.MaxBackups)
	}
	return nil
}

// Parse decodes, defaults and validates configuration bytes
func Parse(data []byte) (*HarvesterConfig, error) {
	var cfg HarvesterConfig
	if err := unmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Load reads configuration from a file
func Load(configPath string) (*HarvesterConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// ResolvePath picks the config file: explicit flag, then HARVESTER_CONFIG,
// then the default location. The result is absolute and must exist.
func ResolvePath(flagValue string) (string, error) {
	path := flagValue
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return "", fmt.Errorf("config file does not exist: %s", absPath)
	}
	return absPath, nil
}
