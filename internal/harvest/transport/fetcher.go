package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpproxy"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/edgecomet/harvester/internal/harvest/metrics"
	"github.com/edgecomet/harvester/internal/harvest/session"
)

// Response is a page retrieved over direct HTTP
type Response struct {
	URL            string
	StatusCode     int
	Body           []byte
	Attempts       int
	HasStateMarker bool
	// Exhausted is set when retries ran out on a retryable status and the
	// last body is returned as a best effort.
	Exhausted bool
	Duration  time.Duration
}

// Usable reports whether the body is worth parsing without escalation
func (r *Response) Usable() bool {
	return r != nil && (!r.Exhausted || r.HasStateMarker)
}

// Fetcher performs direct HTTP page retrieval
type Fetcher struct {
	config  *Config
	client  *fasthttp.Client
	headers *headerBuilder
	proxies ProxyProvider
	limiter *rate.Limiter
	metrics *metrics.Collector
	logger  *zap.Logger

	dialOverride fasthttp.DialFunc
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option customizes a Fetcher
type Option func(*Fetcher)

// WithProxies routes requests through the provider's endpoints
func WithProxies(p ProxyProvider) Option {
	return func(f *Fetcher) {
		if p != nil {
			f.proxies = p
		}
	}
}

// WithMetrics attaches a metrics collector
func WithMetrics(m *metrics.Collector) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithDialer replaces the network dialer (in-memory listeners in tests)
func WithDialer(dial fasthttp.DialFunc) Option {
	return func(f *Fetcher) { f.dialOverride = dial }
}

// NewFetcher creates a direct-HTTP fetcher
func NewFetcher(cfg *Config, logger *zap.Logger, opts ...Option) (*Fetcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("transport config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}

	f := &Fetcher{
		config:  cfg,
		headers: newHeaderBuilder(cfg.UserAgents, cfg.AcceptLanguage),
		proxies: DirectProvider{},
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  logger,
		sleep:   sleepContext,
	}
	if cfg.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	for _, opt := range opts {
		opt(f)
	}

	f.client = &fasthttp.Client{
		ReadTimeout:              cfg.Timeout,
		WriteTimeout:             cfg.Timeout,
		MaxResponseBodySize:      cfg.MaxBodySize,
		NoDefaultUserAgentHeader: true,
		Dial:                     f.dial,
	}

	return f, nil
}

// FetchPage retrieves targetURL with a fresh header set, persisting any
// Set-Cookie values into the run's jar. Retryable statuses back off
// exponentially; after the last attempt the body is returned with
// Exhausted set. Network errors and other statuses wrap ErrFetchFailed.
func (f *Fetcher) FetchPage(ctx context.Context, run *session.Run, targetURL string, profile HeaderProfile) (*Response, error) {
	if !strings.HasPrefix(targetURL, "http://") && !strings.HasPrefix(targetURL, "https://") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, targetURL)
	}

	logger := run.Logger().With(zap.String("url", targetURL))
	start := time.Now()

	var last *Response
	for attempt := 1; attempt <= f.config.MaxAttempts; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", ErrFetchFailed, err)
		}

		resp, err := f.do(ctx, run, targetURL, profile)
		if err != nil {
			f.metrics.RecordFetch(metrics.TierHTTP, metrics.OutcomeError)
			logger.Warn("Direct fetch failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		resp.Attempts = attempt
		resp.Duration = time.Since(start)

		switch Classify(resp.StatusCode, resp.Body, f.config.StateMarker) {
		case VerdictOK:
			f.metrics.RecordFetch(metrics.TierHTTP, metrics.OutcomeOK)
			logger.Debug("Direct fetch succeeded",
				zap.Int("status_code", resp.StatusCode),
				zap.Int("attempt", attempt),
				zap.Int("body_size", len(resp.Body)),
				zap.Bool("state_marker", resp.HasStateMarker))
			return resp, nil

		case VerdictFail:
			f.metrics.RecordFetch(metrics.TierHTTP, metrics.OutcomeStatus)
			logger.Warn("Direct fetch returned non-retryable status",
				zap.Int("status_code", resp.StatusCode))
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}

		last = resp
		if attempt == f.config.MaxAttempts {
			break
		}

		delay := BackoffDelay(f.config.BackoffBase, attempt)
		f.metrics.RecordRetry()
		logger.Info("Transient status, backing off",
			zap.Int("status_code", resp.StatusCode),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))

		if err := f.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
	}

	last.Exhausted = true
	last.Duration = time.Since(start)
	f.metrics.RecordFetch(metrics.TierHTTP, metrics.OutcomeExhausted)
	logger.Warn("Retries exhausted, returning best-effort body",
		zap.Int("status_code", last.StatusCode),
		zap.Int("attempts", last.Attempts),
		zap.Int("body_size", len(last.Body)))

	return last, nil
}

// do performs a single request attempt
func (f *Fetcher) do(ctx context.Context, run *session.Run, targetURL string, profile HeaderProfile) (*Response, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(targetURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	for _, h := range f.headers.Build(profile) {
		req.Header.Set(h.Name, h.Value)
	}
	if cookie := run.Jar.Header(); cookie != "" {
		req.Header.Set(fasthttp.HeaderCookie, cookie)
	}
	if _, direct := f.proxies.(DirectProvider); !direct {
		// a fresh connection per request picks up a fresh proxy endpoint
		req.SetConnectionClose()
	}

	deadline := time.Now().Add(f.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := f.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, err
	}

	resp.Header.VisitAllCookie(func(_, value []byte) {
		run.Jar.SetFromHeader(value)
	})

	body, err := resp.BodyUncompressed()
	if err != nil {
		f.logger.Debug("Failed to decode response body, using raw bytes",
			zap.String("url", targetURL),
			zap.Error(err))
		body = resp.Body()
	}

	return &Response{
		URL:            targetURL,
		StatusCode:     resp.StatusCode(),
		Body:           append([]byte(nil), body...),
		HasStateMarker: HasMarker(body, f.config.StateMarker),
	}, nil
}

// dial connects directly or through the next proxy endpoint
func (f *Fetcher) dial(addr string) (net.Conn, error) {
	if f.dialOverride != nil {
		return f.dialOverride(addr)
	}
	if endpoint := f.proxies.Endpoint(); endpoint != "" {
		return fasthttpproxy.FasthttpHTTPDialerTimeout(dialAddress(endpoint), f.config.Timeout)(addr)
	}
	return fasthttp.DialTimeout(addr, f.config.Timeout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
