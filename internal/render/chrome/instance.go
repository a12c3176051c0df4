package chrome

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// NewChromeInstance starts a browser routed through proxy (empty means direct)
func NewChromeInstance(id int, proxy string, config *Config, logger *zap.Logger) (*ChromeInstance, error) {
	now := time.Now().UTC()
	instance := &ChromeInstance{
		ID:           id,
		createdAt:    now,
		logger:       logger,
		proxy:        proxy,
		status:       int32(ChromeStatusIdle),
		lastUsedNano: now.UnixNano(),
	}

	if err := instance.createBrowser(config); err != nil {
		return nil, fmt.Errorf("failed to create Chrome instance %d: %w", id, err)
	}

	instance.logger.Info("Chrome instance created",
		zap.Int("instance_id", id),
		zap.Bool("proxied", proxy != ""),
		zap.String("browser", instance.browserVersion))

	return instance, nil
}

func allocatorOptions(config *Config, proxy string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.WindowSize(config.ViewportWidth, config.ViewportHeight),
	)
	if config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(config.ExecPath))
	}
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	return opts
}

func (ci *ChromeInstance) createBrowser(config *Config) error {
	ci.allocatorCtx, ci.allocatorCancel = chromedp.NewExecAllocator(context.Background(), allocatorOptions(config, ci.proxy)...)
	ci.ctx, ci.cancel = chromedp.NewContext(ci.allocatorCtx)

	if err := chromedp.Run(ci.ctx); err != nil {
		ci.allocatorCancel()
		return fmt.Errorf("failed to start Chrome: %w", err)
	}

	if err := chromedp.Run(ci.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, userAgent, _, err := browser.GetVersion().Do(ctx)
		if err != nil {
			return err
		}
		ci.browserVersion = DesktopUserAgent(userAgent)
		return nil
	})); err != nil {
		ci.logger.Warn("Failed to capture browser version",
			zap.Int("instance_id", ci.ID),
			zap.Error(err))
	}
	return nil
}

// IsAlive checks if the browser still answers CDP calls
func (ci *ChromeInstance) IsAlive() bool {
	if ci.GetStatus() == ChromeStatusDead {
		return false
	}

	ctx, cancel := context.WithTimeout(ci.ctx, 5*time.Second)
	defer cancel()

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := browser.GetVersion().Do(ctx)
		return err
	}))
	return err == nil
}

// Age returns how long the current browser process has been running
func (ci *ChromeInstance) Age() time.Duration {
	return time.Now().UTC().Sub(ci.createdAt)
}

// ShouldRestart applies the recycle policy
func (ci *ChromeInstance) ShouldRestart(config *Config) bool {
	return shouldRecycle(int(ci.GetRequestsDone()), ci.Age(), config)
}

func shouldRecycle(requestsDone int, age time.Duration, config *Config) bool {
	return requestsDone >= config.RestartAfterCount || age >= config.RestartAfterTime
}

// Restart replaces the browser process, switching to proxy
func (ci *ChromeInstance) Restart(config *Config, proxy string) error {
	ci.logger.Info("Restarting Chrome instance",
		zap.Int("instance_id", ci.ID),
		zap.Int32("requests_done", ci.GetRequestsDone()),
		zap.Duration("age", ci.Age()))

	ci.SetStatus(ChromeStatusRestarting)
	_ = ci.Terminate()

	now := time.Now().UTC()
	atomic.StoreInt32(&ci.requestsDone, 0)
	ci.createdAt = now
	ci.proxy = proxy
	atomic.StoreInt64(&ci.lastUsedNano, now.UnixNano())

	if err := ci.createBrowser(config); err != nil {
		ci.SetStatus(ChromeStatusDead)
		return fmt.Errorf("%w: %v", ErrRestartFailed, err)
	}
	ci.SetStatus(ChromeStatusIdle)
	return nil
}

// Terminate shuts down the browser process
func (ci *ChromeInstance) Terminate() error {
	atomic.StoreInt32(&ci.status, int32(ChromeStatusDead))
	if ci.cancel != nil {
		ci.cancel()
	}
	if ci.allocatorCancel != nil {
		ci.allocatorCancel()
	}
	return nil
}

// IncrementRequests counts a finished render
func (ci *ChromeInstance) IncrementRequests() {
	atomic.AddInt32(&ci.requestsDone, 1)
	atomic.StoreInt64(&ci.lastUsedNano, time.Now().UTC().UnixNano())
}

// NewTab opens a fresh tab context on this browser
func (ci *ChromeInstance) NewTab() (context.Context, context.CancelFunc) {
	return chromedp.NewContext(ci.ctx)
}

func (ci *ChromeInstance) GetStatus() ChromeStatus {
	return ChromeStatus(atomic.LoadInt32(&ci.status))
}

func (ci *ChromeInstance) SetStatus(status ChromeStatus) {
	atomic.StoreInt32(&ci.status, int32(status))
}

func (ci *ChromeInstance) GetRequestsDone() int32 {
	return atomic.LoadInt32(&ci.requestsDone)
}

func (ci *ChromeInstance) GetLastUsed() time.Time {
	return time.Unix(0, atomic.LoadInt64(&ci.lastUsedNano))
}

// UserAgent is the browser's own UA with the headless marker removed
func (ci *ChromeInstance) UserAgent() string {
	return ci.browserVersion
}
