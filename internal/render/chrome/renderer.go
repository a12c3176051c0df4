package chrome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/harvest/metrics"
	"github.com/edgecomet/harvester/internal/harvest/session"
)

const waitEventDOMContentLoaded = "DOMContentLoaded"

// Renderer is the browser tier. It is safe for concurrent use; concurrency
// is bounded by the pool size.
type Renderer struct {
	pool           *ChromePool
	config         *Config
	stealth        string
	block          *BlockPolicy
	acceptLanguage string
	metrics        *metrics.Collector
	logger         *zap.Logger
}

// NewRenderer wires a pool to the stealth and block policies
func NewRenderer(pool *ChromePool, config *Config, stealth StealthPolicy, block *BlockPolicy, acceptLanguage string,
	collector *metrics.Collector, logger *zap.Logger,
) *Renderer {
	return &Renderer{
		pool:           pool,
		config:         config,
		stealth:        stealth.Script(),
		block:          block,
		acceptLanguage: acceptLanguage,
		metrics:        collector,
		logger:         logger,
	}
}

// RenderPage loads targetURL in a pooled browser and returns the hydrated HTML.
// The run's cookies are injected before navigation and cookies the page sets
// are copied back. Every failure, including timeouts, is returned as an error
// and leaves the run intact.
func (r *Renderer) RenderPage(ctx context.Context, run *session.Run, targetURL string) (string, error) {
	start := time.Now()
	logger := run.Logger()

	instance, err := r.pool.Acquire(ctx)
	if err != nil {
		r.metrics.RecordFetch(metrics.TierRender, metrics.OutcomeError)
		return "", err
	}
	defer r.pool.Release(instance)

	tabCtx, tabCancel := instance.NewTab()
	defer tabCancel()
	navCtx, navCancel := context.WithTimeout(tabCtx, r.config.NavTimeout)
	defer navCancel()
	stop := context.AfterFunc(ctx, navCancel)
	defer stop()

	var html string
	var handlers sync.WaitGroup
	err = chromedp.Run(navCtx, r.buildTasks(instance, run, targetURL, &html, &handlers))
	timedOut := errors.Is(navCtx.Err(), context.DeadlineExceeded)
	navCancel()
	handlers.Wait()

	r.metrics.RecordRenderDuration(time.Since(start).Seconds())

	if err != nil {
		if timedOut && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %v", ErrRenderTimeout, r.config.NavTimeout, err)
			r.metrics.RecordFetch(metrics.TierRender, metrics.OutcomeTimeout)
		} else {
			r.metrics.RecordFetch(metrics.TierRender, metrics.OutcomeError)
		}
		logger.Warn("Render failed",
			zap.String("url", targetURL),
			zap.Int("instance_id", instance.ID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", err
	}

	if len(html) > r.config.MaxHTMLSize {
		r.metrics.RecordFetch(metrics.TierRender, metrics.OutcomeError)
		return "", fmt.Errorf("%w: %d bytes", ErrResponseTooLarge, len(html))
	}

	r.metrics.RecordFetch(metrics.TierRender, metrics.OutcomeOK)
	logger.Debug("Page rendered",
		zap.String("url", targetURL),
		zap.Int("instance_id", instance.ID),
		zap.Int("html_size", len(html)),
		zap.Duration("elapsed", time.Since(start)))
	return html, nil
}

func (r *Renderer) buildTasks(instance *ChromeInstance, run *session.Run, targetURL string, out *string, handlers *sync.WaitGroup) chromedp.Tasks {
	logger := run.Logger()

	userAgent := instance.UserAgent()
	uaOverride := emulation.SetUserAgentOverride(userAgent)
	if r.acceptLanguage != "" {
		uaOverride = uaOverride.WithAcceptLanguage(r.acceptLanguage)
	}

	return chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			chromedp.ListenTarget(ctx, func(event interface{}) {
				ev, ok := event.(*fetch.EventRequestPaused)
				if !ok {
					return
				}
				handlers.Add(1)
				go func() {
					defer handlers.Done()
					r.handlePaused(ctx, ev, logger)
				}()
			})
			return nil
		}),

		network.Enable(),
		fetch.Enable(),
		chromedp.ActionFunc(injectCookies(run.Jar, targetURL)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(r.stealth).Do(ctx)
			return err
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if userAgent == "" {
				return nil
			}
			return uaOverride.Do(ctx)
		}),
		enableLifeCycle(),
		r.navigateAndWait(targetURL),
		extractHTML(out),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := harvestCookies(run.Jar, targetURL)(ctx); err != nil {
				logger.Debug("Failed to read cookies back from browser", zap.Error(err))
			}
			return nil
		}),
		page.Close(),
	}
}

// handlePaused resolves one intercepted request according to the block policy
func (r *Renderer) handlePaused(ctx context.Context, ev *fetch.EventRequestPaused, logger *zap.Logger) {
	cmdCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	c := chromedp.FromContext(cmdCtx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(cmdCtx, c.Target)

	decision := r.block.Decide(ev.Request.URL, ev.ResourceType)
	var err error
	if decision == DecisionContinue {
		err = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
	} else {
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
	}
	if err != nil && ctx.Err() == nil {
		logger.Debug("Failed to resolve intercepted request",
			zap.String("url", ev.Request.URL),
			zap.String("decision", decision.String()),
			zap.Error(err))
		if decision == DecisionContinue {
			_ = fetch.FailRequest(ev.RequestID, network.ErrorReasonAborted).Do(execCtx)
		}
	}
}

// navigateAndWait waits for DOMContentLoaded, then a bounded settle delay so
// client hydration can populate the state script.
func (r *Renderer) navigateAndWait(targetURL string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		ready := make(chan struct{})
		var once sync.Once
		var frameID, loaderID string
		var mu sync.Mutex
		var pending []*page.EventLifecycleEvent

		listenCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		matches := func(e *page.EventLifecycleEvent) bool {
			return e.Name == waitEventDOMContentLoaded && string(e.FrameID) == frameID && string(e.LoaderID) == loaderID
		}

		chromedp.ListenTarget(listenCtx, func(ev interface{}) {
			e, ok := ev.(*page.EventLifecycleEvent)
			if !ok {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if frameID == "" {
				pending = append(pending, e)
				return
			}
			if matches(e) {
				once.Do(func() { close(ready) })
			}
		})

		fid, lid, errText, _, err := page.Navigate(targetURL).Do(ctx)
		if err != nil {
			return errors.Join(ErrNavigateFailed, err)
		}
		if errText != "" {
			return fmt.Errorf("%w: %s", ErrNavigateFailed, errText)
		}

		mu.Lock()
		frameID, loaderID = string(fid), string(lid)
		for _, e := range pending {
			if matches(e) {
				once.Do(func() { close(ready) })
			}
		}
		pending = nil
		mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}

		if r.config.SettleDelay > 0 {
			t := time.NewTimer(r.config.SettleDelay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}

// extractHTML reads the document outer HTML, retrying transient DOM errors
func extractHTML(output *string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		var lastErr error
		for attempt := 0; attempt < 3; attempt++ {
			root, err := dom.GetDocument().Do(ctx)
			if err == nil {
				var html string
				html, err = dom.GetOuterHTML().WithNodeID(root.NodeID).Do(ctx)
				if err == nil {
					*output = html
					return nil
				}
			}
			lastErr = err

			select {
			case <-time.After(300 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return fmt.Errorf("%w after 3 attempts: %v", ErrExtractHTML, lastErr)
	}
}

func enableLifeCycle() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := page.Enable().Do(ctx); err != nil {
			return err
		}
		return page.SetLifecycleEventsEnabled(true).Do(ctx)
	}
}
