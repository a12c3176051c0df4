package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/harvest/htmlfallback"
	"github.com/edgecomet/harvester/internal/harvest/merge"
	"github.com/edgecomet/harvester/internal/harvest/metrics"
	"github.com/edgecomet/harvester/internal/harvest/normalize"
	"github.com/edgecomet/harvester/internal/harvest/session"
	"github.com/edgecomet/harvester/internal/harvest/sink"
	"github.com/edgecomet/harvester/internal/harvest/snapshot"
	"github.com/edgecomet/harvester/internal/harvest/stategraph"
	"github.com/edgecomet/harvester/internal/harvest/summary"
	"github.com/edgecomet/harvester/internal/harvest/transport"
	"github.com/edgecomet/harvester/pkg/types"
)

// Deps are the collaborators of a pipeline. Fetcher, Parser, Normalizer and
// Sink are required; the rest may be nil.
type Deps struct {
	Fetcher    PageFetcher
	Renderer   PageRenderer
	Parser     *stategraph.Parser
	HTML       *htmlfallback.Extractor
	Normalizer *normalize.Normalizer
	Sink       sink.Sink
	Summaries  summary.Store
	Snapshots  *snapshot.Writer
	Seen       SeenSet
	Metrics    *metrics.Collector
}

// Pipeline drives listing traversal, detail enrichment and emission
type Pipeline struct {
	cfg Config
	Deps
	logger *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	jitter func(min, max time.Duration) time.Duration
}

func New(cfg Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if deps.Fetcher == nil || deps.Parser == nil || deps.Normalizer == nil || deps.Sink == nil {
		return nil, fmt.Errorf("fetcher, parser, normalizer and sink are required")
	}
	return &Pipeline{
		cfg:    cfg,
		Deps:   deps,
		logger: logger,
		sleep:  sleepContext,
		jitter: randomDelay,
	}, nil
}

// harvest is the state of one run
type harvest struct {
	*Pipeline
	run     *session.Run
	summary *summary.Builder
	results *merge.ResultSet
}

// Run harvests every start URL and emits the result. Page-level failures
// never abort the run; the returned error is set only when the sink fails
// or ctx is cancelled. The summary is returned in both cases.
func (p *Pipeline) Run(ctx context.Context, run *session.Run) (types.RunSummary, error) {
	h := &harvest{
		Pipeline: p,
		run:      run,
		summary:  summary.NewBuilder(run.ID, run.Region, p.cfg.StartURLs, p.cfg.Target),
		results:  merge.NewResultSet(nil),
	}
	logger := run.Logger()

	logger.Info("Harvest started",
		zap.Strings("start_urls", p.cfg.StartURLs),
		zap.Int("target", p.cfg.Target),
		zap.Int("max_pages", p.cfg.MaxPages),
		zap.Bool("enrich", p.cfg.Enrich))

	for _, startURL := range p.cfg.StartURLs {
		if ctx.Err() != nil || h.targetReached() {
			break
		}
		h.crawl(ctx, startURL)
	}

	if p.cfg.Enrich && ctx.Err() == nil {
		h.enrich(ctx)
	}

	// emission and persistence outlive a cancelled run so collected records are kept
	finishCtx := context.WithoutCancel(ctx)

	records := h.results.Records()
	for method, n := range h.results.Methods() {
		h.summary.Observe(method, n)
	}

	// batches written before a failure stay in the append-only sink
	saved, runErr := h.emit(finishCtx, records)
	if runErr != nil {
		h.summary.Note(runErr.Error())
	}

	result := h.summary.Finish(saved)
	if h.Summaries != nil {
		if err := h.Summaries.Save(finishCtx, &result); err != nil {
			logger.Warn("Failed to persist run summary", zap.Error(err))
		}
	}

	logger.Info("Harvest finished",
		zap.Int("saved", result.SavedCount),
		zap.Int("pages", result.PagesProcessed),
		zap.Int("enriched", result.EnrichedCount),
		zap.Bool("render_engaged", result.RenderEngaged),
		zap.Any("methods_never_fired", result.MethodsNeverFired),
		zap.Duration("duration", result.Duration()))

	if runErr == nil && ctx.Err() != nil {
		runErr = fmt.Errorf("harvest interrupted: %w", ctx.Err())
	}
	return result, runErr
}

func (h *harvest) targetReached() bool {
	return h.results.Len() >= h.cfg.Target
}

// crawl walks listing pages of one start URL in order. It stops at the
// target, at max pages, or at the first fetched page without candidates.
func (h *harvest) crawl(ctx context.Context, startURL string) {
	for page := 1; page <= h.cfg.MaxPages; page++ {
		if ctx.Err() != nil || h.targetReached() {
			return
		}
		if page > 1 {
			if err := h.sleep(ctx, h.jitter(h.cfg.PageDelayMin, h.cfg.PageDelayMax)); err != nil {
				return
			}
		}

		pageURL, err := PageURL(startURL, h.cfg.PageParam, page)
		if err != nil {
			h.run.Logger().Error("Invalid start URL", zap.String("url", startURL), zap.Error(err))
			return
		}

		found, fetched := h.processListing(ctx, pageURL, page)
		if fetched && found == 0 {
			h.run.Logger().Info("Empty listing page, stopping traversal",
				zap.String("url", pageURL),
				zap.Int("page", page))
			return
		}
	}
}

// processListing fetches one listing page and folds its records into the
// result set. found is the number of candidates; fetched is false when the
// page could not be retrieved.
func (h *harvest) processListing(ctx context.Context, pageURL string, pageNum int) (found int, fetched bool) {
	logger := h.run.Logger().With(zap.String("url", pageURL), zap.Int("page", pageNum))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while processing listing page", zap.Any("panic", r), zap.Stack("stack"))
			h.summary.Note(fmt.Sprintf("panic on %s: %v", pageURL, r))
			found, fetched = 0, false
		}
	}()

	page, err := h.retrieve(ctx, pageURL, transport.NavigateProfile())
	if err != nil {
		logger.Warn("Listing page unfetchable", zap.Error(err))
		h.summary.Note(err.Error())
		return 0, false
	}
	h.summary.PageProcessed()
	h.Metrics.RecordPage()

	candidates := h.extract(page, logger)
	if len(candidates) == 0 {
		h.saveSnapshot(page, logger)
		return 0, true
	}

	added := 0
	for _, c := range candidates {
		if h.targetReached() {
			logger.Info("Target reached", zap.Int("target", h.cfg.Target))
			break
		}
		rec := h.Normalizer.Normalize(c, pageURL)
		_, result := h.results.Add(rec)
		h.Metrics.RecordMerge(string(result))
		h.Metrics.RecordRecords(string(c.Method()), 1)
		if result == merge.ResultAdded || result == merge.ResultPassthrough {
			added++
		}
	}

	logger.Info("Listing page processed",
		zap.String("source", string(page.Source)),
		zap.Int("candidates", len(candidates)),
		zap.Int("added", added),
		zap.Int("total", h.results.Len()))

	return len(candidates), true
}

func (h *harvest) saveSnapshot(page *Page, logger *zap.Logger) {
	path, err := h.Snapshots.Save(h.run.ID, page.URL, page.Body)
	if err != nil {
		logger.Warn("Failed to write page snapshot", zap.Error(err))
		return
	}
	if path != "" {
		logger.Info("Page without candidates saved", zap.String("snapshot", path))
	}
}

// emit writes the final records to the sink in batches and returns how
// many were accepted before any failure
func (h *harvest) emit(ctx context.Context, records []types.ProductRecord) (int, error) {
	written := 0
	for i, batch := range sink.Batches(records, h.cfg.BatchSize) {
		if err := h.Sink.Emit(ctx, batch); err != nil {
			h.run.Logger().Error("Sink emission failed",
				zap.Int("batch", i),
				zap.Int("batch_size", len(batch)),
				zap.Int("written", written),
				zap.Error(err))
			return written, fmt.Errorf("%w: %w", ErrSinkFailed, err)
		}
		written += len(batch)
	}
	return written, nil
}

// PageURL returns the URL of listing page n. Page 1 is the start URL itself.
func PageURL(startURL, param string, n int) (string, error) {
	u, err := url.Parse(startURL)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("start URL must be absolute: %q", startURL)
	}
	if n <= 1 {
		return startURL, nil
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
