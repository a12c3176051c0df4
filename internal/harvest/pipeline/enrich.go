package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/edgecomet/harvester/internal/common/urlutil"
	"github.com/edgecomet/harvester/internal/harvest/merge"
	"github.com/edgecomet/harvester/internal/harvest/normalize"
	"github.com/edgecomet/harvester/internal/harvest/transport"
	"github.com/edgecomet/harvester/pkg/types"
)

// NeedsEnrichment reports whether a detail fetch could add something to rec
func NeedsEnrichment(rec *types.ProductRecord) bool {
	if rec.ProductURL == "" {
		return false
	}
	return !rec.HasPrice() || rec.HasGenericStore() || rec.ImageURL == "" || rec.Description == ""
}

// enrich fetches detail pages for incomplete records, one chunk of
// cfg.Concurrency records at a time with a pause between chunks.
func (h *harvest) enrich(ctx context.Context) {
	logger := h.run.Logger()

	var pending []merge.Entry
	skipped, offsite := 0, 0
	for _, e := range h.results.Entries() {
		if e.Key.IsZero() || !NeedsEnrichment(&e.Record) {
			continue
		}
		if !urlutil.SameSite(e.Record.SourceURL, e.Record.ProductURL) {
			offsite++
			continue
		}
		if h.recentlySeen(ctx, e.Key) {
			skipped++
			continue
		}
		pending = append(pending, e)
	}

	if len(pending) == 0 {
		logger.Info("No records need enrichment",
			zap.Int("skipped_seen", skipped),
			zap.Int("skipped_offsite", offsite))
		return
	}
	logger.Info("Enrichment started",
		zap.Int("records", len(pending)),
		zap.Int("skipped_seen", skipped),
		zap.Int("skipped_offsite", offsite),
		zap.Int("concurrency", h.cfg.Concurrency))

	for start := 0; start < len(pending); start += h.cfg.Concurrency {
		if start > 0 {
			if err := h.sleep(ctx, h.cfg.ChunkPause); err != nil {
				break
			}
		}
		end := min(start+h.cfg.Concurrency, len(pending))

		g, gctx := errgroup.WithContext(ctx)
		for _, e := range pending[start:end] {
			g.Go(func() error {
				return h.enrichOne(gctx, e)
			})
		}
		if err := g.Wait(); err != nil {
			logger.Warn("Enrichment interrupted", zap.Error(err))
			return
		}
	}
}

func (h *harvest) seenEnabled() bool {
	return h.Seen != nil && h.cfg.SkipSeenTTL > 0
}

// recentlySeen consults the cross-run seen-set. Lookup errors count as unseen.
func (h *harvest) recentlySeen(ctx context.Context, key merge.Key) bool {
	if !h.seenEnabled() {
		return false
	}
	seen, err := h.Seen.Seen(ctx, key.Digest())
	if err != nil {
		h.run.Logger().Warn("Seen-set lookup failed", zap.String("key", key.Digest()), zap.Error(err))
		return false
	}
	return seen
}

// markSeen records a product whose detail page was merged
func (h *harvest) markSeen(ctx context.Context, key merge.Key, logger *zap.Logger) {
	if !h.seenEnabled() {
		return
	}
	if err := h.Seen.MarkSeen(ctx, key.Digest(), h.cfg.SkipSeenTTL); err != nil {
		logger.Warn("Seen-set update failed", zap.Error(err))
	}
}

// enrichOne merges one record's detail page into the result set. Page
// failures are logged and swallowed; only cancellation is returned.
func (h *harvest) enrichOne(ctx context.Context, e merge.Entry) (err error) {
	rec := e.Record
	detailURL := normalize.StoreScopedURL(rec.ProductURL, rec.StoreSlug, h.Normalizer.StoreSegment())
	logger := h.run.Logger().With(
		zap.String("url", detailURL),
		zap.String("product_id", rec.ProductID),
		zap.String("key", e.Key.Digest()))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while enriching record", zap.Any("panic", r), zap.Stack("stack"))
			h.summary.Note(fmt.Sprintf("panic enriching %s: %v", detailURL, r))
			err = nil
		}
	}()

	page, fetchErr := h.retrieve(ctx, detailURL, transport.DetailProfile(rec.SourceURL))
	if fetchErr != nil {
		logger.Info("Detail page unfetchable", zap.Error(fetchErr))
		return ctx.Err()
	}

	candidate, ok := h.detailCandidate(page, rec.ProductID, logger)
	if !ok {
		logger.Debug("Detail page has no product candidate")
		h.saveSnapshot(page, logger)
		return nil
	}

	incoming := h.Normalizer.Normalize(candidate, detailURL)
	if incoming.ProductID != "" && rec.ProductID != "" && incoming.ProductID != rec.ProductID {
		logger.Debug("Detail candidate belongs to another product",
			zap.String("detail_product_id", incoming.ProductID))
		return nil
	}

	result, found := h.results.Enrich(e.Key, &incoming, types.ExtractionDetailEnrichment)
	if !found {
		return nil
	}
	h.markSeen(ctx, e.Key, logger)
	h.Metrics.RecordMerge(string(result))
	if result == merge.ResultUpdated {
		h.summary.Enriched()
		h.Metrics.RecordRecords(string(types.ExtractionDetailEnrichment), 1)
		logger.Debug("Record enriched", zap.String("source", string(page.Source)))
	}
	return nil
}
