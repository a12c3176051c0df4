package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/harvest/session"
	"github.com/edgecomet/harvester/internal/harvest/transport"
)

// PageFetcher retrieves pages over direct HTTP
type PageFetcher interface {
	FetchPage(ctx context.Context, run *session.Run, targetURL string, profile transport.HeaderProfile) (*transport.Response, error)
}

// PageRenderer retrieves pages through a real browser
type PageRenderer interface {
	RenderPage(ctx context.Context, run *session.Run, targetURL string) (string, error)
}

// Source names the tier that produced a page body
type Source string

const (
	SourceHTTP       Source = "http"
	SourceRender     Source = "render"
	SourceBestEffort Source = "best_effort"
)

// Page is a retrieved page body
type Page struct {
	URL    string
	Body   []byte
	Source Source
}

// retrieve runs the escalation ladder for one URL. Direct HTTP is skipped
// once the run has escalated. A failed or unusable direct fetch escalates
// the run; if rendering then fails, an exhausted best-effort body is used.
func (h *harvest) retrieve(ctx context.Context, targetURL string, profile transport.HeaderProfile) (*Page, error) {
	run := h.run
	logger := run.Logger().With(zap.String("url", targetURL))

	var bestEffort []byte
	if h.Renderer == nil || !run.Escalated() {
		resp, err := h.Fetcher.FetchPage(ctx, run, targetURL, profile)
		if resp != nil && resp.Attempts > 1 {
			h.summary.Retries(resp.Attempts - 1)
		}
		switch {
		case err == nil && resp.Usable():
			h.summary.HTTPOK()
			return &Page{URL: targetURL, Body: resp.Body, Source: SourceHTTP}, nil

		case err == nil:
			h.summary.HTTPFailed()
			bestEffort = resp.Body
			h.escalate(fmt.Sprintf("retries exhausted with status %d", resp.StatusCode))

		default:
			h.summary.HTTPFailed()
			if errors.Is(err, transport.ErrInvalidURL) {
				return nil, err
			}
			h.escalate(err.Error())
		}
	}

	if h.Renderer != nil {
		html, err := h.Renderer.RenderPage(ctx, run, targetURL)
		if err == nil {
			h.summary.Rendered()
			return &Page{URL: targetURL, Body: []byte(html), Source: SourceRender}, nil
		}
		h.summary.RenderFailed()
		logger.Warn("Render failed", zap.Error(err))
	}

	if bestEffort != nil {
		h.summary.BestEffort()
		logger.Info("Using best-effort body", zap.Int("body_size", len(bestEffort)))
		return &Page{URL: targetURL, Body: bestEffort, Source: SourceBestEffort}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnfetchable, targetURL)
}

// escalate flips the run to render-first. Without a renderer there is
// nothing to escalate to and direct HTTP stays in use.
func (h *harvest) escalate(reason string) {
	if h.Renderer == nil {
		return
	}
	if h.run.Escalate(reason) {
		h.Metrics.RecordEscalation()
		h.summary.RenderEngaged()
	}
}
