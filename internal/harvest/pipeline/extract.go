package pipeline

import (
	"errors"

	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/harvest/normalize"
	"github.com/edgecomet/harvester/internal/harvest/stategraph"
)

// extract runs the extraction tiers in order: state graph product nodes,
// then markup. A tier that finds nothing falls through to the next.
func (h *harvest) extract(page *Page, logger *zap.Logger) []normalize.Candidate {
	graph, err := h.Parser.Parse(page.Body)
	switch {
	case err == nil:
		nodes := h.Parser.ProductNodes(graph)
		if len(nodes) > 0 {
			candidates := make([]normalize.Candidate, len(nodes))
			for i, n := range nodes {
				candidates[i] = normalize.GraphCandidate(n.Key, n.Value)
			}
			return candidates
		}
		logger.Debug("State graph has no product nodes", zap.Int("graph_size", graph.Len()))
	case errors.Is(err, stategraph.ErrNoStateScript):
		logger.Debug("No state script on page")
	default:
		logger.Info("State graph unavailable, falling back to markup", zap.Error(err))
	}

	if h.HTML == nil {
		return nil
	}
	candidates, err := h.HTML.Extract(page.Body)
	if err != nil {
		logger.Warn("Markup extraction failed", zap.Error(err))
		return nil
	}
	return candidates
}

// detailCandidate picks the candidate describing productID on a detail
// page, or the first candidate when none matches.
func (h *harvest) detailCandidate(page *Page, productID string, logger *zap.Logger) (normalize.Candidate, bool) {
	graph, err := h.Parser.Parse(page.Body)
	if err == nil {
		nodes := h.Parser.ProductNodes(graph)
		if n, ok := h.Parser.FindNode(nodes, productID); ok {
			return normalize.GraphCandidate(n.Key, n.Value), true
		}
		if len(nodes) > 0 {
			return normalize.GraphCandidate(nodes[0].Key, nodes[0].Value), true
		}
	} else if !errors.Is(err, stategraph.ErrNoStateScript) {
		logger.Debug("Detail state graph unavailable", zap.Error(err))
	}

	if h.HTML == nil {
		return normalize.Candidate{}, false
	}
	candidates, err := h.HTML.Extract(page.Body)
	if err != nil || len(candidates) == 0 {
		return normalize.Candidate{}, false
	}
	for _, c := range candidates {
		if id, _ := c.Fields["productId"].(string); id != "" && id == productID {
			return c, true
		}
	}
	return candidates[0], true
}
