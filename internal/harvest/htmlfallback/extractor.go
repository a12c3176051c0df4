package htmlfallback

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/edgecomet/harvester/internal/harvest/normalize"
)

// Extractor is the markup tier used when a page carries no usable state graph
type Extractor struct {
	sel    Selectors
	logger *zap.Logger
}

func New(sel Selectors, logger *zap.Logger) (*Extractor, error) {
	sel = sel.Merge(DefaultSelectors())
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{sel: sel, logger: logger}, nil
}

// Extract returns JSON-LD Product candidates when the page has any,
// otherwise candidates built from product-card markup.
func (e *Extractor) Extract(htmlBytes []byte) ([]normalize.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	if candidates := e.fromJSONLD(doc); len(candidates) > 0 {
		return candidates, nil
	}
	return e.fromCards(doc), nil
}

func (e *Extractor) fromJSONLD(doc *goquery.Document) []normalize.Candidate {
	var candidates []normalize.Candidate
	doc.Find(jsonLDSelector).Each(func(i int, s *goquery.Selection) {
		v, err := decodeJSONLD(s.Text())
		if err != nil {
			e.logger.Debug("Skipping malformed ld+json block", zap.Int("index", i), zap.Error(err))
			return
		}
		for _, p := range collectProducts(v) {
			key := "ld+json[" + strconv.Itoa(len(candidates)) + "]"
			candidates = append(candidates, normalize.HTMLCandidate(key, p))
		}
	})
	return candidates
}

func (e *Extractor) fromCards(doc *goquery.Document) []normalize.Candidate {
	var candidates []normalize.Candidate
	doc.Find(e.sel.Card).Each(func(i int, card *goquery.Selection) {
		fields := e.cardFields(card)
		if fields["productId"] == nil && fields["name"] == nil {
			return
		}
		candidates = append(candidates, normalize.HTMLCandidate("card["+strconv.Itoa(i)+"]", fields))
	})
	return candidates
}

func (e *Extractor) cardFields(card *goquery.Selection) map[string]any {
	fields := make(map[string]any)
	set := func(key, value string) {
		if value = collapseSpace(value); value != "" {
			fields[key] = value
		}
	}

	for _, attr := range e.sel.IDAttributes {
		if v, ok := card.Attr(attr); ok && strings.TrimSpace(v) != "" {
			set("productId", v)
			break
		}
	}

	set("name", firstText(card, e.sel.Name))
	set("priceString", firstText(card, e.sel.Price))
	set("fullPriceString", firstText(card, e.sel.OriginalPrice))
	set("pricePerUnitString", firstText(card, e.sel.UnitPrice))
	set("brand", firstText(card, e.sel.Brand))
	set("size", firstText(card, e.sel.Size))

	if img := card.Find(e.sel.Image).First(); img.Length() > 0 {
		for _, attr := range []string{"src", "data-src", "srcset"} {
			if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(v, "data:") {
				set("imageUrl", v)
				break
			}
		}
		if fields["name"] == nil {
			set("name", img.AttrOr("alt", ""))
		}
	}

	link := card
	if !card.Is("a[href]") {
		link = card.Find(e.sel.Link).First()
	}
	if href, ok := link.Attr("href"); ok {
		set("url", href)
	}

	if card.Find(e.sel.OutOfStock).Length() > 0 || card.AttrOr("data-available", "") == "false" {
		fields["inStock"] = false
	}
	return fields
}

func firstText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return s.Find(selector).First().Text()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
