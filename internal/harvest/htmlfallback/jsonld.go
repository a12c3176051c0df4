package htmlfallback

import (
	"encoding/json"
	"strings"

	"github.com/titanous/json5"
)

const jsonLDSelector = `script[type="application/ld+json"]`

// decodeJSONLD parses one ld+json block. Some storefronts emit trailing
// commas, so a strict failure is retried with the JSON5 decoder.
func decodeJSONLD(text string) (any, error) {
	text = strings.TrimSpace(text)
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v, nil
	}
	if err := json5.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// collectProducts walks a decoded block and returns every Product object.
// It follows @graph containers, top-level arrays and ItemList entries.
func collectProducts(v any) []map[string]any {
	var out []map[string]any
	stack := []any{v}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch t := cur.(type) {
		case []any:
			for i := len(t) - 1; i >= 0; i-- {
				stack = append(stack, t[i])
			}
		case map[string]any:
			if hasType(t, "Product") {
				out = append(out, flattenOffers(t))
				continue
			}
			var next []any
			if g, ok := t["@graph"]; ok {
				next = append(next, g)
			}
			if items, ok := t["itemListElement"].([]any); ok {
				for _, it := range items {
					if m, ok := it.(map[string]any); ok && m["item"] != nil {
						next = append(next, m["item"])
					} else {
						next = append(next, it)
					}
				}
			}
			for i := len(next) - 1; i >= 0; i-- {
				stack = append(stack, next[i])
			}
		}
	}
	return out
}

func hasType(m map[string]any, want string) bool {
	switch t := m["@type"].(type) {
	case string:
		return strings.EqualFold(t, want)
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}

// flattenOffers reduces offers to a single object so "offers.price" style
// rule paths resolve. AggregateOffer lowPrice stands in for a missing price.
func flattenOffers(product map[string]any) map[string]any {
	offers := product["offers"]
	if arr, ok := offers.([]any); ok {
		if len(arr) == 0 {
			return product
		}
		offers = arr[0]
	}
	offer, ok := offers.(map[string]any)
	if !ok {
		return product
	}

	flat := make(map[string]any, len(offer)+1)
	for k, v := range offer {
		flat[k] = v
	}
	if flat["price"] == nil && flat["lowPrice"] != nil {
		flat["price"] = flat["lowPrice"]
	}

	out := make(map[string]any, len(product))
	for k, v := range product {
		out[k] = v
	}
	out["offers"] = flat
	return out
}
