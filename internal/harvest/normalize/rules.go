package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Chain is an ordered list of dot-separated field paths; the first
// non-empty value wins. Numeric segments index into arrays.
type Chain []string

// Rules holds one chain per logical field
type Rules struct {
	ProductID     Chain
	Name          Chain
	Price         Chain
	OriginalPrice Chain
	UnitPrice     Chain
	InStock       Chain
	Currency      Chain
	Brand         Chain
	Size          Chain
	Description   Chain
	ImageURL      Chain
	Category      Chain
	Store         Chain
	StoreSlug     Chain
	ProductURL    Chain
	Slug          Chain
}

// DefaultRules returns the chains covering the known page variants
func DefaultRules() Rules {
	return Rules{
		ProductID: Chain{"productId", "legacyId", "id", "itemId", "sku"},
		Name:      Chain{"name", "displayName", "title"},
		Price: Chain{
			"price.viewSection.itemCard.priceString",
			"price.viewSection.priceString",
			"priceString",
			"price",
			"pricingInfo.price",
			"offers.price",
		},
		OriginalPrice: Chain{
			"price.viewSection.itemCard.fullPriceString",
			"price.viewSection.fullPriceString",
			"fullPriceString",
			"originalPrice",
			"pricingInfo.originalPrice",
		},
		UnitPrice: Chain{
			"price.viewSection.itemCard.pricePerUnitString",
			"price.viewSection.pricePerUnitString",
			"pricePerUnitString",
			"unitPrice",
			"pricingInfo.unitPrice",
		},
		InStock:     Chain{"availability.available", "availability.stockLevel", "inStock", "available", "offers.availability"},
		Currency:    Chain{"price.currency", "currency", "priceCurrency", "offers.priceCurrency"},
		Brand:       Chain{"brandName", "brand.name", "brand"},
		Size:        Chain{"size", "packageSize", "sizeLabel"},
		Description: Chain{"description", "details", "productDescription"},
		ImageURL: Chain{
			"viewSection.itemImage.templateUrl",
			"image.templateUrl",
			"imageUrl",
			"image.url",
			"image",
			"image.0",
			"images.0.url",
			"images.0",
		},
		Category:   Chain{"category", "categoryName", "department"},
		Store:      Chain{"retailerName", "retailer.name", "storeName", "store"},
		StoreSlug:  Chain{"retailerSlug", "retailer.slug"},
		ProductURL: Chain{"url", "productUrl", "href"},
		Slug:       Chain{"slug", "productSlug"},
	}
}

// chains maps configuration names to rule chains
func (r *Rules) chains() map[string]*Chain {
	return map[string]*Chain{
		"product_id":     &r.ProductID,
		"name":           &r.Name,
		"price":          &r.Price,
		"original_price": &r.OriginalPrice,
		"unit_price":     &r.UnitPrice,
		"in_stock":       &r.InStock,
		"currency":       &r.Currency,
		"brand":          &r.Brand,
		"size":           &r.Size,
		"description":    &r.Description,
		"image_url":      &r.ImageURL,
		"category":       &r.Category,
		"store":          &r.Store,
		"store_slug":     &r.StoreSlug,
		"product_url":    &r.ProductURL,
		"slug":           &r.Slug,
	}
}

// Override replaces chains by field name (e.g. "price", "image_url")
func (r *Rules) Override(overrides map[string][]string) error {
	chains := r.chains()
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		chain, ok := chains[name]
		if !ok {
			return fmt.Errorf("unknown field rule %q", name)
		}
		paths := overrides[name]
		if len(paths) == 0 {
			return fmt.Errorf("field rule %q has no paths", name)
		}
		*chain = append(Chain(nil), paths...)
	}
	return nil
}

// First returns the first non-empty value along the chain and its path
func (c Chain) First(fields map[string]any) (any, string, bool) {
	for _, path := range c {
		if v, ok := Lookup(fields, path); ok && !isEmpty(v) {
			return v, path, true
		}
	}
	return nil, "", false
}

// FirstString returns the first value along the chain that renders as a
// non-empty scalar string. Objects and arrays are skipped.
func (c Chain) FirstString(fields map[string]any) string {
	for _, path := range c {
		if v, ok := Lookup(fields, path); ok {
			if s := scalarString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// Lookup walks a dot-separated path through nested objects and arrays
func Lookup(fields map[string]any, path string) (any, bool) {
	var cur any = fields
	for _, seg := range strings.Split(path, ".") {
		switch t := cur.(type) {
		case map[string]any:
			v, ok := t[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			cur = t[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// scalarString renders strings and numbers; everything else is ""
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
