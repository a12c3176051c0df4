package merge

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/edgecomet/harvester/pkg/types"
)

// Clock supplies enrichment timestamps
type Clock func() time.Time

// MergeInto folds incoming into existing field by field and reports whether
// anything changed. A field is overwritten only when the existing value is
// empty, or price while it is null or zero. While existing still carries
// the generic store and incoming names a real one, the whole record is
// stale: every present incoming value replaces the existing one, except
// the identity fields productId and productUrl and the stock flag, whose
// false still reads as empty. Identical values never
// count as a change, so merging the same incoming record twice is a no-op
// the second time. Any change stamps method and the enrichment time.
func MergeInto(existing *types.ProductRecord, incoming *types.ProductRecord, method types.ExtractionMethod, now Clock) bool {
	if !fill(existing, incoming) {
		return false
	}
	if now == nil {
		now = time.Now
	}
	t := now().UTC()
	existing.DetailExtractionMethod = method
	existing.EnrichedAt = &t
	return true
}

// fill applies the field precedence rules without provenance stamping
func fill(existing *types.ProductRecord, incoming *types.ProductRecord) bool {
	if existing == nil || incoming == nil {
		return false
	}

	// a real store replaces everything gathered under the placeholder
	override := existing.HasGenericStore() && !incoming.HasGenericStore()

	updated := false
	str := func(dst *string, src string, replaceable bool) {
		if src == "" || src == *dst {
			return
		}
		if *dst == "" || replaceable {
			*dst = src
			updated = true
		}
	}

	str(&existing.ProductID, incoming.ProductID, false)
	str(&existing.ProductURL, incoming.ProductURL, false)
	str(&existing.Name, incoming.Name, override)
	str(&existing.UnitPrice, incoming.UnitPrice, override)
	str(&existing.Currency, incoming.Currency, override)
	str(&existing.Brand, incoming.Brand, override)
	str(&existing.Size, incoming.Size, override)
	str(&existing.Description, incoming.Description, override)
	str(&existing.ImageURL, incoming.ImageURL, override)
	str(&existing.Category, incoming.Category, override)
	str(&existing.StoreSlug, incoming.StoreSlug, override)

	if override {
		existing.Store = incoming.Store
		updated = true
	}

	// zero counts as unknown
	if incoming.Price.Valid && (override || !existing.HasPrice()) && !sameDecimal(existing.Price, incoming.Price) {
		existing.Price = incoming.Price
		updated = true
	}
	if incoming.OriginalPrice.Valid && (override || !existing.OriginalPrice.Valid) && !sameDecimal(existing.OriginalPrice, incoming.OriginalPrice) {
		existing.OriginalPrice = incoming.OriginalPrice
		updated = true
	}

	// false reads as empty
	if incoming.InStock && !existing.InStock {
		existing.InStock = true
		updated = true
	}

	return updated
}

func sameDecimal(a, b decimal.NullDecimal) bool {
	return a.Valid == b.Valid && (!a.Valid || a.Decimal.Equal(b.Decimal))
}
