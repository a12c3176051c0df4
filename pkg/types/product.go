package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// GenericStore is the placeholder retailer name used when neither the
// payload nor the page URL identifies a store.
const GenericStore = "Generic"

// ExtractionMethod names the tier that produced or last touched a record
type ExtractionMethod string

const (
	ExtractionGraphState       ExtractionMethod = "graph_state"
	ExtractionHTMLFallback     ExtractionMethod = "html_fallback"
	ExtractionDetailEnrichment ExtractionMethod = "detail_enrichment"
)

// ExtractionMethods lists every method in reporting order
var ExtractionMethods = []ExtractionMethod{
	ExtractionGraphState,
	ExtractionHTMLFallback,
	ExtractionDetailEnrichment,
}

// ProductRecord is the canonical output unit.
// Records are created by the normalizer and mutated only by the merge engine.
type ProductRecord struct {
	// Identity
	ProductID  string `json:"productId,omitempty"`
	ProductURL string `json:"productUrl,omitempty"`
	Name       string `json:"name,omitempty"`

	// Commerce
	Price         decimal.NullDecimal `json:"price"`
	OriginalPrice decimal.NullDecimal `json:"originalPrice"`
	UnitPrice     string              `json:"unitPrice,omitempty"`
	InStock       bool                `json:"inStock"`
	Currency      string              `json:"currency,omitempty"`

	// Descriptive
	Brand       string `json:"brand,omitempty"`
	Size        string `json:"size,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Category    string `json:"category,omitempty"`

	// Provenance
	Store                  string           `json:"store"`
	StoreSlug              string           `json:"storeSlug,omitempty"`
	ExtractionMethod       ExtractionMethod `json:"extractionMethod"`
	DetailExtractionMethod ExtractionMethod `json:"detailExtractionMethod,omitempty"`
	EnrichedAt             *time.Time       `json:"enrichedAt,omitempty"`
	CapturedAt             time.Time        `json:"capturedAt"`
	SourceURL              string           `json:"sourceUrl"`
}

// HasPrice reports whether a non-zero price is known
func (r *ProductRecord) HasPrice() bool {
	return r.Price.Valid && !r.Price.Decimal.IsZero()
}

// HasGenericStore reports whether the store is still the placeholder
func (r *ProductRecord) HasGenericStore() bool {
	return r.Store == "" || r.Store == GenericStore
}

// Clone returns a copy that shares no pointers with r
func (r *ProductRecord) Clone() *ProductRecord {
	c := *r
	if r.EnrichedAt != nil {
		t := *r.EnrichedAt
		c.EnrichedAt = &t
	}
	return &c
}
