package normalize

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/harvester/pkg/types"
)

// Config controls normalization
type Config struct {
	Rules           Rules
	ProductsPath    string
	StoreSegment    string
	ImageDimension  int
	DefaultCurrency string
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Rules:          DefaultRules(),
		ProductsPath:   DefaultProductsPath,
		StoreSegment:   DefaultStoreSegment,
		ImageDimension: DefaultImageDimension,
	}
}

// Normalizer converts candidate nodes into product records
type Normalizer struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Normalizer
func New(cfg Config, logger *zap.Logger) *Normalizer {
	if cfg.ProductsPath == "" {
		cfg.ProductsPath = DefaultProductsPath
	}
	if cfg.StoreSegment == "" {
		cfg.StoreSegment = DefaultStoreSegment
	}
	if cfg.ImageDimension <= 0 {
		cfg.ImageDimension = DefaultImageDimension
	}
	return &Normalizer{cfg: cfg, logger: logger, now: time.Now}
}

// StoreSegment returns the path segment that introduces a store context
func (n *Normalizer) StoreSegment() string {
	return n.cfg.StoreSegment
}

// Normalize maps a candidate onto a ProductRecord. It never fails: fields
// no rule can find stay empty, and stock defaults to true.
func (n *Normalizer) Normalize(c Candidate, pageURL string) types.ProductRecord {
	f := c.Fields
	if f == nil {
		f = map[string]any{}
	}
	r := n.cfg.Rules

	rec := types.ProductRecord{
		ProductID:        r.ProductID.FirstString(f),
		Name:             collapseSpace(r.Name.FirstString(f)),
		UnitPrice:        r.UnitPrice.FirstString(f),
		Brand:            r.Brand.FirstString(f),
		Size:             r.Size.FirstString(f),
		Description:      strings.TrimSpace(r.Description.FirstString(f)),
		Category:         r.Category.FirstString(f),
		InStock:          n.inStock(f),
		ExtractionMethod: c.Method(),
		CapturedAt:       n.now().UTC(),
		SourceURL:        pageURL,
	}
	if rec.ProductID == "" && c.Kind == CandidateGraph {
		rec.ProductID = keySuffix(c.Key)
	}

	var rawPrice any
	rec.Price, rawPrice = r.Price.FirstPrice(f)
	rec.OriginalPrice, _ = r.OriginalPrice.FirstPrice(f)

	rec.Currency = strings.ToUpper(r.Currency.FirstString(f))
	if rec.Currency == "" {
		rec.Currency = CurrencyFromSymbol(scalarString(rawPrice))
	}
	if rec.Currency == "" {
		rec.Currency = n.cfg.DefaultCurrency
	}

	if img := r.ImageURL.FirstString(f); img != "" {
		rec.ImageURL = ResolveURL(pageURL, NormalizeImageURL(img, n.cfg.ImageDimension))
	}

	urlSlug, urlStore := StoreFromURL(pageURL, n.cfg.StoreSegment)
	rec.Store = r.Store.FirstString(f)
	if rec.Store == "" {
		rec.Store = urlStore
	}
	if rec.Store == "" {
		rec.Store = types.GenericStore
	}
	rec.StoreSlug = r.StoreSlug.FirstString(f)
	if rec.StoreSlug == "" {
		rec.StoreSlug = urlSlug
	}

	rec.ProductURL = n.productURL(f, rec.ProductID, pageURL)

	return rec
}

// productURL prefers an explicit URL, then a slug under the products path,
// then a numeric id under the same path.
func (n *Normalizer) productURL(f map[string]any, productID, pageURL string) string {
	if explicit := n.cfg.Rules.ProductURL.FirstString(f); explicit != "" {
		return ResolveURL(pageURL, explicit)
	}

	origin := Origin(pageURL)
	if origin == "" {
		return ""
	}
	if slug := n.cfg.Rules.Slug.FirstString(f); slug != "" {
		return ProductPath(origin, n.cfg.ProductsPath, slug)
	}
	if isNumeric(productID) {
		return ProductPath(origin, n.cfg.ProductsPath, productID)
	}
	return ""
}

var outOfStockValues = map[string]struct{}{
	"false":        {},
	"out_of_stock": {},
	"outofstock":   {},
	"unavailable":  {},
	"sold_out":     {},
}

// inStock reads the first present availability field; only an explicit
// negative signal means out of stock.
func (n *Normalizer) inStock(f map[string]any) bool {
	for _, path := range n.cfg.Rules.InStock {
		v, ok := Lookup(f, path)
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t
		case string:
			s := strings.ToLower(strings.TrimSpace(t))
			if s == "" {
				continue
			}
			if _, out := outOfStockValues[s]; out {
				return false
			}
			if strings.HasSuffix(s, "/outofstock") || strings.HasSuffix(s, "/soldout") {
				return false
			}
			return true
		default:
			return true
		}
	}
	return true
}

func keySuffix(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 && i < len(key)-1 {
		return key[i+1:]
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
