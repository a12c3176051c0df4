package htmlfallback

import "fmt"

// Selectors describes product-card markup. Each field is a goquery selector
// evaluated inside a matched card.
type Selectors struct {
	Card          string   `yaml:"card"`
	IDAttributes  []string `yaml:"id_attributes"`
	Name          string   `yaml:"name"`
	Price         string   `yaml:"price"`
	OriginalPrice string   `yaml:"original_price"`
	UnitPrice     string   `yaml:"unit_price"`
	Brand         string   `yaml:"brand"`
	Size          string   `yaml:"size"`
	Image         string   `yaml:"image"`
	Link          string   `yaml:"link"`
	OutOfStock    string   `yaml:"out_of_stock"`
}

// DefaultSelectors covers the card layouts seen on the target storefronts
func DefaultSelectors() Selectors {
	return Selectors{
		Card:          `[data-testid="item-card"], [data-product-id], .product-card`,
		IDAttributes:  []string{"data-product-id", "data-item-id", "data-sku"},
		Name:          `[data-testid="item-card-name"], .product-name, .product-title, h2, h3`,
		Price:         `[data-testid="item-card-price"], .product-price, .price, [itemprop="price"]`,
		OriginalPrice: `[data-testid="item-card-full-price"], .price-original, .was-price, s`,
		UnitPrice:     `[data-testid="item-card-unit-price"], .unit-price`,
		Brand:         `[data-testid="item-card-brand"], .product-brand`,
		Size:          `[data-testid="item-card-size"], .product-size`,
		Image:         "img",
		Link:          "a[href]",
		OutOfStock:    `[data-testid="out-of-stock"], .out-of-stock, .sold-out`,
	}
}

// Merge fills empty fields of s from defaults
func (s Selectors) Merge(defaults Selectors) Selectors {
	pick := func(v, d string) string {
		if v == "" {
			return d
		}
		return v
	}
	out := Selectors{
		Card:          pick(s.Card, defaults.Card),
		IDAttributes:  s.IDAttributes,
		Name:          pick(s.Name, defaults.Name),
		Price:         pick(s.Price, defaults.Price),
		OriginalPrice: pick(s.OriginalPrice, defaults.OriginalPrice),
		UnitPrice:     pick(s.UnitPrice, defaults.UnitPrice),
		Brand:         pick(s.Brand, defaults.Brand),
		Size:          pick(s.Size, defaults.Size),
		Image:         pick(s.Image, defaults.Image),
		Link:          pick(s.Link, defaults.Link),
		OutOfStock:    pick(s.OutOfStock, defaults.OutOfStock),
	}
	if len(out.IDAttributes) == 0 {
		out.IDAttributes = defaults.IDAttributes
	}
	return out
}

// Validate checks the required card selector
func (s Selectors) Validate() error {
	if s.Card == "" {
		return fmt.Errorf("card selector is required")
	}
	return nil
}
