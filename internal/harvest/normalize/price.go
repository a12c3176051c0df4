package normalize

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePrice normalizes a free-text price. Strings keep only digits and
// the decimal point before parsing; anything unparsable is null, never zero.
func ParsePrice(v any) decimal.NullDecimal {
	switch t := v.(type) {
	case nil:
		return decimal.NullDecimal{}
	case decimal.Decimal:
		return decimal.NewNullDecimal(t)
	case float64:
		return decimal.NewNullDecimal(decimal.NewFromFloat(t))
	case int:
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(t)))
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(t))
	case json.Number:
		return parsePriceString(t.String())
	case string:
		return parsePriceString(t)
	default:
		return decimal.NullDecimal{}
	}
}

// parsePriceString keeps the first number in s: digits, thousands commas
// and one decimal point. A point not followed by a digit is punctuation
// ("Rs. 120", "$7.99.") and is dropped; the number ends at the first other
// character once it has started, so "$5.99 - $7.99" reads as 5.99.
func parsePriceString(s string) decimal.NullDecimal {
	var b strings.Builder
	b.Grow(len(s))
	started, point := false, false
scan:
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isDigit(c):
			b.WriteByte(c)
			started = true
		case c == '.' && !point && i+1 < len(s) && isDigit(s[i+1]):
			b.WriteByte(c)
			started, point = true, true
		case c == ',' && started && !point:
		case started:
			break scan
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return decimal.NullDecimal{}
	}
	if cleaned[0] == '.' {
		cleaned = "0" + cleaned
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"US$", "USD"},
	{"C$", "CAD"},
	{"A$", "AUD"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
}

// CurrencyFromSymbol infers an ISO code from a symbol in a price string
func CurrencyFromSymbol(price string) string {
	for _, cs := range currencySymbols {
		if strings.Contains(price, cs.symbol) {
			return cs.code
		}
	}
	return ""
}

// FirstPrice walks the chain and returns the first value that parses as a
// price together with its raw form. Objects and unparsable text fall
// through to the next path.
func (c Chain) FirstPrice(fields map[string]any) (decimal.NullDecimal, any) {
	for _, path := range c {
		v, ok := Lookup(fields, path)
		if !ok {
			continue
		}
		if p := ParsePrice(v); p.Valid {
			return p, v
		}
	}
	return decimal.NullDecimal{}, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
