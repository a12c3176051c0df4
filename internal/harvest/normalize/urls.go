package normalize

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultProductsPath is the site path that product slugs and ids hang off
const DefaultProductsPath = "/products/"

// DefaultStoreSegment introduces a retailer-scoped path: /store/<slug>/...
const DefaultStoreSegment = "store"

// StoreFromURL derives the retailer slug and display name from a page URL.
// Both are empty when the URL carries no store segment.
func StoreFromURL(pageURL, segment string) (slug, name string) {
	if segment == "" {
		segment = DefaultStoreSegment
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", ""
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if strings.EqualFold(parts[i], segment) && parts[i+1] != "" {
			slug = strings.ToLower(parts[i+1])
			return slug, TitleCaseSlug(slug)
		}
	}
	return "", ""
}

// TitleCaseSlug turns "acme-market" into "Acme Market"
func TitleCaseSlug(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	})
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// Origin returns scheme://host of rawURL, or "" when it is not absolute
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// ResolveURL makes ref absolute against base. Protocol-relative refs take
// https. Unparsable input comes back unchanged.
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}

	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.IsAbs() {
		return r.String()
	}

	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ref
	}
	return b.ResolveReference(r).String()
}

// ProductPath joins the products path with a slug or id
func ProductPath(origin, productsPath, tail string) string {
	if productsPath == "" {
		productsPath = DefaultProductsPath
	}
	if !strings.HasPrefix(productsPath, "/") {
		productsPath = "/" + productsPath
	}
	if !strings.HasSuffix(productsPath, "/") {
		productsPath += "/"
	}
	return origin + productsPath + url.PathEscape(strings.Trim(tail, "/"))
}

// StoreScopedURL rewrites a product URL into the store context
// (/store/<slug>/products/<id>) unless it already carries one.
func StoreScopedURL(productURL, storeSlug, segment string) string {
	if storeSlug == "" {
		return productURL
	}
	if segment == "" {
		segment = DefaultStoreSegment
	}
	u, err := url.Parse(productURL)
	if err != nil || !u.IsAbs() {
		return productURL
	}
	if existing, _ := StoreFromURL(productURL, segment); existing != "" {
		return productURL
	}
	u.Path = "/" + segment + "/" + storeSlug + "/" + strings.TrimLeft(u.Path, "/")
	return u.String()
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
