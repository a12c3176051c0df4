package stategraph

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DefaultScriptID identifies the embedded state script
const DefaultScriptID = "node-apollo-state"

// DefaultProductTypes are __typename values treated as products
var DefaultProductTypes = []string{"Item", "Product", "ItemV2"}

// Options controls locating, decoding and product discovery
type Options struct {
	ScriptIDs        []string
	MinPayloadLength int
	MaxDepth         int
	ProductTypes     []string
}

// DefaultOptions returns production defaults
func DefaultOptions() Options {
	return Options{
		ScriptIDs:        []string{DefaultScriptID},
		MinPayloadLength: DefaultMinPayloadLength,
		MaxDepth:         DefaultMaxDepth,
		ProductTypes:     append([]string(nil), DefaultProductTypes...),
	}
}

// Node is a product-shaped node with refs resolved
type Node struct {
	Key   string
	Value map[string]any
}

// Parser extracts state graphs and product nodes from pages
type Parser struct {
	opts         Options
	productTypes map[string]struct{}
	logger       *zap.Logger
}

// NewParser creates a parser; zero-valued options fall back to defaults.
func NewParser(opts Options, logger *zap.Logger) *Parser {
	defaults := DefaultOptions()
	if len(opts.ScriptIDs) == 0 {
		opts.ScriptIDs = defaults.ScriptIDs
	}
	if opts.MinPayloadLength <= 0 {
		opts.MinPayloadLength = defaults.MinPayloadLength
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaults.MaxDepth
	}
	if len(opts.ProductTypes) == 0 {
		opts.ProductTypes = defaults.ProductTypes
	}

	types := make(map[string]struct{}, len(opts.ProductTypes))
	for _, t := range opts.ProductTypes {
		types[t] = struct{}{}
	}

	return &Parser{opts: opts, productTypes: types, logger: logger}
}

// Options returns the effective options
func (p *Parser) Options() Options {
	return p.opts
}

// Parse locates, decodes and parses the state graph embedded in a page.
// A missing script, a short payload and a malformed payload all return an
// error; callers treat every one of them as "no graph" and fall through.
func (p *Parser) Parse(htmlBytes []byte) (*Graph, error) {
	raw, err := Locate(htmlBytes, p.opts.ScriptIDs)
	if err != nil {
		p.logger.Debug("No state script on page")
		return nil, err
	}

	payload, err := Decode(raw, p.opts.MinPayloadLength)
	if err != nil {
		if errors.Is(err, ErrPayloadTooShort) {
			p.logger.Debug("State payload too short", zap.Int("raw_size", len(raw)))
		} else {
			p.logger.Warn("Failed to decode state payload", zap.Int("raw_size", len(raw)), zap.Error(err))
		}
		return nil, err
	}

	g, err := ParsePayload(payload)
	if err != nil {
		p.logger.Warn("Failed to parse state payload",
			zap.Int("payload_size", len(payload)),
			zap.Error(err))
		return nil, err
	}

	p.logger.Debug("State graph parsed", zap.Int("nodes", g.Len()))
	return g, nil
}

// IsProductShaped reports whether m looks like a product: a known
// __typename, a schema.org Product, or a name together with an id.
func (p *Parser) IsProductShaped(m map[string]any) bool {
	if m == nil {
		return false
	}
	if t, ok := m["__typename"].(string); ok {
		if _, known := p.productTypes[t]; known {
			return true
		}
	}
	if t, ok := m["@type"].(string); ok && t == "Product" {
		return true
	}
	if name, _ := m["name"].(string); strings.TrimSpace(name) == "" {
		return false
	}
	for _, k := range []string{"id", "productId", "legacyId"} {
		if hasScalar(m[k]) {
			return true
		}
	}
	return false
}

// ProductNodes discovers product-shaped nodes. Arrays holding at least one
// product-shaped element come first, in graph walk order; top-level
// "<Type>:<id>" product entries not already collected follow. Nodes are
// deduplicated by graph key.
func (p *Parser) ProductNodes(g *Graph) []Node {
	if g == nil {
		return nil
	}

	var nodes []Node
	seen := make(map[string]struct{})
	add := func(key string, value map[string]any) {
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		nodes = append(nodes, Node{Key: key, Value: value})
	}

	for _, key := range g.Keys() {
		v, _ := g.Value(key)
		p.walkArrays(v, key, func(arr []any, path string) {
			if !p.isProductArray(g, arr) {
				return
			}
			for i, elem := range arr {
				resolved := ResolveRefs(g, elem, p.opts.MaxDepth)
				elemKey, isRef := RefKey(elem)
				if !isRef {
					elemKey = inlineKey(resolved, path, i)
				}
				m, ok := resolved.(map[string]any)
				if !ok || !p.IsProductShaped(m) {
					continue
				}
				add(elemKey, m)
			}
		})
	}

	for _, key := range g.Keys() {
		if !strings.Contains(key, ":") {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		raw, ok := g.Node(key)
		if !ok || !p.IsProductShaped(raw) {
			continue
		}
		resolved, _ := ResolveKey(g, key, p.opts.MaxDepth)
		if m, ok := resolved.(map[string]any); ok {
			add(key, m)
		}
	}

	return nodes
}

// FindNode returns the product node whose key or id matches productID
func (p *Parser) FindNode(nodes []Node, productID string) (Node, bool) {
	if productID == "" {
		return Node{}, false
	}
	for _, n := range nodes {
		if KeySuffix(n.Key) == productID {
			return n, true
		}
		for _, k := range []string{"productId", "legacyId", "id"} {
			if scalarString(n.Value[k]) == productID {
				return n, true
			}
		}
	}
	return Node{}, false
}

// KeySuffix returns the id part of a "<Type>:<id>" key
func KeySuffix(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 && i < len(key)-1 {
		return key[i+1:]
	}
	return ""
}

// isProductArray checks elements, looking through one level of reference
func (p *Parser) isProductArray(g *Graph, arr []any) bool {
	for _, elem := range arr {
		if key, ok := RefKey(elem); ok {
			if target, found := g.Node(key); found && p.IsProductShaped(target) {
				return true
			}
			continue
		}
		if m, ok := elem.(map[string]any); ok && p.IsProductShaped(m) {
			return true
		}
	}
	return false
}

// walkArrays visits every array under v; nested object keys are walked in
// sorted order so discovery is deterministic.
func (p *Parser) walkArrays(v any, path string, visit func(arr []any, path string)) {
	switch t := v.(type) {
	case []any:
		visit(t, path)
		for i, elem := range t {
			if _, isRef := RefKey(elem); isRef {
				continue
			}
			p.walkArrays(elem, path+"."+strconv.Itoa(i), visit)
		}
	case map[string]any:
		if _, isRef := RefKey(t); isRef {
			return
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p.walkArrays(t[k], path+"."+k, visit)
		}
	}
}

// inlineKey names an embedded product by type and id, or by position
func inlineKey(v any, path string, index int) string {
	if m, ok := v.(map[string]any); ok {
		typeName, _ := m["__typename"].(string)
		if typeName == "" {
			typeName, _ = m["@type"].(string)
		}
		for _, k := range []string{"id", "productId", "legacyId"} {
			if id := scalarString(m[k]); id != "" && typeName != "" {
				return typeName + ":" + id
			}
		}
	}
	return fmt.Sprintf("%s[%d]", path, index)
}

func hasScalar(v any) bool {
	return scalarString(v) != ""
}

// scalarString renders string and number values, "" otherwise
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer: // json.Number
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
