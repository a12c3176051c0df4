package stategraph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/titanous/json5"
)

// Graph is a parsed normalized cache: node key to payload, with the
// payload's top-level key order preserved. Read-only once parsed.
type Graph struct {
	keys  []string
	nodes map[string]any
}

// NewGraph builds a graph from nodes; keys fixes iteration order and may be nil.
func NewGraph(nodes map[string]any, keys []string) *Graph {
	g := &Graph{nodes: nodes}
	if len(keys) == len(nodes) {
		g.keys = keys
	} else {
		g.keys = sortedKeys(nodes)
	}
	return g
}

// Keys returns the top-level node keys in payload order
func (g *Graph) Keys() []string {
	return g.keys
}

// Len returns the number of top-level nodes
func (g *Graph) Len() int {
	return len(g.keys)
}

// Value returns the raw payload stored under key
func (g *Graph) Value(key string) (any, bool) {
	v, ok := g.nodes[key]
	return v, ok
}

// Node returns the object stored under key
func (g *Graph) Node(key string) (map[string]any, bool) {
	m, ok := g.nodes[key].(map[string]any)
	return m, ok
}

// ParsePayload parses a decoded payload into a Graph. Strict JSON is tried
// first; JSON5 is the second chance for payloads with trailing commas,
// single quotes or unquoted keys.
func ParsePayload(payload string) (*Graph, error) {
	g, strictErr := parseOrdered(payload)
	if strictErr == nil {
		return g, nil
	}

	var nodes map[string]any
	if err := json5.Unmarshal([]byte(payload), &nodes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, strictErr)
	}
	if nodes == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformedPayload)
	}
	return NewGraph(nodes, nil), nil
}

// parseOrdered reads the top-level object token by token to keep key order
func parseOrdered(payload string) (*Graph, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	g := &Graph{nodes: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected key, got %v", tok)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("node %q: %w", key, err)
		}
		if _, dup := g.nodes[key]; !dup {
			g.keys = append(g.keys, key)
		}
		g.nodes[key] = value
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return g, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
