package stategraph

// DefaultMaxDepth bounds reference resolution
const DefaultMaxDepth = 5

// RefKey reports whether v is a reference marker and returns its target key.
// Recognized shapes: {"__ref": k}, {"ref": k} and {"type": "id", "id": k, ...}.
func RefKey(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	if k, ok := m["__ref"].(string); ok && k != "" {
		return k, true
	}
	if len(m) == 1 {
		if k, ok := m["ref"].(string); ok && k != "" {
			return k, true
		}
	}
	if t, _ := m["type"].(string); t == "id" && len(m) <= 3 {
		if k, ok := m["id"].(string); ok && k != "" {
			return k, true
		}
	}
	return "", false
}

// refPath is the chain of graph keys substituted on the way to a value
type refPath struct {
	key    string
	parent *refPath
}

func (p *refPath) contains(key string) bool {
	for ; p != nil; p = p.parent {
		if p.key == key {
			return true
		}
	}
	return false
}

type resolveFrame struct {
	value any
	depth int
	path  *refPath
	set   func(any)
}

// ResolveRefs returns a copy of node with reference markers replaced by
// the nodes they point to. Traversal is iterative. A marker is left as is
// when its target is missing or already on the current path, and values
// nested deeper than maxDepth are returned unresolved.
func ResolveRefs(g *Graph, node any, maxDepth int) any {
	return resolve(g, node, maxDepth, nil)
}

// ResolveKey resolves the node stored under key, treating key itself as
// already visited.
func ResolveKey(g *Graph, key string, maxDepth int) (any, bool) {
	v, ok := g.Value(key)
	if !ok {
		return nil, false
	}
	return resolve(g, v, maxDepth, &refPath{key: key}), true
}

func resolve(g *Graph, node any, maxDepth int, path *refPath) any {
	if maxDepth < 0 {
		maxDepth = 0
	}

	var result any
	stack := []resolveFrame{{value: node, path: path, set: func(v any) { result = v }}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		v, p := f.value, f.path
		for {
			key, isRef := RefKey(v)
			if !isRef {
				break
			}
			target, found := g.nodes[key]
			if !found || p.contains(key) {
				break
			}
			p = &refPath{key: key, parent: p}
			v = target
		}

		if f.depth >= maxDepth {
			f.set(v)
			continue
		}

		switch t := v.(type) {
		case map[string]any:
			out := make(map[string]any, len(t))
			f.set(out)
			for k, child := range t {
				stack = append(stack, resolveFrame{
					value: child,
					depth: f.depth + 1,
					path:  p,
					set:   func(x any) { out[k] = x },
				})
			}
		case []any:
			out := make([]any, len(t))
			f.set(out)
			for i, child := range t {
				stack = append(stack, resolveFrame{
					value: child,
					depth: f.depth + 1,
					path:  p,
					set:   func(x any) { out[i] = x },
				})
			}
		default:
			f.set(v)
		}
	}

	return result
}
