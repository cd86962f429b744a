package island

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is a parsed data island. Numbers are kept as json.Number.
type Payload map[string]any

// Path splits a dotted path.
func Path(dotted string) []string {
	if dotted == "" {
		return nil
	}
	return strings.Split(dotted, ".")
}

// Lookup walks nested objects. JSON-encoded string nodes are decoded on the
// way, since some caches ship as serialized strings.
func (p Payload) Lookup(path ...string) (any, bool) {
	var node any = map[string]any(p)
	for _, key := range path {
		obj, ok := asObject(node)
		if !ok {
			return nil, false
		}
		node, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// Object returns the object at path.
func (p Payload) Object(path ...string) (Payload, bool) {
	node, ok := p.Lookup(path...)
	if !ok {
		return nil, false
	}
	obj, ok := asObject(node)
	if !ok {
		return nil, false
	}
	return Payload(obj), true
}

// Decode unmarshals the subtree at path into dst. It reports false when the
// path is absent or null.
func (p Payload) Decode(dst any, path ...string) (bool, error) {
	node, ok := p.Lookup(path...)
	if !ok || node == nil {
		return false, nil
	}
	raw, err := compactJSON(node)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", strings.Join(path, "."), err)
	}
	return true, nil
}

func asObject(node any) (map[string]any, bool) {
	switch v := node.(type) {
	case map[string]any:
		return v, true
	case Payload:
		return v, true
	case string:
		trimmed := strings.TrimSpace(v)
		if !strings.HasPrefix(trimmed, "{") {
			return nil, false
		}
		dec := json.NewDecoder(strings.NewReader(trimmed))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, false
		}
		return obj, true
	default:
		return nil, false
	}
}
