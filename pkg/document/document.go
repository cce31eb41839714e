// Package document holds the tree representation of JSON documents used
// throughout the mediator: values are map[string]any, []any, string, float64,
// bool or nil, as produced by encoding/json.
package document

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Doc is a JSON object.
type Doc = map[string]any

// Match is one value found while resolving a pattern against a document.
type Match struct {
	Path  Path
	Value any
}

// Find resolves pattern against root. `*` and numeric segments address
// array elements. Missing fields yield no match.
func Find(root any, pattern Path) []Match {
	var out []Match
	find(root, pattern, make(Path, 0, len(pattern)), &out)
	return out
}

func find(node any, rest Path, at Path, out *[]Match) {
	if len(rest) == 0 {
		*out = append(*out, Match{Path: append(Path(nil), at...), Value: node})
		return
	}
	seg := rest[0]
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[seg]
		if !ok {
			return
		}
		find(v, rest[1:], append(at, seg), out)
	case []any:
		if seg == Any {
			for i, el := range n {
				find(el, rest[1:], append(at, strconv.Itoa(i)), out)
			}
			return
		}
		if i, ok := Index(seg); ok && i < len(n) {
			find(n[i], rest[1:], append(at, seg), out)
		}
	}
}

// Values returns the values of every match of pattern.
func Values(root any, pattern Path) []any {
	matches := Find(root, pattern)
	out := make([]any, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Value)
	}
	return out
}

// Get returns the value at a concrete path.
func Get(root any, p Path) (any, bool) {
	node := root
	for _, seg := range p {
		switch n := node.(type) {
		case map[string]any:
			v, ok := n[seg]
			if !ok {
				return nil, false
			}
			node = v
		case []any:
			i, ok := Index(seg)
			if !ok || i >= len(n) {
				return nil, false
			}
			node = n[i]
		default:
			return nil, false
		}
	}
	return node, true
}

// Set stores v at the concrete path p, creating intermediate objects. Array
// elements along the path must already exist.
func Set(root Doc, p Path, v any) error {
	if len(p) == 0 {
		return fmt.Errorf("cannot set the document root")
	}
	var node any = root
	for i, seg := range p {
		last := i == len(p)-1
		switch n := node.(type) {
		case map[string]any:
			if last {
				n[seg] = v
				return nil
			}
			next, ok := n[seg]
			if !ok || next == nil {
				next = map[string]any{}
				n[seg] = next
			}
			node = next
		case []any:
			idx, ok := Index(seg)
			if !ok || idx >= len(n) {
				return fmt.Errorf("invalid array index %q in %s", seg, p)
			}
			if last {
				n[idx] = v
				return nil
			}
			node = n[idx]
		default:
			return fmt.Errorf("%s is not a container", p.Prefix(i))
		}
	}
	return nil
}

// Copy returns a deep copy of v.
func Copy(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, e := range n {
			out[k] = Copy(e)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, e := range n {
			out[i] = Copy(e)
		}
		return out
	default:
		return v
	}
}

// Size estimates the in-memory footprint of a document tree in bytes.
func Size(v any) int {
	switch n := v.(type) {
	case map[string]any:
		s := 16
		for k, e := range n {
			s += len(k) + 16 + Size(e)
		}
		return s
	case []any:
		s := 24
		for _, e := range n {
			s += 16 + Size(e)
		}
		return s
	case string:
		return 16 + len(n)
	case nil:
		return 0
	default:
		return 8
	}
}

// Normalize converts the numeric types Go code tends to produce into float64
// so that hand-built documents compare like decoded ones.
func Normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	default:
		return v
	}
}

// Parse decodes a JSON object.
func Parse(data []byte) (Doc, error) {
	var d Doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return d, nil
}
