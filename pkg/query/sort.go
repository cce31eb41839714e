package query

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/docmediator/docmediator/pkg/document"
)

// SortKey orders by one field.
type SortKey struct {
	Field      document.Path
	Descending bool
}

// Sort is an ordered list of sort keys; earlier keys take precedence.
type Sort []SortKey

// ParseSort decodes `{"field":"a","order":"asc"}` or a list of those.
func ParseSort(data []byte) (Sort, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid sort: %w", err)
	}
	return SortFromValue(v)
}

// MustParseSort is like ParseSort but panics on error.
func MustParseSort(s string) Sort {
	sort, err := ParseSort([]byte(s))
	if err != nil {
		panic(err)
	}
	return sort
}

// SortFromValue builds a Sort from a decoded JSON value.
func SortFromValue(v any) (Sort, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		var out Sort
		for _, item := range x {
			s, err := SortFromValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, s...)
		}
		return out, nil
	case map[string]any:
		f, _ := x["field"].(string)
		if f == "" {
			return nil, fmt.Errorf("invalid sort: missing field")
		}
		order, _ := x["order"].(string)
		switch strings.ToLower(order) {
		case "", "asc", "$asc":
			return Sort{{Field: document.ParsePath(f)}}, nil
		case "desc", "$desc":
			return Sort{{Field: document.ParsePath(f), Descending: true}}, nil
		default:
			return nil, fmt.Errorf("invalid sort: unknown order %q for %s", order, f)
		}
	}
	return nil, fmt.Errorf("invalid sort: unexpected %T", v)
}

// ToValue converts the sort back into its JSON form.
func (s Sort) ToValue() any {
	out := make([]any, len(s))
	for i, k := range s {
		order := "asc"
		if k.Descending {
			order = "desc"
		}
		out[i] = map[string]any{"field": k.Field.String(), "order": order}
	}
	return out
}

// CompareDocs orders two documents by s.
func (s Sort) CompareDocs(a, b any) int {
	for _, k := range s {
		c := orderValues(sortValue(a, k.Field), sortValue(b, k.Field))
		if k.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// Apply stably sorts items by the documents get returns.
func Apply[T any](s Sort, items []T, get func(T) any) {
	if len(s) == 0 {
		return
	}
	slices.SortStableFunc(items, func(a, b T) int {
		return s.CompareDocs(get(a), get(b))
	})
}

func sortValue(doc any, p document.Path) any {
	vals := document.Values(doc, p)
	if len(vals) == 0 {
		return nil
	}
	return vals[0]
}

// orderValues is a total order: null, booleans, numbers, strings, then
// anything else.
func orderValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmp3(ra < rb, ra > rb)
	}
	if c, ok := Compare(a, b); ok {
		return c
	}
	return 0
}

func typeRank(v any) int {
	switch document.Normalize(v).(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}
