// Package projection decides, field by field, which parts of a composite
// document are returned to the caller.
package projection

import (
	"encoding/json"
	"fmt"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/query"
)

// Expression is a parsed projection: a *Field, *Range, *Match or List.
type Expression interface {
	isProjection()
}

// Field includes or excludes one field pattern, and with Recursive
// everything beneath it.
type Field struct {
	Field     document.Path
	Include   bool
	Recursive bool
}

// Range selects the elements of an array whose index is in [From, To].
type Range struct {
	Field   document.Path
	Include bool
	From    int
	To      int
	Project Expression
	Sort    query.Sort
}

// Match selects the elements of an array satisfying a query.
type Match struct {
	Field   document.Path
	Include bool
	Query   query.Expression
	Project Expression
	Sort    query.Sort
}

// List applies its items in order. The first item with a decision wins.
type List []Expression

func (*Field) isProjection() {}
func (*Range) isProjection() {}
func (*Match) isProjection() {}
func (List) isProjection()   {}

// Parse decodes a JSON projection. Empty input parses to nil.
func Parse(data []byte) (Expression, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid projection: %w", err)
	}
	return FromValue(v)
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Expression {
	p, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return p
}

// FromValue builds a projection from a decoded JSON value.
func FromValue(v any) (Expression, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make(List, 0, len(x))
		for _, item := range x {
			p, err := FromValue(item)
			if err != nil {
				return nil, err
			}
			if p != nil {
				out = append(out, p)
			}
		}
		return out, nil
	case map[string]any:
		return fromObject(x)
	}
	return nil, fmt.Errorf("invalid projection: unexpected %T", v)
}

func fromObject(m map[string]any) (Expression, error) {
	f, ok := m["field"].(string)
	if !ok || f == "" {
		return nil, fmt.Errorf("invalid projection: missing field in %v", m)
	}
	field := document.ParsePath(f)
	include := true
	if inc, ok := m["include"]; ok {
		b, ok := inc.(bool)
		if !ok {
			return nil, fmt.Errorf("invalid projection: include on %s must be a boolean", f)
		}
		include = b
	}

	if r, ok := m["range"]; ok {
		bounds, ok := r.([]any)
		if !ok || len(bounds) != 2 {
			return nil, fmt.Errorf("invalid projection: range on %s needs two bounds", f)
		}
		from, ok1 := bounds[0].(float64)
		to, ok2 := bounds[1].(float64)
		if !ok1 || !ok2 || from < 0 || to < from {
			return nil, fmt.Errorf("invalid projection: bad range %v on %s", bounds, f)
		}
		nested, sort, err := nestedParts(m)
		if err != nil {
			return nil, err
		}
		return &Range{Field: field, Include: include, From: int(from), To: int(to), Project: nested, Sort: sort}, nil
	}

	if mq, ok := m["match"]; ok {
		q, err := query.FromValue(mq)
		if err != nil {
			return nil, fmt.Errorf("invalid projection: match on %s: %w", f, err)
		}
		nested, sort, err := nestedParts(m)
		if err != nil {
			return nil, err
		}
		return &Match{Field: field, Include: include, Query: q, Project: nested, Sort: sort}, nil
	}

	recursive, _ := m["recursive"].(bool)
	return &Field{Field: field, Include: include, Recursive: recursive}, nil
}

func nestedParts(m map[string]any) (Expression, query.Sort, error) {
	nested, err := FromValue(m["project"])
	if err != nil {
		return nil, nil, err
	}
	sort, err := query.SortFromValue(m["sort"])
	if err != nil {
		return nil, nil, err
	}
	return nested, sort, nil
}

// ToValue converts the projection back to its JSON value form.
func ToValue(p Expression) any {
	switch x := p.(type) {
	case *Field:
		out := map[string]any{"field": x.Field.String(), "include": x.Include}
		if x.Recursive {
			out["recursive"] = true
		}
		return out
	case *Range:
		out := map[string]any{"field": x.Field.String(), "include": x.Include, "range": []any{float64(x.From), float64(x.To)}}
		addNested(out, x.Project, x.Sort)
		return out
	case *Match:
		out := map[string]any{"field": x.Field.String(), "include": x.Include, "match": query.ToValue(x.Query)}
		addNested(out, x.Project, x.Sort)
		return out
	case List:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = ToValue(item)
		}
		return out
	}
	return nil
}

func addNested(out map[string]any, nested Expression, sort query.Sort) {
	if nested != nil {
		out["project"] = ToValue(nested)
	}
	if len(sort) > 0 {
		out["sort"] = sort.ToValue()
	}
}

// WithExclusions returns p preceded by recursive exclusions of paths.
// Exclusions take precedence because the first decision wins.
func WithExclusions(p Expression, paths []document.Path) Expression {
	if len(paths) == 0 {
		return p
	}
	out := make(List, 0, len(paths)+1)
	for _, path := range paths {
		out = append(out, &Field{Field: path, Recursive: true})
	}
	if p != nil {
		out = append(out, p)
	}
	return out
}

// MayInclude reports whether some inclusion rule of p names path or a
// descendant of it. Path segments `*` match any segment on either side.
func MayInclude(p Expression, path document.Path) bool {
	return mayInclude(p, nil, path)
}

func mayInclude(p Expression, ctx, path document.Path) bool {
	var field document.Path
	var nested Expression
	switch x := p.(type) {
	case List:
		for _, item := range x {
			if mayInclude(item, ctx, path) {
				return true
			}
		}
		return false
	case *Field:
		if !x.Include {
			return false
		}
		field = ctx.Concat(x.Field)
	case *Range:
		if !x.Include {
			return false
		}
		field, nested = ctx.Concat(x.Field), x.Project
	case *Match:
		if !x.Include {
			return false
		}
		field, nested = ctx.Concat(x.Field), x.Project
	default:
		return false
	}
	if coversPrefix(field, path) && (len(field) > len(path) || names(field)) {
		return true
	}
	if nested != nil {
		return mayInclude(nested, field.Append(document.Any), path)
	}
	return false
}

func coversPrefix(field, path document.Path) bool {
	if len(path) > len(field) {
		return false
	}
	for i := range path {
		if path[i] != field[i] && path[i] != document.Any && field[i] != document.Any {
			return false
		}
	}
	return true
}
