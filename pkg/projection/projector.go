package projection

import (
	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/query"
)

// Result is the tri-state outcome of asking a projector about one field.
type Result int

const (
	Undecided Result = iota
	Include
	Exclude
)

func (r Result) String() string {
	switch r {
	case Include:
		return "include"
	case Exclude:
		return "exclude"
	default:
		return "undecided"
	}
}

// Decision is what a projector says about one concrete field path.
type Decision struct {
	Result Result
	// Exact is set when the deciding rule names this path itself rather than
	// an ancestor.
	Exact bool
	// Recursive is set when the deciding rule applies to everything beneath.
	Recursive bool
	// Descendant is set when some inclusion rule names a path below this one.
	Descendant bool
	// Nested is the projector for the contents of an array element selected
	// by an array projector.
	Nested Projector
	// Sort orders the retained elements of an array field.
	Sort query.Sort
}

// Projector is one of fieldProjector, listProjector, rangeProjector or
// matchProjector. Paths are absolute patterns.
type Projector interface {
	projector()
}

type fieldProjector struct {
	field     document.Path
	include   bool
	recursive bool
}

type listProjector struct {
	items []Projector
}

type rangeProjector struct {
	field    document.Path
	include  bool
	from, to int
	nested   Projector
	sort     query.Sort
}

type matchProjector struct {
	field   document.Path
	include bool
	query   query.Expression
	nested  Projector
	sort    query.Sort
}

func (*fieldProjector) projector() {}
func (*listProjector) projector()  {}
func (*rangeProjector) projector() {}
func (*matchProjector) projector() {}

// Compile builds the projector for p with field paths taken relative to ctx.
func Compile(p Expression, ctx document.Path) Projector {
	switch x := p.(type) {
	case *Field:
		return &fieldProjector{field: ctx.Concat(x.Field), include: x.Include, recursive: x.Recursive}
	case *Range:
		field := ctx.Concat(x.Field)
		return &rangeProjector{
			field: field, include: x.Include, from: x.From, to: x.To,
			nested: compileNested(x.Project, field), sort: x.Sort,
		}
	case *Match:
		field := ctx.Concat(x.Field)
		return &matchProjector{
			field: field, include: x.Include, query: x.Query,
			nested: compileNested(x.Project, field), sort: x.Sort,
		}
	case List:
		items := make([]Projector, 0, len(x))
		for _, item := range x {
			items = append(items, Compile(item, ctx))
		}
		return &listProjector{items: items}
	}
	return &listProjector{}
}

// compileNested compiles the projection of selected array elements. Without
// one the selected elements are included whole.
func compileNested(p Expression, array document.Path) Projector {
	elem := array.Append(document.Any)
	if p == nil {
		return &fieldProjector{field: elem.Append(document.Any), include: true, recursive: true}
	}
	return Compile(p, elem)
}

// Decide evaluates projector for the concrete path p. value is the value
// at p; array query projectors evaluate their query against it.
func Decide(pr Projector, p document.Path, value any) Decision {
	switch x := pr.(type) {
	case *fieldProjector:
		return decideField(x, p)
	case *listProjector:
		var out Decision
		descendant := false
		for _, item := range x.items {
			d := Decide(item, p, value)
			descendant = descendant || d.Descendant
			if out.Result == Undecided && d.Result != Undecided {
				out = d
			}
		}
		out.Descendant = descendant
		return out
	case *rangeProjector:
		return decideArray(x.field, x.include, x.nested, x.sort, p, value, func(idx int, _ any) bool {
			return idx >= x.from && idx <= x.to
		})
	case *matchProjector:
		return decideArray(x.field, x.include, x.nested, x.sort, p, value, func(_ int, v any) bool {
			ok, err := query.Evaluate(x.query, v)
			return err == nil && ok
		})
	}
	return Decision{}
}

func decideField(x *fieldProjector, p document.Path) Decision {
	switch {
	case p.MatchesPattern(x.field):
		return Decision{Result: result(x.include), Exact: names(x.field), Recursive: x.recursive}
	case len(p) < len(x.field) && p.IsPatternPrefixOf(x.field):
		return Decision{Descendant: x.include}
	case x.recursive && len(p) > len(x.field) && p.MatchesPatternPrefix(x.field):
		return Decision{Result: result(x.include), Recursive: true}
	}
	return Decision{}
}

func decideArray(field document.Path, include bool, nested Projector, sort query.Sort, p document.Path, value any, selected func(int, any) bool) Decision {
	switch {
	case p.MatchesPattern(field):
		if include {
			return Decision{Result: Include, Exact: names(field), Sort: sort}
		}
		return Decision{Sort: sort}
	case len(p) < len(field) && p.IsPatternPrefixOf(field):
		return Decision{Descendant: include}
	case len(p) == len(field)+1 && p.MatchesPatternPrefix(field):
		idx, ok := document.Index(p.Last())
		if !ok {
			return Decision{}
		}
		return elementDecision(include, nested, selected(idx, value))
	}
	return Decision{}
}

func elementDecision(include bool, nested Projector, selected bool) Decision {
	if !selected {
		if include {
			return Decision{Result: Exclude, Exact: true}
		}
		return Decision{}
	}
	return Decision{Result: result(include), Exact: true, Nested: nested}
}

// names reports whether a rule on field names a single field rather than
// every field of a level.
func names(field document.Path) bool {
	return field.Last() != document.Any
}

func result(include bool) Result {
	if include {
		return Include
	}
	return Exclude
}
