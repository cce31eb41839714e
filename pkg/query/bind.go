package query

import (
	"errors"
	"fmt"

	"github.com/docmediator/docmediator/pkg/document"
)

// ChildRef marks fields of the child document in an inverted association
// query.
const ChildRef = "$child"

// ErrNotInvertible is returned when an association query cannot be rewritten
// into a constraint on the parent entity.
var ErrNotInvertible = errors.New("association query is not invertible")

// ResolveParentRef resolves a `$parent`-relative reference against the path
// of the reference field it belongs to. The first `$parent` denotes the object
// holding the reference field; every further `$parent` climbs one named level,
// skipping array indexes. ref may be concrete or a pattern.
func ResolveParentRef(refField, ref document.Path) (document.Path, error) {
	if len(ref) == 0 || ref[0] != document.ParentRef {
		return nil, fmt.Errorf("%s is not a $parent reference", ref)
	}
	if len(refField) == 0 {
		return nil, fmt.Errorf("$parent used outside a reference field")
	}
	base := refField.Prefix(len(refField) - 1)
	rest := ref[1:]
	for len(rest) > 0 && rest[0] == document.ParentRef {
		for len(base) > 0 && isIndexSegment(base.Last()) {
			base = base.Prefix(len(base) - 1)
		}
		if len(base) == 0 {
			return nil, fmt.Errorf("%s climbs above the document root from %s", ref, refField)
		}
		base = base.Prefix(len(base) - 1)
		rest = rest[1:]
	}
	for _, s := range rest {
		if s == document.ParentRef {
			return nil, fmt.Errorf("misplaced $parent in %s", ref)
		}
	}
	return base.Concat(rest), nil
}

func isIndexSegment(s string) bool {
	if s == document.Any {
		return true
	}
	_, ok := document.Index(s)
	return ok
}

// ParentRefs returns the distinct `$parent` references of e, in order of
// appearance.
func ParentRefs(e Expression) []document.Path {
	var out []document.Path
	seen := map[string]bool{}
	var walk func(Expression)
	walk = func(e Expression) {
		switch x := e.(type) {
		case *FieldComparison:
			if isParentRef(x.RField) && !seen[x.RField.String()] {
				seen[x.RField.String()] = true
				out = append(out, x.RField)
			}
		case *ElemMatch:
			walk(x.Elem)
		case *And:
			for _, t := range x.Terms {
				walk(t)
			}
		case *Or:
			for _, t := range x.Terms {
				walk(t)
			}
		case *Not:
			walk(x.Term)
		}
	}
	walk(e)
	return out
}

// Binding holds the parent-side values of one `$parent` reference for one
// slot.
type Binding struct {
	Ref    document.Path
	Values []any
}

// Bindings collects the values every `$parent` reference of q takes for the
// reference field at the concrete path slot of doc.
func Bindings(q Expression, slot document.Path, doc document.Doc) ([]Binding, error) {
	refs := ParentRefs(q)
	out := make([]Binding, 0, len(refs))
	for _, ref := range refs {
		p, err := ResolveParentRef(slot, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, Binding{Ref: ref, Values: distinct(document.Values(doc, p))})
	}
	return out, nil
}

// Bind replaces every `$parent` reference in q with the bound values. A
// reference bound to several values turns `=` into `$in`, `!=` into `$nin`
// and any other operator into a disjunction.
func Bind(q Expression, bindings []Binding) Expression {
	if len(bindings) == 0 {
		return q
	}
	byRef := make(map[string][]any, len(bindings))
	for _, b := range bindings {
		byRef[b.Ref.String()] = b.Values
	}
	return rewrite(q, func(fc *FieldComparison) Expression {
		if !isParentRef(fc.RField) {
			return fc
		}
		return valuesComparison(fc.Field, fc.Op, byRef[fc.RField.String()], OpNin)
	})
}

func valuesComparison(field document.Path, op Op, values []any, neqMany Op) Expression {
	switch len(values) {
	case 0:
		return &ValueComparison{Field: field, Op: op, Value: nil}
	case 1:
		return &ValueComparison{Field: field, Op: op, Value: values[0]}
	}
	switch {
	case op == OpEq:
		return &NaryValue{Field: field, Op: OpIn, Values: values}
	case op == OpNeq && neqMany == OpNin:
		return &NaryValue{Field: field, Op: OpNin, Values: values}
	}
	terms := make([]Expression, len(values))
	for i, v := range values {
		terms[i] = &ValueComparison{Field: field, Op: op, Value: v}
	}
	return &Or{Terms: terms}
}

// rewrite rebuilds e with fn applied to every field comparison.
func rewrite(e Expression, fn func(*FieldComparison) Expression) Expression {
	switch x := e.(type) {
	case *FieldComparison:
		return fn(x)
	case *ElemMatch:
		return &ElemMatch{Array: x.Array, Elem: rewrite(x.Elem, fn)}
	case *And:
		terms := make([]Expression, len(x.Terms))
		for i, t := range x.Terms {
			terms[i] = rewrite(t, fn)
		}
		return &And{Terms: terms}
	case *Or:
		terms := make([]Expression, len(x.Terms))
		for i, t := range x.Terms {
			terms[i] = rewrite(t, fn)
		}
		return &Or{Terms: terms}
	case *Not:
		return &Not{Term: rewrite(x.Term, fn)}
	default:
		return e
	}
}

// Invert rewrites an association query declared on the reference field at
// refField (a pattern in the parent entity) into a query on the parent
// entity. Child fields appear as `$child`-prefixed right-hand fields, to be
// filled in by BindChildren. Parts that only constrain the child are dropped,
// so the result is a necessary condition for a parent to match. A nil result
// means any parent may match.
func Invert(q Expression, refField document.Path) (Expression, error) {
	switch x := q.(type) {
	case nil, True:
		return nil, nil
	case *FieldComparison:
		if !isParentRef(x.RField) {
			return nil, nil
		}
		pf, err := ResolveParentRef(refField, x.RField)
		if err != nil {
			return nil, errors.Join(ErrNotInvertible, err)
		}
		return &FieldComparison{
			Field:  pf,
			Op:     x.Op.Flip(),
			RField: document.Path{ChildRef}.Concat(x.Field),
		}, nil
	case *ElemMatch:
		if HasParentRef(x) {
			return nil, fmt.Errorf("%w: $parent inside elemMatch on %s", ErrNotInvertible, x.Array)
		}
		return nil, nil
	case *Not:
		if HasParentRef(x) {
			return nil, fmt.Errorf("%w: $parent under $not", ErrNotInvertible)
		}
		return nil, nil
	case *And:
		terms := make([]Expression, 0, len(x.Terms))
		for _, t := range x.Terms {
			inv, err := Invert(t, refField)
			if err != nil {
				return nil, err
			}
			terms = append(terms, inv)
		}
		return AllOf(terms...), nil
	case *Or:
		terms := make([]Expression, 0, len(x.Terms))
		for _, t := range x.Terms {
			inv, err := Invert(t, refField)
			if err != nil {
				return nil, err
			}
			terms = append(terms, inv)
		}
		return AnyOf(terms...), nil
	}
	return nil, nil
}

// BindChildren fills the `$child` references of an inverted query with the
// values found in children. A reference with no values matches nothing.
func BindChildren(inverted Expression, children []document.Doc) Expression {
	if inverted == nil {
		return nil
	}
	return rewrite(inverted, func(fc *FieldComparison) Expression {
		if len(fc.RField) == 0 || fc.RField[0] != ChildRef {
			return fc
		}
		var values []any
		for _, c := range children {
			values = append(values, document.Values(c, fc.RField[1:])...)
		}
		values = distinct(values)
		if len(values) == 0 {
			return &NaryValue{Field: fc.Field, Op: OpIn}
		}
		return valuesComparison(fc.Field, fc.Op, values, OpNeq)
	})
}

// KeySpec names the child fields of an association that are matched by
// equality against parent values in every solution of the query. It is what
// an in-memory index over child documents is keyed on.
type KeySpec struct {
	ChildFields []document.Path
	ParentRefs  []document.Path
}

// KeySpecOf extracts the key spec of an association query from its top-level
// conjuncts of the form `childField = $parent...`. It returns nil when there is
// none.
func KeySpecOf(q Expression) *KeySpec {
	var ks KeySpec
	for _, c := range Conjuncts(q) {
		fc, ok := c.(*FieldComparison)
		if !ok || fc.Op != OpEq || !isParentRef(fc.RField) || isParentRef(fc.Field) {
			continue
		}
		ks.ChildFields = append(ks.ChildFields, fc.Field)
		ks.ParentRefs = append(ks.ParentRefs, fc.RField)
	}
	if len(ks.ChildFields) == 0 {
		return nil
	}
	return &ks
}

func distinct(values []any) []any {
	out := make([]any, 0, len(values))
	seen := make(map[any]bool, len(values))
	for _, v := range values {
		v = document.Normalize(v)
		switch v.(type) {
		case map[string]any, []any:
			out = append(out, v)
			continue
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
