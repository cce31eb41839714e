package query

import "github.com/docmediator/docmediator/pkg/document"

// Relativize rewrites every field of e relative to prefix. It reports false
// when some field does not lie strictly below prefix, or when e refers to
// `$parent`. Pattern segments must agree exactly: a concrete index in a field
// does not match `*` in the prefix.
func Relativize(e Expression, prefix document.Path) (Expression, bool) {
	if len(prefix) == 0 {
		return e, true
	}
	strip := func(p document.Path) (document.Path, bool) {
		if len(p) <= len(prefix) || !p.HasPrefix(prefix) {
			return nil, false
		}
		return p.Suffix(len(prefix)), true
	}
	var rel func(Expression) (Expression, bool)
	rel = func(e Expression) (Expression, bool) {
		switch x := e.(type) {
		case nil, True:
			return e, true
		case *ValueComparison:
			f, ok := strip(x.Field)
			return &ValueComparison{Field: f, Op: x.Op, Value: x.Value}, ok
		case *FieldComparison:
			if isParentRef(x.RField) {
				return nil, false
			}
			f, ok := strip(x.Field)
			r, rok := strip(x.RField)
			return &FieldComparison{Field: f, Op: x.Op, RField: r}, ok && rok
		case *NaryValue:
			f, ok := strip(x.Field)
			return &NaryValue{Field: f, Op: x.Op, Values: x.Values}, ok
		case *Regex:
			f, ok := strip(x.Field)
			return &Regex{Field: f, Pattern: x.Pattern, CaseInsensitive: x.CaseInsensitive}, ok
		case *ElemMatch:
			a, ok := strip(x.Array)
			if HasParentRef(x.Elem) {
				return nil, false
			}
			return &ElemMatch{Array: a, Elem: x.Elem}, ok
		case *And:
			terms, ok := relList(x.Terms, rel)
			return &And{Terms: terms}, ok
		case *Or:
			terms, ok := relList(x.Terms, rel)
			return &Or{Terms: terms}, ok
		case *Not:
			t, ok := rel(x.Term)
			return &Not{Term: t}, ok
		}
		return nil, false
	}
	out, ok := rel(e)
	if !ok {
		return nil, false
	}
	return out, true
}

func relList(terms []Expression, rel func(Expression) (Expression, bool)) ([]Expression, bool) {
	out := make([]Expression, len(terms))
	for i, t := range terms {
		r, ok := rel(t)
		if !ok {
			return nil, false
		}
		out[i] = r
	}
	return out, true
}
