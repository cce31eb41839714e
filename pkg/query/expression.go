// Package query implements the boolean query expressions used by find
// requests and by association (reference) queries.
package query

import (
	"encoding/json"
	"strings"

	"github.com/docmediator/docmediator/pkg/document"
)

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpIn  Op = "$in"
	OpNin Op = "$nin"
)

var opAliases = map[string]Op{
	"=": OpEq, "$eq": OpEq,
	"!=": OpNeq, "$neq": OpNeq, "$ne": OpNeq,
	"<": OpLt, "$lt": OpLt,
	"<=": OpLte, "$lte": OpLte,
	">": OpGt, "$gt": OpGt,
	">=": OpGte, "$gte": OpGte,
	"$in": OpIn, "$nin": OpNin, "$not_in": OpNin,
}

// Flip returns the operator with its operands swapped: a < b == b > a.
func (o Op) Flip() Op {
	switch o {
	case OpLt:
		return OpGt
	case OpLte:
		return OpGte
	case OpGt:
		return OpLt
	case OpGte:
		return OpLte
	default:
		return o
	}
}

// Expression is one of the concrete expression types in this package.
type Expression interface {
	isExpression()
}

// ValueComparison compares a field with a constant.
type ValueComparison struct {
	Field document.Path
	Op    Op
	Value any
}

// FieldComparison compares two fields. RField may start with `$parent`.
type FieldComparison struct {
	Field  document.Path
	Op     Op
	RField document.Path
}

// NaryValue tests membership of a field value in a list.
type NaryValue struct {
	Field  document.Path
	Op     Op
	Values []any
}

// Regex matches string values of a field.
type Regex struct {
	Field           document.Path
	Pattern         string
	CaseInsensitive bool
}

// ElemMatch is true when some element of Array satisfies Elem, with Elem
// evaluated relative to the element.
type ElemMatch struct {
	Array document.Path
	Elem  Expression
}

type And struct {
	Terms []Expression
}

type Or struct {
	Terms []Expression
}

type Not struct {
	Term Expression
}

// True matches every document.
type True struct{}

func (*ValueComparison) isExpression() {}
func (*FieldComparison) isExpression() {}
func (*NaryValue) isExpression()       {}
func (*Regex) isExpression()           {}
func (*ElemMatch) isExpression()       {}
func (*And) isExpression()             {}
func (*Or) isExpression()              {}
func (*Not) isExpression()             {}
func (True) isExpression()             {}

// AllOf combines expressions with a conjunction. nil and True terms are
// dropped; nested conjunctions are flattened.
func AllOf(terms ...Expression) Expression {
	var out []Expression
	for _, t := range terms {
		switch x := t.(type) {
		case nil, True:
		case *And:
			out = append(out, x.Terms...)
		default:
			out = append(out, t)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return &And{Terms: out}
	}
}

// AnyOf combines expressions with a disjunction. A nil or True term makes the
// result nil (match everything).
func AnyOf(terms ...Expression) Expression {
	if len(terms) == 0 {
		return nil
	}
	var out []Expression
	for _, t := range terms {
		switch x := t.(type) {
		case nil, True:
			return nil
		case *Or:
			out = append(out, x.Terms...)
		default:
			out = append(out, t)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return &Or{Terms: out}
}

// Conjuncts returns the top-level terms of a conjunction, or e itself.
func Conjuncts(e Expression) []Expression {
	switch x := e.(type) {
	case nil, True:
		return nil
	case *And:
		var out []Expression
		for _, t := range x.Terms {
			out = append(out, Conjuncts(t)...)
		}
		return out
	default:
		return []Expression{e}
	}
}

// Fields returns every document field the expression reads, as absolute
// patterns. `$parent` references are not included.
func Fields(e Expression) []document.Path {
	var out []document.Path
	walkFields(e, nil, func(p document.Path) {
		out = append(out, p)
	})
	return out
}

func walkFields(e Expression, prefix document.Path, fn func(document.Path)) {
	switch x := e.(type) {
	case *ValueComparison:
		fn(prefix.Concat(x.Field))
	case *FieldComparison:
		fn(prefix.Concat(x.Field))
		if !isParentRef(x.RField) {
			fn(prefix.Concat(x.RField))
		}
	case *NaryValue:
		fn(prefix.Concat(x.Field))
	case *Regex:
		fn(prefix.Concat(x.Field))
	case *ElemMatch:
		arr := prefix.Concat(x.Array)
		fn(arr)
		walkFields(x.Elem, arr.Append(document.Any), fn)
	case *And:
		for _, t := range x.Terms {
			walkFields(t, prefix, fn)
		}
	case *Or:
		for _, t := range x.Terms {
			walkFields(t, prefix, fn)
		}
	case *Not:
		walkFields(x.Term, prefix, fn)
	}
}

// HasParentRef reports whether the expression refers to `$parent`.
func HasParentRef(e Expression) bool {
	switch x := e.(type) {
	case *FieldComparison:
		return isParentRef(x.RField) || isParentRef(x.Field)
	case *ElemMatch:
		return HasParentRef(x.Elem)
	case *And:
		for _, t := range x.Terms {
			if HasParentRef(t) {
				return true
			}
		}
	case *Or:
		for _, t := range x.Terms {
			if HasParentRef(t) {
				return true
			}
		}
	case *Not:
		return HasParentRef(x.Term)
	}
	return false
}

func isParentRef(p document.Path) bool {
	return len(p) > 0 && p[0] == document.ParentRef
}

// String renders the expression as JSON.
func String(e Expression) string {
	if e == nil {
		return "{}"
	}
	b, err := json.Marshal(ToValue(e))
	if err != nil {
		return "<invalid>"
	}
	return string(b)
}

// Shape renders the expression with every constant replaced by `?`. Queries
// that differ only in constants have the same shape.
func Shape(e Expression) string {
	var b strings.Builder
	shape(e, &b)
	return b.String()
}

func shape(e Expression, b *strings.Builder) {
	switch x := e.(type) {
	case nil, True:
		b.WriteString("T")
	case *ValueComparison:
		b.WriteString(x.Field.String() + string(x.Op) + "?")
	case *FieldComparison:
		b.WriteString(x.Field.String() + string(x.Op) + x.RField.String())
	case *NaryValue:
		b.WriteString(x.Field.String() + string(x.Op) + "[?]")
	case *Regex:
		b.WriteString(x.Field.String() + "~?")
	case *ElemMatch:
		b.WriteString(x.Array.String() + "{")
		shape(x.Elem, b)
		b.WriteString("}")
	case *And:
		b.WriteString("and(")
		for i, t := range x.Terms {
			if i > 0 {
				b.WriteByte(',')
			}
			shape(t, b)
		}
		b.WriteString(")")
	case *Or:
		b.WriteString("or(")
		for i, t := range x.Terms {
			if i > 0 {
				b.WriteByte(',')
			}
			shape(t, b)
		}
		b.WriteString(")")
	case *Not:
		b.WriteString("not(")
		shape(x.Term, b)
		b.WriteString(")")
	}
}

// Positive reports whether e is false on a document missing every field it
// reads. Dropping the array elements a positive expression rejects keeps its
// existential meaning on the enclosing document.
func Positive(e Expression) bool {
	switch x := e.(type) {
	case *ValueComparison:
		return x.Op != OpNeq && x.Value != nil
	case *NaryValue:
		if x.Op != OpIn {
			return false
		}
		for _, v := range x.Values {
			if v == nil {
				return false
			}
		}
		return true
	case *Regex:
		return true
	case *ElemMatch:
		return Positive(x.Elem)
	case *And:
		for _, t := range x.Terms {
			if Positive(t) {
				return true
			}
		}
		return false
	case *Or:
		for _, t := range x.Terms {
			if !Positive(t) {
				return false
			}
		}
		return len(x.Terms) > 0
	}
	return false
}
