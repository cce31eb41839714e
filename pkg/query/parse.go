package query

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/docmediator/docmediator/pkg/document"
)

// Parse decodes a JSON query expression. Empty input and `null` parse to nil,
// which matches every document.
func Parse(data []byte) (Expression, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	return FromValue(v)
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Expression {
	e, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return e
}

// FromValue builds an expression from a decoded JSON value.
func FromValue(v any) (Expression, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid query: expected an object, got %T", v)
	}
	if len(m) == 0 {
		return nil, nil
	}

	if terms, ok := m["$and"]; ok {
		list, err := parseList(terms)
		if err != nil {
			return nil, err
		}
		return &And{Terms: list}, nil
	}
	if terms, ok := m["$or"]; ok {
		list, err := parseList(terms)
		if err != nil {
			return nil, err
		}
		return &Or{Terms: list}, nil
	}
	if t, ok := m["$not"]; ok {
		term, err := FromValue(t)
		if err != nil {
			return nil, err
		}
		if term == nil {
			return nil, fmt.Errorf("invalid query: empty $not")
		}
		return &Not{Term: term}, nil
	}
	if arr, ok := m["array"]; ok {
		s, ok := arr.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("invalid query: array must be a field name")
		}
		elem, err := FromValue(m["elemMatch"])
		if err != nil {
			return nil, err
		}
		if elem == nil {
			return nil, fmt.Errorf("invalid query: elemMatch on %s is empty", s)
		}
		return &ElemMatch{Array: document.ParsePath(s), Elem: elem}, nil
	}

	f, ok := m["field"].(string)
	if !ok || f == "" {
		return nil, fmt.Errorf("invalid query: missing field in %v", m)
	}
	field := document.ParsePath(f)

	if pattern, ok := m["regex"]; ok {
		s, ok := pattern.(string)
		if !ok {
			return nil, fmt.Errorf("invalid query: regex on %s must be a string", f)
		}
		ci, _ := m["caseInsensitive"].(bool)
		if _, err := compileRegex(s, ci); err != nil {
			return nil, fmt.Errorf("invalid query: %w", err)
		}
		return &Regex{Field: field, Pattern: s, CaseInsensitive: ci}, nil
	}

	opName, _ := m["op"].(string)
	op, ok := opAliases[opName]
	if !ok {
		return nil, fmt.Errorf("invalid query: unknown operator %q on %s", opName, f)
	}

	switch op {
	case OpIn, OpNin:
		values, ok := m["values"].([]any)
		if !ok {
			return nil, fmt.Errorf("invalid query: %s on %s requires values", op, f)
		}
		for i := range values {
			values[i] = document.Normalize(values[i])
		}
		return &NaryValue{Field: field, Op: op, Values: values}, nil
	}

	if rf, ok := m["rfield"].(string); ok {
		rfield := document.ParsePath(rf)
		if isParentRef(field) && !isParentRef(rfield) {
			return &FieldComparison{Field: rfield, Op: op.Flip(), RField: field}, nil
		}
		return &FieldComparison{Field: field, Op: op, RField: rfield}, nil
	}
	rv, ok := m["rvalue"]
	if !ok {
		return nil, fmt.Errorf("invalid query: comparison on %s needs rvalue or rfield", f)
	}
	return &ValueComparison{Field: field, Op: op, Value: document.Normalize(rv)}, nil
}

func parseList(v any) ([]Expression, error) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("invalid query: logical operator needs a non-empty list")
	}
	out := make([]Expression, 0, len(list))
	for _, item := range list {
		e, err := FromValue(item)
		if err != nil {
			return nil, err
		}
		if e == nil {
			e = True{}
		}
		out = append(out, e)
	}
	return out, nil
}

// ToValue converts an expression back into its JSON value form.
func ToValue(e Expression) any {
	switch x := e.(type) {
	case nil, True:
		return map[string]any{}
	case *ValueComparison:
		return map[string]any{"field": x.Field.String(), "op": string(x.Op), "rvalue": x.Value}
	case *FieldComparison:
		return map[string]any{"field": x.Field.String(), "op": string(x.Op), "rfield": x.RField.String()}
	case *NaryValue:
		return map[string]any{"field": x.Field.String(), "op": string(x.Op), "values": x.Values}
	case *Regex:
		out := map[string]any{"field": x.Field.String(), "regex": x.Pattern}
		if x.CaseInsensitive {
			out["caseInsensitive"] = true
		}
		return out
	case *ElemMatch:
		return map[string]any{"array": x.Array.String(), "elemMatch": ToValue(x.Elem)}
	case *And:
		return map[string]any{"$and": toValues(x.Terms)}
	case *Or:
		return map[string]any{"$or": toValues(x.Terms)}
	case *Not:
		return map[string]any{"$not": ToValue(x.Term)}
	}
	return nil
}

func toValues(terms []Expression) []any {
	out := make([]any, len(terms))
	for i, t := range terms {
		out[i] = ToValue(t)
	}
	return out
}

func compileRegex(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	if caseInsensitive {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}
