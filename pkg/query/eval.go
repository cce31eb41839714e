package query

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/docmediator/docmediator/pkg/document"
)

var regexCache sync.Map

// Evaluate reports whether doc satisfies e. A nil expression matches every
// document. Comparisons are existential over `*` patterns; a missing field
// compares as null.
func Evaluate(e Expression, doc any) (bool, error) {
	switch x := e.(type) {
	case nil, True:
		return true, nil
	case *ValueComparison:
		for _, v := range valuesOrNull(doc, x.Field) {
			if compareOp(v, x.Op, x.Value) {
				return true, nil
			}
		}
		return false, nil
	case *FieldComparison:
		if isParentRef(x.RField) || isParentRef(x.Field) {
			return false, fmt.Errorf("unbound $parent reference in comparison on %s", x.Field)
		}
		rvalues := valuesOrNull(doc, x.RField)
		for _, l := range valuesOrNull(doc, x.Field) {
			for _, r := range rvalues {
				if compareOp(l, x.Op, r) {
					return true, nil
				}
			}
		}
		return false, nil
	case *NaryValue:
		in := false
	outer:
		for _, v := range valuesOrNull(doc, x.Field) {
			for _, c := range x.Values {
				if c, ok := Compare(v, c); ok && c == 0 {
					in = true
					break outer
				}
			}
		}
		if x.Op == OpNin {
			return !in, nil
		}
		return in, nil
	case *Regex:
		re, err := cachedRegex(x.Pattern, x.CaseInsensitive)
		if err != nil {
			return false, err
		}
		for _, v := range document.Values(doc, x.Field) {
			if s, ok := v.(string); ok && re.MatchString(s) {
				return true, nil
			}
		}
		return false, nil
	case *ElemMatch:
		for _, arr := range document.Values(doc, x.Array) {
			elems, ok := arr.([]any)
			if !ok {
				continue
			}
			for _, el := range elems {
				ok, err := Evaluate(x.Elem, el)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
		}
		return false, nil
	case *And:
		for _, t := range x.Terms {
			ok, err := Evaluate(t, doc)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case *Or:
		for _, t := range x.Terms {
			ok, err := Evaluate(t, doc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case *Not:
		ok, err := Evaluate(x.Term, doc)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
	return false, fmt.Errorf("unsupported expression %T", e)
}

func valuesOrNull(doc any, p document.Path) []any {
	vals := document.Values(doc, p)
	if len(vals) == 0 {
		return []any{nil}
	}
	return vals
}

func compareOp(l any, op Op, r any) bool {
	c, ok := Compare(l, r)
	switch op {
	case OpEq:
		return ok && c == 0
	case OpNeq:
		return !ok || c != 0
	}
	if !ok || l == nil || r == nil {
		return false
	}
	switch op {
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

// Compare orders two scalar values of the same kind. ok is false when the
// values are not comparable. null equals only null.
func Compare(a, b any) (int, bool) {
	a, b = document.Normalize(a), document.Normalize(b)
	switch x := a.(type) {
	case nil:
		if b == nil {
			return 0, true
		}
		return 0, false
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		return cmp3(x < y, x > y), true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return cmp3(x < y, x > y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		return cmp3(!x && y, x && !y), true
	}
	return 0, false
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	default:
		return 0
	}
}

func cachedRegex(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	key := pattern
	if caseInsensitive {
		key = "(?i)" + pattern
	}
	if re, ok := regexCache.Load(key); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := compileRegex(pattern, caseInsensitive)
	if err != nil {
		return nil, err
	}
	regexCache.Store(key, re)
	return re, nil
}
