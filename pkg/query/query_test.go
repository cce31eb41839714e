package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docmediator/docmediator/pkg/document"
)

func TestEvaluate(t *testing.T) {
	doc := document.Doc{
		"id":   1.0,
		"name": "Alice",
		"tags": []any{"a", "b"},
		"addresses": []any{
			map[string]any{"city": "Paris", "zip": 75001.0},
			map[string]any{"city": "Lyon", "zip": 69001.0},
		},
	}

	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"eq", `{"field":"id","op":"=","rvalue":1}`, true},
		{"eq_alias", `{"field":"id","op":"$eq","rvalue":2}`, false},
		{"neq_missing", `{"field":"nope","op":"!=","rvalue":1}`, true},
		{"eq_null_missing", `{"field":"nope","op":"=","rvalue":null}`, true},
		{"lt_missing", `{"field":"nope","op":"<","rvalue":1}`, false},
		{"gt", `{"field":"addresses.*.zip","op":">","rvalue":70000}`, true},
		{"type_mismatch", `{"field":"name","op":"<","rvalue":5}`, false},
		{"in", `{"field":"tags.*","op":"$in","values":["x","b"]}`, true},
		{"nin", `{"field":"tags.*","op":"$nin","values":["a"]}`, false},
		{"regex", `{"field":"name","regex":"^ali","caseInsensitive":true}`, true},
		{"field_cmp", `{"field":"id","op":"<","rfield":"addresses.0.zip"}`, true},
		{"elem_match", `{"array":"addresses","elemMatch":{"$and":[{"field":"city","op":"=","rvalue":"Lyon"},{"field":"zip","op":"=","rvalue":69001}]}}`, true},
		{"elem_match_cross", `{"array":"addresses","elemMatch":{"$and":[{"field":"city","op":"=","rvalue":"Lyon"},{"field":"zip","op":"=","rvalue":75001}]}}`, false},
		{"or", `{"$or":[{"field":"id","op":"=","rvalue":5},{"field":"name","op":"=","rvalue":"Alice"}]}`, true},
		{"not", `{"$not":{"field":"id","op":"=","rvalue":1}}`, false},
		{"empty", `{}`, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			q, err := Parse([]byte(test.query))
			require.NoError(t, err)
			got, err := Evaluate(q, doc)
			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, q := range []string{
		`[]`,
		`{"field":"a","op":"~","rvalue":1}`,
		`{"field":"a","op":"$in"}`,
		`{"field":"a","op":"="}`,
		`{"field":"a","regex":"("}`,
		`{"$and":[]}`,
		`{"array":"a","elemMatch":{}}`,
	} {
		_, err := Parse([]byte(q))
		require.Error(t, err, q)
	}
}

func TestRoundTripThroughValue(t *testing.T) {
	q := MustParse(`{"$and":[{"field":"a","op":"=","rfield":"$parent.b"},{"$not":{"field":"c","regex":"x"}}]}`)
	back, err := FromValue(ToValue(q))
	require.NoError(t, err)
	require.Equal(t, q, back)
}

func TestUnboundParentIsAnError(t *testing.T) {
	q := MustParse(`{"field":"k","op":"=","rfield":"$parent.k"}`)
	_, err := Evaluate(q, document.Doc{"k": "a"})
	require.Error(t, err)
}

func TestResolveParentRef(t *testing.T) {
	tests := []struct {
		slot, ref, want string
		wantErr         bool
	}{
		{slot: "childRef.0.ref", ref: "$parent.k", want: "childRef.0.k"},
		{slot: "childRef.*.ref", ref: "$parent.k", want: "childRef.*.k"},
		{slot: "ref", ref: "$parent.id", want: "id"},
		{slot: "a.0.b.1.ref", ref: "$parent.$parent.x", want: "a.0.x"},
		{slot: "a.0.ref", ref: "$parent.$parent.id", want: "id"},
		{slot: "ref", ref: "$parent.$parent.id", wantErr: true},
		{slot: "ref", ref: "id", wantErr: true},
	}
	for _, test := range tests {
		got, err := ResolveParentRef(document.ParsePath(test.slot), document.ParsePath(test.ref))
		if test.wantErr {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, test.want, got.String())
	}
}

func TestBindPerSlot(t *testing.T) {
	parent := document.Doc{
		"id":       1.0,
		"childRef": []any{map[string]any{"k": "a"}, map[string]any{"k": "b"}},
	}
	q := MustParse(`{"field":"k","op":"=","rfield":"$parent.k"}`)

	b0, err := Bindings(q, document.ParsePath("childRef.0.ref"), parent)
	require.NoError(t, err)
	require.Equal(t, []Binding{{Ref: document.ParsePath("$parent.k"), Values: []any{"a"}}}, b0)

	bound := Bind(q, b0)
	require.Equal(t, &ValueComparison{Field: document.Path{"k"}, Op: OpEq, Value: "a"}, bound)

	children := []document.Doc{{"k": "a", "v": 1.0}, {"k": "b", "v": 2.0}, {"k": "c", "v": 3.0}}
	var matched []document.Doc
	for _, c := range children {
		ok, err := Evaluate(bound, c)
		require.NoError(t, err)
		if ok {
			matched = append(matched, c)
		}
	}
	require.Equal(t, []document.Doc{{"k": "a", "v": 1.0}}, matched)
}

func TestBindMultipleValues(t *testing.T) {
	bindings := []Binding{{Ref: document.ParsePath("$parent.k"), Values: []any{"a", "b"}}}

	eq := Bind(MustParse(`{"field":"k","op":"=","rfield":"$parent.k"}`), bindings)
	require.Equal(t, &NaryValue{Field: document.Path{"k"}, Op: OpIn, Values: []any{"a", "b"}}, eq)

	neq := Bind(MustParse(`{"field":"k","op":"!=","rfield":"$parent.k"}`), bindings)
	require.Equal(t, &NaryValue{Field: document.Path{"k"}, Op: OpNin, Values: []any{"a", "b"}}, neq)

	lt := Bind(MustParse(`{"field":"k","op":"<","rfield":"$parent.k"}`), bindings)
	require.IsType(t, &Or{}, lt)
}

func TestInvert(t *testing.T) {
	q := MustParse(`{"$and":[{"field":"k","op":"=","rfield":"$parent.k"},{"field":"v","op":">","rvalue":0}]}`)
	inv, err := Invert(q, document.ParsePath("childRef.*.ref"))
	require.NoError(t, err)
	require.Equal(t, &FieldComparison{
		Field:  document.ParsePath("childRef.*.k"),
		Op:     OpEq,
		RField: document.ParsePath("$child.k"),
	}, inv)

	constraint := BindChildren(inv, []document.Doc{{"k": "a"}, {"k": "b"}, {"k": "a"}})
	require.Equal(t, &NaryValue{Field: document.ParsePath("childRef.*.k"), Op: OpIn, Values: []any{"a", "b"}}, constraint)

	none := BindChildren(inv, nil)
	ok, err := Evaluate(none, document.Doc{"childRef": []any{map[string]any{"k": "a"}}})
	require.NoError(t, err)
	require.False(t, ok)

	_, err = Invert(MustParse(`{"$not":{"field":"k","op":"=","rfield":"$parent.k"}}`), document.ParsePath("ref"))
	require.ErrorIs(t, err, ErrNotInvertible)

	_, err = Invert(MustParse(`{"array":"xs","elemMatch":{"field":"k","op":"=","rfield":"$parent.k"}}`), document.ParsePath("ref"))
	require.ErrorIs(t, err, ErrNotInvertible)

	flipped, err := Invert(MustParse(`{"field":"n","op":"<","rfield":"$parent.max"}`), document.ParsePath("ref"))
	require.NoError(t, err)
	require.Equal(t, OpGt, flipped.(*FieldComparison).Op)
}

func TestKeySpecOf(t *testing.T) {
	ks := KeySpecOf(MustParse(`{"$and":[{"field":"k","op":"=","rfield":"$parent.k"},{"field":"t","op":"=","rfield":"$parent.$parent.type"},{"field":"v","op":">","rfield":"$parent.min"}]}`))
	require.NotNil(t, ks)
	require.Equal(t, []document.Path{{"k"}, {"t"}}, ks.ChildFields)
	require.Equal(t, []document.Path{document.ParsePath("$parent.k"), document.ParsePath("$parent.$parent.type")}, ks.ParentRefs)

	require.Nil(t, KeySpecOf(MustParse(`{"$or":[{"field":"k","op":"=","rfield":"$parent.k"},{"field":"x","op":"=","rvalue":1}]}`)))
}

func TestRelativize(t *testing.T) {
	prefix := document.ParsePath("children.*.ref.*")
	rel, ok := Relativize(MustParse(`{"$and":[{"field":"children.*.ref.*.name","op":"=","rvalue":"x"},{"array":"children.*.ref.*.tags","elemMatch":{"field":"t","op":"=","rvalue":1}}]}`), prefix)
	require.True(t, ok)
	require.Equal(t, `{"$and":[{"field":"name","op":"=","rvalue":"x"},{"array":"tags","elemMatch":{"field":"t","op":"=","rvalue":1}}]}`, String(rel))

	_, ok = Relativize(MustParse(`{"field":"id","op":"=","rvalue":1}`), prefix)
	require.False(t, ok)
}

func TestFieldsAndShape(t *testing.T) {
	q := MustParse(`{"$and":[{"field":"a","op":"=","rvalue":1},{"array":"b","elemMatch":{"field":"c","op":"=","rvalue":2}}]}`)
	require.Equal(t, []document.Path{{"a"}, {"b"}, {"b", "*", "c"}}, Fields(q))

	other := MustParse(`{"$and":[{"field":"a","op":"=","rvalue":7},{"array":"b","elemMatch":{"field":"c","op":"=","rvalue":9}}]}`)
	require.Equal(t, Shape(q), Shape(other))
}

func TestSort(t *testing.T) {
	s, err := ParseSort([]byte(`[{"field":"n","order":"desc"},{"field":"s"}]`))
	require.NoError(t, err)

	docs := []document.Doc{
		{"n": 1.0, "s": "b"},
		{"n": 2.0, "s": "z"},
		{"s": "a"},
		{"n": 1.0, "s": "a"},
	}
	Apply(s, docs, func(d document.Doc) any { return d })
	require.Equal(t, []document.Doc{
		{"n": 2.0, "s": "z"},
		{"n": 1.0, "s": "a"},
		{"n": 1.0, "s": "b"},
		{"s": "a"},
	}, docs)

	_, err = ParseSort([]byte(`{"field":"n","order":"sideways"}`))
	require.Error(t, err)
}
