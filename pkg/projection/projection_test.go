package projection_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/projection"
	"github.com/docmediator/docmediator/pkg/testfixtures/catalog"
)

func assembledUser() document.Doc {
	return document.Doc{
		"_id":      "u1",
		"login":    "alice",
		"age":      30.0,
		"bogus":    true,
		"personal": map[string]any{"ssn": "111", "phone": "555-1"},
		"addresses": []any{
			map[string]any{"addressId": "a1", "ref": []any{map[string]any{"_id": "a1", "city": "Paris", "street": "Rue A"}}},
			map[string]any{"addressId": "a2", "ref": []any{map[string]any{"_id": "a2", "city": "Lyon", "street": "Rue B"}}},
		},
		"orders": []any{
			map[string]any{"_id": "o1", "userId": "u1", "total": 10.0, "items": []any{
				map[string]any{"sku": "p1", "qty": 1.0, "product": []any{
					map[string]any{"_id": "p1", "sku": "p1", "name": "Pen", "price": 1.5},
				}},
			}},
		},
	}
}

func userComposite(t *testing.T) *metadata.CompositeEntity {
	t.Helper()
	root, err := metadata.Composite(context.Background(), catalog.Registry(t), "user", "", nil)
	require.NoError(t, err)
	return root
}

func TestProject(t *testing.T) {
	root := userComposite(t)

	tests := map[string]struct {
		projection projection.Expression
		want       document.Doc
	}{
		`recursive_wildcard_stops_at_references`: {
			projection: projection.All,
			want: document.Doc{
				"_id":       "u1",
				"login":     "alice",
				"age":       30.0,
				"personal":  map[string]any{"ssn": "111", "phone": "555-1"},
				"addresses": []any{map[string]any{"addressId": "a1"}, map[string]any{"addressId": "a2"}},
			},
		},
		`explicit_descendant_crosses_reference`: {
			projection: projection.MustParse(`[{"field":"login"},{"field":"addresses.*.ref.*.city"}]`),
			want: document.Doc{
				"login": "alice",
				"addresses": []any{
					map[string]any{"ref": []any{map[string]any{"city": "Paris"}}},
					map[string]any{"ref": []any{map[string]any{"city": "Lyon"}}},
				},
			},
		},
		`exact_reference_uses_reference_projection`: {
			projection: projection.MustParse(`{"field":"orders.*.items.*.product"}`),
			want: document.Doc{
				"orders": []any{map[string]any{"items": []any{map[string]any{"product": []any{map[string]any{"name": "Pen"}}}}}},
			},
		},
		`exact_reference_without_descendants_is_kept_empty`: {
			projection: projection.MustParse(`{"field":"orders"}`),
			want:       document.Doc{"orders": []any{}},
		},
		`undecided_container_dropped_when_empty`: {
			projection: projection.MustParse(`{"field":"personal.nope"}`),
			want:       document.Doc{},
		},
		`non_recursive_container_include_kept_empty`: {
			projection: projection.MustParse(`{"field":"personal"}`),
			want:       document.Doc{"personal": map[string]any{}},
		},
		`first_decision_wins`: {
			projection: projection.MustParse(`[{"field":"login","include":false},{"field":"*","recursive":true}]`),
			want: document.Doc{
				"_id":       "u1",
				"age":       30.0,
				"personal":  map[string]any{"ssn": "111", "phone": "555-1"},
				"addresses": []any{map[string]any{"addressId": "a1"}, map[string]any{"addressId": "a2"}},
			},
		},
		`array_range`: {
			projection: projection.MustParse(`{"field":"addresses","range":[1,1]}`),
			want:       document.Doc{"addresses": []any{map[string]any{"addressId": "a2"}}},
		},
		`array_match_with_sort`: {
			projection: projection.MustParse(`{"field":"addresses","match":{"field":"addressId","op":"!=","rvalue":"zz"},"project":{"field":"addressId"},"sort":{"field":"addressId","order":"desc"}}`),
			want:       document.Doc{"addresses": []any{map[string]any{"addressId": "a2"}, map[string]any{"addressId": "a1"}}},
		},
		`array_match_excludes_non_matching`: {
			projection: projection.MustParse(`{"field":"addresses","match":{"field":"addressId","op":"=","rvalue":"a1"},"project":[{"field":"addressId"},{"field":"ref.*.city"}]}`),
			want: document.Doc{"addresses": []any{
				map[string]any{"addressId": "a1", "ref": []any{map[string]any{"city": "Paris"}}},
			}},
		},
		`role_exclusions_take_precedence`: {
			projection: projection.WithExclusions(projection.All, []document.Path{document.ParsePath("personal.ssn")}),
			want: document.Doc{
				"_id":       "u1",
				"login":     "alice",
				"age":       30.0,
				"personal":  map[string]any{"phone": "555-1"},
				"addresses": []any{map[string]any{"addressId": "a1"}, map[string]any{"addressId": "a2"}},
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			doc := assembledUser()
			got := projection.New(test.projection, root).Project(doc)
			require.Equal(t, test.want, got)
			require.Equal(t, assembledUser(), doc)
		})
	}
}

func TestProjectIsIdempotent(t *testing.T) {
	root := userComposite(t)
	for _, p := range []projection.Expression{
		projection.All,
		projection.MustParse(`[{"field":"login"},{"field":"addresses.*.ref.*.city"},{"field":"orders.*.total"}]`),
		projection.MustParse(`[{"field":"personal","recursive":true},{"field":"orders.*.items.*.product"}]`),
	} {
		pr := projection.New(p, root)
		once := pr.Project(assembledUser())
		require.Equal(t, once, pr.Project(once))
	}
}

func TestParseRoundTrip(t *testing.T) {
	p := projection.MustParse(`[{"field":"a","include":false,"recursive":true},{"field":"b","range":[0,3],"include":true,"project":{"field":"x","include":true}},{"field":"c","include":true,"match":{"field":"k","op":"=","rvalue":"v"},"sort":[{"field":"k","order":"desc"}]}]`)
	back, err := projection.FromValue(projection.ToValue(p))
	require.NoError(t, err)
	require.Equal(t, p, back)

	for _, bad := range []string{
		`{"include":true}`,
		`{"field":"a","range":[3,1]}`,
		`{"field":"a","range":[1]}`,
		`{"field":"a","include":"yes"}`,
		`{"field":"a","match":{"field":"k","op":"~","rvalue":1}}`,
		`"a"`,
	} {
		_, err := projection.Parse([]byte(bad))
		require.Error(t, err, bad)
	}
}

func TestMayInclude(t *testing.T) {
	p := projection.MustParse(`[{"field":"*","recursive":true},{"field":"addresses.*.ref.*.city"},{"field":"orders","include":false},{"field":"tags","range":[0,1],"project":{"field":"ref.*.x"}}]`)

	require.True(t, projection.MayInclude(p, document.ParsePath("addresses.*.ref")))
	require.False(t, projection.MayInclude(p, document.ParsePath("orders")))
	require.True(t, projection.MayInclude(p, document.ParsePath("tags.*.ref")))
	require.False(t, projection.MayInclude(p, document.ParsePath("other.*.ref")))
}
