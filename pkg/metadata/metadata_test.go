package metadata_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/testfixtures/catalog"
)

func TestCompositeTree(t *testing.T) {
	reg := catalog.Registry(t)

	root, err := metadata.Composite(context.Background(), reg, "user", "", nil)
	require.NoError(t, err)

	var names []string
	for _, c := range root.All() {
		names = append(names, c.String())
	}
	require.Equal(t, []string{
		"user:1.0.0",
		"address:1.0.0@addresses.*.ref",
		"order:1.0.0@orders",
		"product:1.0.0@orders.*.items.*.product",
	}, names)

	order := root.ChildAt(document.ParsePath("orders"))
	require.NotNil(t, order)
	require.Equal(t, "orders.*", order.Prefix().String())
	require.Equal(t, 1, order.Depth())

	product := order.ChildAt(document.ParsePath("items.3.product"))
	require.NotNil(t, product)
	require.Equal(t, []*metadata.CompositeEntity{order, root}, product.Ancestors())

	require.Same(t, product, root.EntityOfPath(document.ParsePath("orders.*.items.*.product.*.name")))
	require.Same(t, order, root.EntityOfPath(document.ParsePath("orders.0.items.1.product")))
	require.Same(t, root, root.EntityOfPath(document.ParsePath("addresses.*.addressId")))

	f, owner, ok := root.Resolve(document.ParsePath("addresses.*.ref.*.city"))
	require.True(t, ok)
	require.Same(t, root.Children()[0], owner)
	require.Equal(t, metadata.TypeString, f.Type)
}

func TestCompositeIncludeFilter(t *testing.T) {
	reg := catalog.Registry(t)

	root, err := metadata.Composite(context.Background(), reg, "user", "1.0.0", func(p document.Path) bool {
		return p.String() == "orders"
	})
	require.NoError(t, err)
	require.Len(t, root.All(), 2)
	require.Nil(t, root.ChildAt(document.ParsePath("addresses.*.ref")))
}

func TestReferenceParsing(t *testing.T) {
	reg := catalog.Registry(t)
	user, err := reg.Entity(context.Background(), "user", "1.0.0")
	require.NoError(t, err)

	refs := user.References()
	require.Len(t, refs, 2)
	require.Equal(t, "addresses.*.ref", refs[0].Path.String())

	orders := refs[1].Field.Reference
	require.Equal(t, `{"field":"userId","op":"=","rfield":"$parent._id"}`, query.String(orders.Query))
	require.False(t, orders.AlwaysTrue)
	require.Equal(t, query.Sort{{Field: document.Path{"_id"}}}, orders.Sort)

	require.True(t, user.IsIndexed(document.Path{"login"}))
	require.True(t, user.IsIndexed(document.Path{"_id"}))
	require.False(t, user.IsIndexed(document.Path{"age"}))
}

func TestInvalidMetadata(t *testing.T) {
	tests := map[string]string{
		`no_version`:       `{name: x, fields: []}`,
		`bad_identity`:     `{name: x, version: "1", identity: [nope], fields: [{name: _id, type: string}]}`,
		`array_no_items`:   `{name: x, version: "1", fields: [{name: _id, type: string}, {name: a, type: array}]}`,
		`unknown_type`:     `{name: x, version: "1", fields: [{name: _id, type: blob}]}`,
		`bad_ref_query`:    `{name: x, version: "1", fields: [{name: _id, type: string}, {name: r, type: reference, reference: {entity: y, query: {field: a, op: "?", rvalue: 1}}}]}`,
		`duplicate_fields`: `{name: x, version: "1", fields: [{name: _id, type: string}, {name: _id, type: string}]}`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			e, err := metadata.ParseEntity([]byte(src))
			require.NoError(t, err)
			err = metadata.NewMemoryRegistry().Add(e)
			require.ErrorIs(t, err, metadata.ErrInvalidMetadata)
		})
	}
}

func TestUnknownEntity(t *testing.T) {
	reg := metadata.NewMemoryRegistry()
	_, err := reg.Entity(context.Background(), "ghost", "")
	require.ErrorIs(t, err, metadata.ErrUnknownEntity)

	e, err := metadata.ParseEntity([]byte(`{name: x, version: "1", fields: [{name: _id, type: string}, {name: r, type: reference, reference: {entity: ghost}}]}`))
	require.NoError(t, err)
	require.NoError(t, reg.Add(e))
	_, err = metadata.Composite(context.Background(), reg, "x", "", nil)
	require.ErrorIs(t, err, metadata.ErrUnknownEntity)
}
