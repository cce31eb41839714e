package assemble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	mediatorErrors "github.com/docmediator/docmediator/internal/errors"
	"github.com/docmediator/docmediator/internal/plan"
	"github.com/docmediator/docmediator/internal/planner"
	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/testfixtures/catalog"
)

// store serves the documents of each entity, filtering them with the
// association condition and the node's local query.
type store struct {
	data map[string][]document.Doc
	fail map[string]error

	mu    sync.Mutex
	calls map[string]int
}

func newStore(data map[string][]document.Doc) *store {
	return &store{data: data, fail: map[string]error{}, calls: map[string]int{}}
}

func (s *store) executors(n *plan.Node) (Executor, bool) {
	return ExecutorFunc(func(_ context.Context, q query.Expression) ([]*ResultDoc, error) {
		name := n.Entity.Name()
		s.mu.Lock()
		s.calls[name]++
		s.mu.Unlock()
		if err := s.fail[name]; err != nil {
			return nil, err
		}
		var out []*ResultDoc
		for _, d := range s.data[name] {
			ok, err := query.Evaluate(query.AllOf(q, n.LocalQuery), d)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, NewResultDoc(document.Copy(d).(map[string]any), n))
			}
		}
		return out, nil
	}), true
}

func (s *store) roots(p *plan.QueryPlan) []*ResultDoc {
	var out []*ResultDoc
	for _, d := range s.data[p.Root.Name()] {
		out = append(out, NewResultDoc(document.Copy(d).(map[string]any), p.RootNode()))
	}
	return out
}

func compositePlan(t *testing.T, reg metadata.Registry, name string) *plan.QueryPlan {
	t.Helper()
	root, err := metadata.Composite(context.Background(), reg, name, "", metadata.IncludeAll)
	require.NoError(t, err)
	p, err := plan.NewChooser(plan.First{}, plan.SimpleScorer{}).Choose(root, nil, nil)
	require.NoError(t, err)
	return p
}

func registry(t *testing.T, sources ...string) *metadata.MemoryRegistry {
	t.Helper()
	reg := metadata.NewMemoryRegistry()
	for _, src := range sources {
		e, err := metadata.ParseEntity([]byte(src))
		require.NoError(t, err)
		require.NoError(t, reg.Add(e))
	}
	return reg
}

const parentEntity = `
name: parent
version: 1.0.0
identity: [id]
access: {find: [anyone]}
fields:
  - {name: id, type: integer}
  - name: childRef
    type: array
    items:
      type: object
      fields:
        - {name: k, type: string}
        - name: ref
          type: reference
          reference: {entity: child, version: 1.0.0, query: {field: k, op: "=", rfield: $parent.k}}
`

const childEntity = `
name: child
version: 1.0.0
identity: [k]
access: {find: [anyone]}
fields:
  - {name: k, type: string}
  - {name: v, type: integer}
`

func TestAssembleSlotsWithAndWithoutIndex(t *testing.T) {
	t.Cleanup(func() {
		goleak.VerifyNone(t)
	})
	reg := registry(t, parentEntity, childEntity)

	for name, opts := range map[string][]AssemblerOption{
		"scan":     {WithMemoryIndexThreshold(-1)},
		"index":    {WithMemoryIndexThreshold(0)},
		"adaptive": {WithMemoryIndexThreshold(0), WithAdaptiveIndexing(planner.New(time.Millisecond))},
	} {
		t.Run(name, func(t *testing.T) {
			p := compositePlan(t, reg, "parent")
			s := newStore(map[string][]document.Doc{
				"parent": {{"id": 1.0, "childRef": []any{map[string]any{"k": "a"}, map[string]any{"k": "b"}}}},
				"child":  {{"k": "a", "v": 1.0}, {"k": "b", "v": 2.0}, {"k": "c", "v": 3.0}},
			})
			parents := s.roots(p)

			out, err := New(s.executors, opts...).Assemble(context.Background(), p.RootNode(), parents)
			require.NoError(t, err)

			require.Equal(t, document.Doc{
				"id": 1.0,
				"childRef": []any{
					map[string]any{"k": "a", "ref": []any{map[string]any{"k": "a", "v": 1.0}}},
					map[string]any{"k": "b", "ref": []any{map[string]any{"k": "b", "v": 2.0}}},
				},
			}, parents[0].Doc)

			children := out[p.Nodes[1]]
			require.Len(t, children, 2)
			require.Equal(t, "child:a", children[0].ID.String())
			require.Equal(t, "child:b", children[1].ID.String())
			require.Equal(t, 1, s.calls["child"])
		})
	}
}

func assembleCatalog(t *testing.T, opts ...AssemblerOption) (*plan.QueryPlan, *store, []*ResultDoc, map[*plan.Node][]*ResultDoc) {
	t.Helper()
	p := compositePlan(t, catalog.Registry(t), "user")
	s := newStore(catalog.Documents())
	users := s.roots(p)
	a := New(s.executors, opts...)

	out, err := a.Assemble(context.Background(), p.RootNode(), users)
	require.NoError(t, err)
	orderNode := p.Nodes[2]
	products, err := a.Assemble(context.Background(), orderNode, out[orderNode])
	require.NoError(t, err)
	for n, docs := range products {
		out[n] = docs
	}
	return p, s, users, out
}

func ids(docs []*ResultDoc) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID.String()
	}
	return out
}

func TestAssembleCatalog(t *testing.T) {
	t.Cleanup(func() {
		goleak.VerifyNone(t)
	})
	p, s, users, out := assembleCatalog(t)

	require.Equal(t, []string{"address:a1", "address:a2", "address:a3"}, ids(out[p.Nodes[1]]))
	require.Equal(t, []string{"order:o1", "order:o3", "order:o2"}, ids(out[p.Nodes[2]]))
	require.Equal(t, []string{"product:p1", "product:p2"}, ids(out[p.Nodes[3]]))
	require.Equal(t, 1, s.calls["address"])
	require.Equal(t, 1, s.calls["order"])
	require.Equal(t, 1, s.calls["product"])

	u1 := users[0].Doc
	require.Equal(t, []any{"a1"}, document.Values(u1, document.ParsePath("addresses.0.ref.*._id")))
	require.Equal(t, []any{"a2"}, document.Values(u1, document.ParsePath("addresses.1.ref.*._id")))
	require.Equal(t, []any{"o1", "o3"}, document.Values(u1, document.ParsePath("orders.*._id")))
	require.Equal(t, []any{"Pen"}, document.Values(u1, document.ParsePath("orders.0.items.*.product.*.name")))

	u2 := users[1].Doc
	require.Equal(t, []any{"Book", "Pen"}, document.Values(u2, document.ParsePath("orders.0.items.*.product.*.name")))

	u4 := users[3].Doc
	require.Equal(t, []any{}, u4["orders"])
	_, ok := u4["addresses"]
	require.False(t, ok)

	// a1 is attached to u1 and u3 as one document.
	a1 := u1["addresses"].([]any)[0].(map[string]any)["ref"].([]any)[0].(map[string]any)
	a1["marker"] = true
	require.Equal(t, []any{true}, document.Values(users[2].Doc, document.ParsePath("addresses.0.ref.*.marker")))

	for _, u := range users {
		require.Empty(t, u.Errors())
	}
}

func TestAssembleIndexMatchesScan(t *testing.T) {
	_, _, scanned, _ := assembleCatalog(t, WithMemoryIndexThreshold(-1))
	_, _, indexed, _ := assembleCatalog(t, WithMemoryIndexThreshold(0))
	_, _, batched, _ := assembleCatalog(t, WithMemoryIndexThreshold(0), WithBatchSize(1))

	for i := range scanned {
		require.Equal(t, scanned[i].Doc, indexed[i].Doc)
		require.Equal(t, scanned[i].Doc, batched[i].Doc)
	}
}

func TestAssembleBatches(t *testing.T) {
	p := compositePlan(t, catalog.Registry(t), "user")
	s := newStore(catalog.Documents())
	users := s.roots(p)

	out, err := New(s.executors, WithBatchSize(1)).Assemble(context.Background(), p.RootNode(), users)
	require.NoError(t, err)

	// four address slots and four order slots, one retrieval each
	require.Equal(t, 4, s.calls["address"])
	require.Equal(t, 4, s.calls["order"])
	require.Equal(t, []string{"address:a1", "address:a2", "address:a3"}, ids(out[p.Nodes[1]]))

	a1 := document.Values(users[0].Doc, document.ParsePath("addresses.0.ref.0"))[0].(map[string]any)
	a1["marker"] = true
	require.Equal(t, []any{true}, document.Values(users[2].Doc, document.ParsePath("addresses.0.ref.0.marker")))
}

func TestAssembleMissingExecutor(t *testing.T) {
	p := compositePlan(t, catalog.Registry(t), "user")
	s := newStore(catalog.Documents())

	executors := func(n *plan.Node) (Executor, bool) {
		if n.Entity.Name() == "order" {
			return nil, false
		}
		return s.executors(n)
	}
	_, err := New(executors).Assemble(context.Background(), p.RootNode(), s.roots(p))
	require.ErrorIs(t, err, mediatorErrors.ErrMissingExecutor)
	require.ErrorIs(t, err, mediatorErrors.ErrPlanning)
}

func TestAssembleRetrievalFailureWaitsForSiblings(t *testing.T) {
	t.Cleanup(func() {
		goleak.VerifyNone(t)
	})
	p := compositePlan(t, catalog.Registry(t), "user")
	s := newStore(catalog.Documents())
	boom := errors.New("backend down")
	s.fail["order"] = boom
	users := s.roots(p)

	_, err := New(s.executors).Assemble(context.Background(), p.RootNode(), users)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, s.calls["address"])

	// nothing is attached when a sibling failed
	_, ok := users[0].Doc["addresses"].([]any)[0].(map[string]any)["ref"]
	require.False(t, ok)
}

const ownerEntity = `
name: owner
version: 1.0.0
access: {find: [anyone]}
fields:
  - {name: _id, type: string}
  - name: broken
    type: reference
    reference: {entity: thing, version: 1.0.0, query: {field: _id, op: "=", rfield: $parent.$parent._id}}
  - name: everything
    type: reference
    reference: {entity: thing, version: 1.0.0, query: {}}
  - name: nothing
    type: reference
    reference: {entity: thing, version: 1.0.0}
`

const thingEntity = `
name: thing
version: 1.0.0
access: {find: [anyone]}
fields:
  - {name: _id, type: string}
`

func TestAssembleAssociationKinds(t *testing.T) {
	reg := registry(t, ownerEntity, thingEntity)
	p := compositePlan(t, reg, "owner")
	s := newStore(map[string][]document.Doc{
		"owner": {{"_id": "x"}, {"_id": "y"}},
		"thing": {{"_id": "t1"}, {"_id": "t2"}},
	})
	owners := s.roots(p)

	out, err := New(s.executors).Assemble(context.Background(), p.RootNode(), owners)
	require.NoError(t, err)

	for _, o := range owners {
		require.Len(t, o.Errors(), 1)
		require.Nil(t, o.Doc["broken"])
		require.Equal(t, []any{"t1", "t2"}, document.Values(o.Doc, document.ParsePath("everything.*._id")))
		_, ok := o.Doc["nothing"]
		require.False(t, ok)
	}
	require.Equal(t, []string{"thing:t1", "thing:t2"}, ids(out[p.Node(p.Root.ChildAt(document.ParsePath("everything")))]))
	require.Empty(t, out[p.Node(p.Root.ChildAt(document.ParsePath("nothing")))])
	require.Equal(t, 1, s.calls["thing"])
}

func TestAttachPrefetched(t *testing.T) {
	p := compositePlan(t, catalog.Registry(t), "user")
	s := newStore(catalog.Documents())
	users := s.roots(p)
	addressNode := p.Nodes[1]

	var addresses []*ResultDoc
	for _, d := range s.data["address"] {
		if d["city"] == "Paris" {
			addresses = append(addresses, NewResultDoc(d, addressNode))
		}
	}

	attached := New(s.executors).AttachPrefetched(context.Background(), p.Edges[0], users, addresses)
	require.Equal(t, []string{"address:a1", "address:a3"}, ids(attached))
	require.Equal(t, []any{"a1"}, document.Values(users[0].Doc, document.ParsePath("addresses.*.ref.*._id")))
	require.Equal(t, []any{"a3"}, document.Values(users[1].Doc, document.ParsePath("addresses.*.ref.*._id")))
	require.Equal(t, 0, s.calls["address"])
}

func TestTreeErrorsCollectDescendants(t *testing.T) {
	p, _, users, out := assembleCatalog(t)

	p1 := out[p.Nodes[3]][0]
	require.Equal(t, "product:p1", p1.ID.String())
	dataErr := errors.New("broken product")
	p1.AddError(dataErr)

	require.Equal(t, []error{dataErr}, users[0].TreeErrors())
	require.Equal(t, []error{dataErr}, users[1].TreeErrors())
	require.Empty(t, users[2].TreeErrors())
	require.Empty(t, users[3].TreeErrors())
	require.Empty(t, users[0].Errors())

	require.Len(t, users[0].Children(), 4)
}
