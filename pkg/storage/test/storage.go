// Package test holds the behavior every datastore must show. Backends run
// RunAllTests against a fresh instance.
package test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/storage"
)

func RunAllTests(t *testing.T, ds storage.Datastore) {
	t.Run("TestDatastoreIsReady", func(t *testing.T) {
		status, err := ds.IsReady(context.Background())
		require.NoError(t, err)
		require.True(t, status.IsReady)
	})
	t.Run("TestWriteAndFind", func(t *testing.T) { WriteAndFindTest(t, ds) })
	t.Run("TestWriteReplacesByIdentity", func(t *testing.T) { UpsertTest(t, ds) })
	t.Run("TestFindFilters", func(t *testing.T) { FilterTest(t, ds) })
	t.Run("TestFindSortAndRange", func(t *testing.T) { SortAndRangeTest(t, ds) })
	t.Run("TestEntitiesAreIsolated", func(t *testing.T) { IsolationTest(t, ds) })
}

// Entity returns a fresh entity with a unique name so tests sharing a
// datastore do not see each other's documents.
func Entity(t testing.TB) *metadata.Entity {
	t.Helper()
	e := &metadata.Entity{
		Name:    "thing_" + strings.ToLower(ulid.Make().String()),
		Version: "1.0.0",
		Fields: []*metadata.Field{
			{Name: "_id", Type: metadata.TypeString},
			{Name: "n", Type: metadata.TypeInteger},
			{Name: "tag", Type: metadata.TypeString},
			{Name: "nested", Type: metadata.TypeObject, Fields: []*metadata.Field{
				{Name: "list", Type: metadata.TypeArray, Items: &metadata.Field{Type: metadata.TypeString}},
			}},
		},
	}
	require.NoError(t, e.Init())
	return e
}

func ids(docs []document.Doc) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d["_id"].(string))
	}
	return out
}

func WriteAndFindTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()
	e := Entity(t)

	res, err := ds.Find(ctx, e, nil, storage.FindOptions{})
	require.NoError(t, err)
	require.Empty(t, res.Docs)
	require.Zero(t, res.MatchCount)

	docs := []document.Doc{
		{"_id": "c", "n": 3, "nested": map[string]any{"list": []any{"x", "y"}}},
		{"_id": "a", "n": 1},
		{"_id": "b", "n": 2, "tag": nil},
	}
	require.NoError(t, ds.Write(ctx, e, docs))

	res, err = ds.Find(ctx, e, nil, storage.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, res.MatchCount)

	want := []document.Doc{
		{"_id": "c", "n": 3.0, "nested": map[string]any{"list": []any{"x", "y"}}},
		{"_id": "a", "n": 1.0},
		{"_id": "b", "n": 2.0, "tag": nil},
	}
	if diff := cmp.Diff(want, res.Docs); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func UpsertTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()
	e := Entity(t)

	require.NoError(t, ds.Write(ctx, e, []document.Doc{{"_id": "1", "n": 1}, {"_id": "2", "n": 2}}))
	require.NoError(t, ds.Write(ctx, e, []document.Doc{{"_id": "1", "n": 10}, {"_id": "3", "n": 3}}))

	res, err := ds.Find(ctx, e, nil, storage.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3"}, ids(res.Docs))
	require.InDelta(t, 10.0, res.Docs[0]["n"], 0)
}

func FilterTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()
	e := Entity(t)

	require.NoError(t, ds.Write(ctx, e, []document.Doc{
		{"_id": "1", "n": 1, "tag": "red"},
		{"_id": "2", "n": 2, "tag": "blue"},
		{"_id": "3", "n": 3, "tag": "red"},
		{"_id": "4", "n": 4},
	}))

	for _, tc := range []struct {
		name  string
		query string
		want  []string
	}{
		{name: "comparison", query: `{"field":"n","op":">","rvalue":1}`, want: []string{"2", "3", "4"}},
		{name: "identity", query: `{"field":"_id","op":"=","rvalue":"3"}`, want: []string{"3"}},
		{name: "identity_in", query: `{"field":"_id","op":"$in","values":["4","1","9"]}`, want: []string{"1", "4"}},
		{name: "identity_and_field", query: `{"$and":[{"field":"_id","op":"$in","values":["1","2"]},{"field":"tag","op":"=","rvalue":"red"}]}`, want: []string{"1"}},
		{name: "missing_is_null", query: `{"field":"tag","op":"=","rvalue":null}`, want: []string{"4"}},
		{name: "none", query: `{"field":"tag","op":"=","rvalue":"green"}`, want: []string{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ds.Find(ctx, e, query.MustParse(tc.query), storage.FindOptions{})
			require.NoError(t, err)
			require.Equal(t, tc.want, ids(res.Docs))
			require.Equal(t, len(tc.want), res.MatchCount)
		})
	}
}

func SortAndRangeTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()
	e := Entity(t)

	var docs []document.Doc
	for _, id := range []string{"b", "d", "a", "e", "c"} {
		docs = append(docs, document.Doc{"_id": id})
	}
	require.NoError(t, ds.Write(ctx, e, docs))

	sort, err := query.ParseSort([]byte(`{"field":"_id","order":"desc"}`))
	require.NoError(t, err)
	from, to := 1, 2
	r, err := storage.NewRange(&from, &to)
	require.NoError(t, err)

	res, err := ds.Find(ctx, e, nil, storage.FindOptions{Sort: sort, Range: r})
	require.NoError(t, err)
	require.Equal(t, []string{"d", "c"}, ids(res.Docs))
	require.Equal(t, 5, res.MatchCount)

	from, to = 7, 9
	r, err = storage.NewRange(&from, &to)
	require.NoError(t, err)
	res, err = ds.Find(ctx, e, nil, storage.FindOptions{Range: r})
	require.NoError(t, err)
	require.Empty(t, res.Docs)
	require.Equal(t, 5, res.MatchCount)
}

func IsolationTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()
	e1, e2 := Entity(t), Entity(t)

	require.NoError(t, ds.Write(ctx, e1, []document.Doc{{"_id": "1"}}))
	require.NoError(t, ds.Write(ctx, e2, []document.Doc{{"_id": "1"}, {"_id": "2"}}))

	res, err := ds.Find(ctx, e1, nil, storage.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, ids(res.Docs))

	res, err = ds.Find(ctx, e2, nil, storage.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, ids(res.Docs))
}
