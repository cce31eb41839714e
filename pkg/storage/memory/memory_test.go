package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/storage"
	"github.com/docmediator/docmediator/pkg/storage/test"
)

func TestMemdbStorage(t *testing.T) {
	test.RunAllTests(t, New())
}

func TestFindReturnsCopies(t *testing.T) {
	ctx := context.Background()
	ds := New()
	e := test.Entity(t)

	require.NoError(t, ds.Write(ctx, e, []document.Doc{{"_id": "1", "n": 1}}))

	res, err := ds.Find(ctx, e, nil, storage.FindOptions{})
	require.NoError(t, err)
	res.Docs[0]["n"] = 2.0

	res, err = ds.Find(ctx, e, query.MustParse(`{"field":"n","op":"=","rvalue":1}`), storage.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, []document.Doc{{"_id": "1", "n": 1.0}}, res.Docs)
}
