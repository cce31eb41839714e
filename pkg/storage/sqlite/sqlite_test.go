package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/storage"
	"github.com/docmediator/docmediator/pkg/storage/sqlcommon"
	"github.com/docmediator/docmediator/pkg/storage/test"
	storagefixtures "github.com/docmediator/docmediator/pkg/testfixtures/storage"
)

func TestSQLiteDatastore(t *testing.T) {
	testDatastore := storagefixtures.RunDatastoreTestContainer(t, "sqlite")

	ds, err := New(testDatastore.GetConnectionURI(true), sqlcommon.NewConfig())
	require.NoError(t, err)
	defer ds.Close()
	test.RunAllTests(t, ds)
}

func TestSQLiteDatastoreAfterCloseIsNotReady(t *testing.T) {
	testDatastore := storagefixtures.RunDatastoreTestContainer(t, "sqlite")

	ds, err := New(testDatastore.GetConnectionURI(true), sqlcommon.NewConfig())
	require.NoError(t, err)
	ds.Close()
	status, err := ds.IsReady(context.Background())
	require.Error(t, err)
	require.False(t, status.IsReady)
}

func TestWriteSplitsLargeBatches(t *testing.T) {
	testDatastore := storagefixtures.RunDatastoreTestContainer(t, "sqlite")

	ds, err := New(testDatastore.GetConnectionURI(true), sqlcommon.NewConfig(sqlcommon.WithMaxDocumentsPerWrite(3)))
	require.NoError(t, err)
	defer ds.Close()

	ctx := context.Background()
	e := test.Entity(t)
	var docs []document.Doc
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "a"} {
		docs = append(docs, document.Doc{"_id": id, "tag": id})
	}
	docs[len(docs)-1]["tag"] = "last"
	require.NoError(t, ds.Write(ctx, e, docs))

	res, err := ds.Find(ctx, e, nil, storage.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, 7, res.MatchCount)
	require.Equal(t, "last", res.Docs[0]["tag"])
}

func TestHandleSQLError(t *testing.T) {
	require.ErrorIs(t, HandleSQLError(sql.ErrNoRows), storage.ErrNotFound)
	require.ErrorContains(t, HandleSQLError(context.Canceled), "sql error")
}

func TestPrepareDSN(t *testing.T) {
	dsn, err := PrepareDSN("file:test.db")
	require.NoError(t, err)
	require.Contains(t, dsn, "_pragma=journal_mode%28WAL%29")
	require.Contains(t, dsn, "_pragma=busy_timeout%28100%29")
	require.Contains(t, dsn, "_txlock=immediate")

	dsn, err = PrepareDSN("file:test.db?_pragma=busy_timeout(5000)&_txlock=deferred")
	require.NoError(t, err)
	require.Contains(t, dsn, "busy_timeout%285000%29")
	require.NotContains(t, dsn, "busy_timeout%28100%29")
	require.Contains(t, dsn, "_txlock=deferred")

	_, err = PrepareDSN("file:test.db?%zz")
	require.Error(t, err)
}
