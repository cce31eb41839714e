package importer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	"github.com/docmediator/docmediator/cmd"
	"github.com/docmediator/docmediator/cmd/util"
	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/storage"
	"github.com/docmediator/docmediator/pkg/storage/memory"
	"github.com/docmediator/docmediator/pkg/testfixtures/catalog"
)

// writeCatalogDocuments writes one document file per catalog entity.
func writeCatalogDocuments(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	var files []string
	for name, docs := range catalog.Documents() {
		data, err := yaml.Marshal(&DocumentFile{Entity: name, Documents: docs})
		require.NoError(t, err)
		file := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(file, data, 0o600))
		files = append(files, file)
	}
	return files
}

func TestParseDocumentFile(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		f, err := ParseDocumentFile([]byte(`
entity: address
version: 1.0.0
documents:
  - {_id: a1, city: Paris}
  - _id: a2
    city: Lyon
`))
		require.NoError(t, err)
		require.Equal(t, "address", f.Entity)
		require.Equal(t, "1.0.0", f.Version)
		require.Len(t, f.Documents, 2)
		require.Equal(t, "Lyon", f.Documents[1]["city"])
	})

	t.Run("json", func(t *testing.T) {
		f, err := ParseDocumentFile([]byte(`{"entity": "order", "documents": [{"_id": "o1", "total": 10}]}`))
		require.NoError(t, err)
		require.Equal(t, "order", f.Entity)
		require.InDelta(t, 10, f.Documents[0]["total"], 0)
	})

	t.Run("missing_entity", func(t *testing.T) {
		_, err := ParseDocumentFile([]byte(`documents: []`))
		require.EqualError(t, err, "document file names no entity")
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseDocumentFile([]byte("entity: [a"))
		require.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	reg := catalog.Registry(t)
	ds := memory.New()
	backends := storage.NewRegistry("memory")
	backends.Register("memory", ds)

	n, err := Load(ctx, reg, backends, writeCatalogDocuments(t), 1, logger.NewNoopLogger())
	require.NoError(t, err)

	expected := 0
	for _, docs := range catalog.Documents() {
		expected += len(docs)
	}
	require.Equal(t, expected, n)

	address, err := reg.Entity(ctx, "address", "")
	require.NoError(t, err)
	res, err := ds.Find(ctx, address, query.MustParse(`{"field":"city","op":"=","rvalue":"Paris"}`), storage.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, res.MatchCount)
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	backends := storage.NewRegistry("memory")
	backends.Register("memory", memory.New())
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("entity: invoice\ndocuments: [{_id: i1}]\n"), 0o600))
	_, err := Load(ctx, catalog.Registry(t), backends, []string{unknown}, 10, logger.NewNoopLogger())
	require.ErrorIs(t, err, metadata.ErrUnknownEntity)

	_, err = Load(ctx, catalog.Registry(t), backends, []string{filepath.Join(dir, "missing.yaml")}, 10, logger.NewNoopLogger())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestImportCommand(t *testing.T) {
	util.PrepareTempConfigDir(t)
	files := writeCatalogDocuments(t)

	root := cmd.NewRootCommand()
	root.AddCommand(NewImportCommand())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(append([]string{"import", "--metadata-dir", catalog.MetadataDir(t), "--datastore-engine", "memory"}, files...))
	require.NoError(t, root.Execute())

	expected := 0
	for _, docs := range catalog.Documents() {
		expected += len(docs)
	}
	require.Equal(t, fmt.Sprintf("imported %d documents\n", expected), out.String())
}
