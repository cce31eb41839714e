package find

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"sigs.k8s.io/yaml"

	"github.com/docmediator/docmediator/cmd"
	"github.com/docmediator/docmediator/cmd/importer"
	"github.com/docmediator/docmediator/cmd/util"
	"github.com/docmediator/docmediator/pkg/testfixtures/catalog"
)

func documentFlags(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	var files []string
	for name, docs := range catalog.Documents() {
		data, err := yaml.Marshal(&importer.DocumentFile{Entity: name, Documents: docs})
		require.NoError(t, err)
		file := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(file, data, 0o600))
		files = append(files, file)
	}
	return []string{"--documents", strings.Join(files, ",")}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	util.PrepareTempConfigDir(t)
	root := cmd.NewRootCommand()
	root.AddCommand(NewFindCommand())
	root.SilenceUsage = true
	root.SilenceErrors = true

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"find", "--metadata-dir", catalog.MetadataDir(t)}, append(documentFlags(t), args...)...))
	err := root.Execute()
	return out.String(), err
}

func TestFindCommand(t *testing.T) {
	out, err := execute(t, "", "--request", `{
		"entity": "user",
		"query": {"field": "orders.*.total", "op": ">", "rvalue": 50},
		"projection": [{"field": "login"}, {"field": "orders.*.total"}]
	}`)
	require.NoError(t, err)
	require.Equal(t, "COMPLETE", gjson.Get(out, "status").String())
	require.Equal(t, int64(1), gjson.Get(out, "matchCount").Int())
	require.Equal(t, "bob", gjson.Get(out, "processed.0.login").String())
	require.False(t, gjson.Get(out, "processed.0.age").Exists())
}

func TestFindCommandReadsStdin(t *testing.T) {
	out, err := execute(t, `{"entity": "address", "sort": {"field": "_id", "order": "desc"}}`, "-")
	require.NoError(t, err)
	require.Equal(t, int64(3), gjson.Get(out, "matchCount").Int())
	require.Equal(t, "a3", gjson.Get(out, "processed.0._id").String())
}

func TestFindCommandRoles(t *testing.T) {
	request := `{"entity": "user", "query": {"field": "personal.ssn", "op": "=", "rvalue": "111"}}`

	out, err := execute(t, "", "--request", request)
	require.ErrorContains(t, err, "request failed")
	require.Equal(t, "mediator:NoAccess", gjson.Get(out, "errors.0.errorCode").String())

	out, err = execute(t, "", "--request", request, "--roles", "admin")
	require.NoError(t, err)
	require.Equal(t, "alice", gjson.Get(out, "processed.0.login").String())
}

func TestFindCommandExplain(t *testing.T) {
	out, err := execute(t, "", "--explain", "--request", `{"entity": "user", "query": {"field": "addresses.*.ref.*.city", "op": "=", "rvalue": "Lyon"}}`)
	require.NoError(t, err)
	require.Equal(t, "COMPLETE", gjson.Get(out, "status").String())
	require.True(t, gjson.Get(out, "processed.0").Exists())
}

func TestFindCommandRequiresRequest(t *testing.T) {
	_, err := execute(t, "")
	require.EqualError(t, err, "a request is required: pass --request or a request file")

	_, err = execute(t, "", "--request", `{"entity": "user", "query": {"op": "="}}`)
	require.ErrorContains(t, err, "invalid request")
}
