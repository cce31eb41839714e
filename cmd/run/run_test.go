package run

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/docmediator/docmediator/cmd"
	"github.com/docmediator/docmediator/cmd/util"
	serverconfig "github.com/docmediator/docmediator/internal/server/config"
	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/testfixtures/catalog"
)

func TestRunCommandNoConfigDefaultValues(t *testing.T) {
	util.PrepareTempConfigDir(t)
	runCmd := NewRunCommand()
	runCmd.Run = func(cmd *cobra.Command, _ []string) {
		require.Equal(t, "memory", viper.GetString("datastore.engine"))
		require.Empty(t, viper.GetString("datastore.uri"))
		require.Equal(t, serverconfig.DefaultBatchSize, viper.GetInt("find.batchSize"))
		require.Equal(t, serverconfig.DefaultMemoryIndexThreshold, viper.GetInt("find.memoryIndexThreshold"))
		require.Equal(t, serverconfig.DefaultAssemblyParallelism, viper.GetInt("find.assemblyParallelism"))
		require.Equal(t, serverconfig.DefaultPlanCacheTTL, viper.GetDuration("find.planCacheTTL"))
		require.Equal(t, serverconfig.DefaultBulkParallelism, viper.GetInt("bulkParallelism"))
		require.Equal(t, "0.0.0.0:8080", viper.GetString("http.addr"))
		require.Equal(t, "text", viper.GetString("log.format"))
		require.False(t, viper.GetBool("trace.enabled"))
	}

	cmd := cmd.NewRootCommand()
	cmd.AddCommand(runCmd)
	cmd.SetArgs([]string{"run"})
	require.NoError(t, cmd.Execute())
}

func TestRunCommandFlagsAreParsed(t *testing.T) {
	util.PrepareTempConfigDir(t)
	runCmd := NewRunCommand()
	runCmd.Run = func(cmd *cobra.Command, _ []string) {
		cfg, err := util.ReadConfig()
		require.NoError(t, err)
		require.Equal(t, 32, cfg.Find.BatchSize)
		require.Equal(t, -1, cfg.Find.MemoryIndexThreshold)
		require.True(t, cfg.Find.AdaptiveIndexing)
		require.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
		require.Equal(t, "/var/lib/entities", cfg.MetadataDir)
	}

	cmd := cmd.NewRootCommand()
	cmd.AddCommand(runCmd)
	cmd.SetArgs([]string{
		"serve",
		"--find-batch-size", "32",
		"--find-memory-index-threshold=-1",
		"--find-adaptive-indexing",
		"--http-addr", "127.0.0.1:9090",
		"--metadata-dir", "/var/lib/entities",
	})
	require.NoError(t, cmd.Execute())
}

func TestReadConfigFromFile(t *testing.T) {
	util.PrepareTempConfigFile(t, `datastore:
  engine: sqlite
  uri: file:docs.db
find:
  batchSize: 64
  planCacheTTL: 30s
  memoryThresholdBytes: 1048576
bulkParallelism: 3
log:
  level: debug
`)

	cmd.NewRootCommand()
	cfg, err := util.ReadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Verify())
	require.Equal(t, "sqlite", cfg.Datastore.Engine)
	require.Equal(t, "file:docs.db", cfg.Datastore.URI)
	require.Equal(t, 64, cfg.Find.BatchSize)
	require.Equal(t, 30*time.Second, cfg.Find.PlanCacheTTL)
	require.Equal(t, int64(1048576), cfg.Find.MemoryThresholdBytes)
	require.Equal(t, 3, cfg.BulkParallelism)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, serverconfig.DefaultAssemblyParallelism, cfg.Find.AssemblyParallelism)
}

func TestServerContextRun(t *testing.T) {
	cfg := serverconfig.MustDefaultConfig()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Metrics.Enabled = false
	cfg.MetadataDir = catalog.MetadataDir(t)

	listening := make(chan string, 1)
	serverCtx := &ServerContext{Logger: logger.NewNoopLogger(), listening: listening}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serverCtx.Run(ctx, cfg)
	}()

	var addr string
	select {
	case addr = <-listening:
	case err := <-done:
		t.Fatalf("server exited before listening: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not start listening")
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Post(fmt.Sprintf("http://%s/find", addr), "application/json",
		strings.NewReader(`{"entity": "user", "query": {"field": "addresses.*.ref.*.city", "op": "=", "rvalue": "Paris"}}`))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.Equal(t, "COMPLETE", gjson.GetBytes(body, "status").String())
	require.Equal(t, int64(0), gjson.GetBytes(body, "matchCount").Int())

	resp, err = http.Post(fmt.Sprintf("http://%s/find", addr), "application/json", strings.NewReader(`{"entity": "invoice"}`))
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "metadata:UnknownEntity", gjson.GetBytes(body, "errors.0.errorCode").String())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServerContextRunRejectsUnknownMetadataDir(t *testing.T) {
	cfg := serverconfig.MustDefaultConfig()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Metrics.Enabled = false
	cfg.MetadataDir = t.TempDir() + "/missing"

	serverCtx := &ServerContext{Logger: logger.NewNoopLogger()}
	err := serverCtx.Run(context.Background(), cfg)
	require.ErrorContains(t, err, "load metadata")
}
