package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docmediator/docmediator/internal/build"
	"github.com/docmediator/docmediator/pkg/storage"
	"github.com/docmediator/docmediator/pkg/storage/sqlcommon"
)

func TestSQLiteMigrationProvider(t *testing.T) {
	provider := NewSQLiteMigrationProvider()

	t.Run("GetSupportedEngine", func(t *testing.T) {
		require.Equal(t, "sqlite", provider.GetSupportedEngine())
		require.Implements(t, (*storage.MigrationProvider)(nil), provider)
	})

	t.Run("InvalidPath", func(t *testing.T) {
		config := storage.MigrationConfig{
			Engine:  "sqlite",
			URI:     "/invalid/path/that/does/not/exist/db.sqlite",
			Timeout: time.Second,
		}

		err := provider.RunMigrations(context.Background(), config)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to initialize sqlite connection")
	})

	t.Run("MigrateUpAndDown", func(t *testing.T) {
		ctx := context.Background()
		config := storage.MigrationConfig{
			Engine:  "sqlite",
			URI:     filepath.Join(t.TempDir(), "db.sqlite"),
			Timeout: 5 * time.Second,
		}

		require.NoError(t, provider.RunMigrations(ctx, config))
		version, err := provider.GetCurrentVersion(ctx, config)
		require.NoError(t, err)
		require.Equal(t, build.MinimumSupportedDatastoreSchemaRevision, version)

		ds, err := New(config.URI, sqlcommon.NewConfig())
		require.NoError(t, err)
		status, err := ds.IsReady(ctx)
		require.NoError(t, err)
		require.True(t, status.IsReady)
		ds.Close()

		config.TargetVersion = uint(version)
		require.NoError(t, provider.RunMigrations(ctx, config))
	})
}
