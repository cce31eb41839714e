package migrate_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/storage"
	"github.com/docmediator/docmediator/pkg/storage/migrate"
)

func TestDefaultRegistry(t *testing.T) {
	require.Equal(t, []string{"mysql", "postgres", "sqlite"}, migrate.GetDefaultRegistry().GetSupportedEngines())
}

func TestRunMigrations(t *testing.T) {
	ctx := context.Background()
	log, logs := logger.NewObserverLogger("info")

	t.Run("memory_is_a_no_op", func(t *testing.T) {
		require.NoError(t, migrate.RunMigrations(ctx, migrate.MigrationConfig{Engine: "memory", Logger: log}))
		require.Equal(t, 1, logs.FilterMessage("no migrations to run for `memory` datastore").Len())
	})

	t.Run("unknown_engine", func(t *testing.T) {
		err := migrate.RunMigrations(ctx, migrate.MigrationConfig{Engine: "oracle"})
		require.ErrorContains(t, err, "no migration provider registered for engine: oracle")
	})

	t.Run("sqlite_up_and_rollback", func(t *testing.T) {
		cfg := migrate.MigrationConfig{
			Engine:  "sqlite",
			URI:     filepath.Join(t.TempDir(), "db.sqlite"),
			Timeout: 5 * time.Second,
			Logger:  log,
		}
		require.NoError(t, migrate.RunMigrations(ctx, cfg))

		provider, ok := migrate.GetDefaultRegistry().GetProvider("sqlite")
		require.True(t, ok)
		version, err := provider.GetCurrentVersion(ctx, cfg)
		require.NoError(t, err)

		// migrating past the last migration is a no-op
		cfg.TargetVersion = uint(version + 1)
		require.NoError(t, migrate.RunMigrations(ctx, cfg))

		cfg.TargetVersion = uint(version)
		require.NoError(t, migrate.RunMigrations(ctx, cfg))
	})
}

type countingProvider struct {
	runs int
}

func (c *countingProvider) RunMigrations(context.Context, storage.MigrationConfig) error {
	c.runs++
	return nil
}

func (c *countingProvider) GetCurrentVersion(context.Context, storage.MigrationConfig) (int64, error) {
	return 0, nil
}

func (c *countingProvider) GetSupportedEngine() string {
	return "custom"
}

func TestRunMigrationsWithRegistry(t *testing.T) {
	p := &countingProvider{}
	r := storage.NewMigratorRegistry()
	r.RegisterProvider("custom", p)

	require.NoError(t, migrate.RunMigrationsWithRegistry(context.Background(), r, migrate.MigrationConfig{Engine: "custom"}))
	require.Equal(t, 1, p.runs)
}
