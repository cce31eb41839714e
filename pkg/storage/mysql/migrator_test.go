package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docmediator/docmediator/pkg/storage"
)

func TestMySQLMigrationProvider(t *testing.T) {
	provider := NewMySQLMigrationProvider()

	t.Run("GetSupportedEngine", func(t *testing.T) {
		require.Equal(t, "mysql", provider.GetSupportedEngine())
		require.Implements(t, (*storage.MigrationProvider)(nil), provider)
	})

	t.Run("InvalidURI", func(t *testing.T) {
		config := storage.MigrationConfig{
			Engine:   "mysql",
			URI:      "not a dsn",
			Username: "app",
			Timeout:  time.Second,
		}

		err := provider.RunMigrations(context.Background(), config)
		require.ErrorContains(t, err, "invalid mysql database uri")
	})

	t.Run("ConnectionFailure", func(t *testing.T) {
		config := storage.MigrationConfig{
			Engine:  "mysql",
			URI:     "root:secret@tcp(127.0.0.1:1)/docs?timeout=1s",
			Timeout: time.Second,
		}

		err := provider.RunMigrations(context.Background(), config)
		require.ErrorContains(t, err, "failed to initialize mysql connection")
	})
}
