package sqlcommon

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/docmediator/docmediator/assets"
	"github.com/docmediator/docmediator/pkg/logger"
)

func newProvider(db *sql.DB, dialect goose.Dialect, dir string) (*goose.Provider, error) {
	migrations, err := fs.Sub(assets.EmbedMigrations, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations %s: %w", dir, err)
	}
	provider, err := goose.NewProvider(dialect, db, migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to create goose provider: %w", err)
	}
	return provider, nil
}

// CurrentVersion returns the schema version of db.
func CurrentVersion(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) (int64, error) {
	provider, err := newProvider(db, dialect, dir)
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

// Migrate moves db to target, or to the latest version when target is 0.
func Migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string, target uint, log logger.Logger) error {
	provider, err := newProvider(db, dialect, dir)
	if err != nil {
		return err
	}

	currentVersion, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get %s db version: %w", dialect, err)
	}
	log = log.With(zap.String("dialect", string(dialect)))
	log.Info("current schema version", zap.Int64("version", currentVersion))

	if target == 0 {
		log.Info("running all migrations")
		if _, err := provider.Up(ctx); err != nil {
			return fmt.Errorf("failed to run %s migrations: %w", dialect, err)
		}
		log.Info("migration done")
		return nil
	}

	targetVersion := int64(target)
	log.Info("migrating", zap.Int64("target", targetVersion))

	switch {
	case targetVersion < currentVersion:
		if _, err := provider.DownTo(ctx, targetVersion); err != nil {
			return fmt.Errorf("failed to run %s migrations down to %v: %w", dialect, targetVersion, err)
		}
	case targetVersion > currentVersion:
		if _, err := provider.UpTo(ctx, targetVersion); err != nil {
			return fmt.Errorf("failed to run %s migrations up to %v: %w", dialect, targetVersion, err)
		}
	default:
		log.Info("nothing to do")
		return nil
	}

	log.Info("migration done")
	return nil
}
