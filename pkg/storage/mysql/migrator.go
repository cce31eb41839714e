package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/docmediator/docmediator/assets"
	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/storage"
	"github.com/docmediator/docmediator/pkg/storage/sqlcommon"
)

// MySQLMigrationProvider implements MigrationProvider for MySQL.
type MySQLMigrationProvider struct{}

// NewMySQLMigrationProvider creates a new MySQL migration provider.
func NewMySQLMigrationProvider() *MySQLMigrationProvider {
	return &MySQLMigrationProvider{}
}

// GetSupportedEngine returns the database engine this provider supports.
func (m *MySQLMigrationProvider) GetSupportedEngine() string {
	return "mysql"
}

// RunMigrations executes MySQL database migrations.
func (m *MySQLMigrationProvider) RunMigrations(ctx context.Context, config storage.MigrationConfig) error {
	db, err := m.open(config)
	if err != nil {
		return err
	}
	defer db.Close()

	log := config.Logger
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if err := sqlcommon.WaitForDB(ctx, db, config.Timeout, log); err != nil {
		return fmt.Errorf("failed to initialize mysql connection: %w", err)
	}

	return sqlcommon.Migrate(ctx, db, goose.DialectMySQL, assets.MySQLMigrationDir, config.TargetVersion, log)
}

// GetCurrentVersion returns the current migration version.
func (m *MySQLMigrationProvider) GetCurrentVersion(ctx context.Context, config storage.MigrationConfig) (int64, error) {
	db, err := m.open(config)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	return sqlcommon.CurrentVersion(ctx, db, goose.DialectMySQL, assets.MySQLMigrationDir)
}

func (m *MySQLMigrationProvider) open(config storage.MigrationConfig) (*sql.DB, error) {
	uri, err := withCredentials(config.URI, config.Username, config.Password)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql database uri: %w", err)
	}
	db, err := sql.Open("mysql", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	return db, nil
}
