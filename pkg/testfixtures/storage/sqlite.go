package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/docmediator/docmediator/assets"
	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/storage/sqlcommon"
)

type sqliteTestContainer struct {
	path    string
	version int64
}

// NewSqliteTestContainer returns an implementation of the DatastoreTestContainer interface
// for SQLite.
func NewSqliteTestContainer() *sqliteTestContainer {
	return &sqliteTestContainer{}
}

func (m *sqliteTestContainer) GetDatabaseSchemaVersion() int64 {
	return m.version
}

// RunSqliteTestDatabase creates a migrated sqlite database file removed
// when the test ends.
func (m *sqliteTestContainer) RunSqliteTestDatabase(t testing.TB) DatastoreTestContainer {
	m.path = filepath.Join(t.TempDir(), "database.db")

	db, err := sql.Open("sqlite", m.GetConnectionURI(true))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	err = sqlcommon.Migrate(ctx, db, goose.DialectSQLite3, assets.SqliteMigrationDir, 0, logger.NewNoopLogger())
	require.NoError(t, err)
	m.version, err = sqlcommon.CurrentVersion(ctx, db, goose.DialectSQLite3, assets.SqliteMigrationDir)
	require.NoError(t, err)

	return m
}

// GetConnectionURI returns the sqlite connection uri for the test database.
func (m *sqliteTestContainer) GetConnectionURI(bool) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(100)", m.path)
}

func (m *sqliteTestContainer) GetUsername() string {
	return ""
}

func (m *sqliteTestContainer) GetPassword() string {
	return ""
}
