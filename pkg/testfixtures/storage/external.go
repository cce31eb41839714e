package storage

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/docmediator/docmediator/assets"
	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/storage/sqlcommon"
)

type externalEngine struct {
	env          string
	driver       string
	dialect      goose.Dialect
	migrationDir string
}

var (
	postgresEngine = externalEngine{
		env:          "DOCMEDIATOR_TEST_POSTGRES_URI",
		driver:       "pgx",
		dialect:      goose.DialectPostgres,
		migrationDir: assets.PostgresMigrationDir,
	}
	mysqlEngine = externalEngine{
		env:          "DOCMEDIATOR_TEST_MYSQL_URI",
		driver:       "mysql",
		dialect:      goose.DialectMySQL,
		migrationDir: assets.MySQLMigrationDir,
	}
)

type externalTestContainer struct {
	uri      string
	version  int64
	username string
	password string
}

func runExternalTestDatabase(t testing.TB, e externalEngine) DatastoreTestContainer {
	uri := os.Getenv(e.env)
	if uri == "" {
		t.Skipf("%s is not set", e.env)
	}
	db, err := sql.Open(e.driver, uri)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, sqlcommon.WaitForDB(ctx, db, 30*time.Second, logger.NewNoopLogger()))
	require.NoError(t, sqlcommon.Migrate(ctx, db, e.dialect, e.migrationDir, 0, logger.NewNoopLogger()))
	version, err := sqlcommon.CurrentVersion(ctx, db, e.dialect, e.migrationDir)
	require.NoError(t, err)

	c := &externalTestContainer{uri: uri, version: version}
	switch e.driver {
	case "mysql":
		if cfg, err := mysql.ParseDSN(uri); err == nil {
			c.username, c.password = cfg.User, cfg.Passwd
		}
	default:
		if u, err := url.Parse(uri); err == nil && u.User != nil {
			c.username = u.User.Username()
			c.password, _ = u.User.Password()
		}
	}
	return c
}

func (c *externalTestContainer) GetConnectionURI(bool) string {
	return c.uri
}

func (c *externalTestContainer) GetDatabaseSchemaVersion() int64 {
	return c.version
}

func (c *externalTestContainer) GetUsername() string {
	return c.username
}

func (c *externalTestContainer) GetPassword() string {
	return c.password
}
