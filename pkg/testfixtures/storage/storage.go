// Package storage prepares migrated databases for datastore tests.
package storage

import (
	"testing"
)

// DatastoreTestContainer represents a runnable database for testing specific datastore engines.
type DatastoreTestContainer interface {

	// GetConnectionURI returns a connection string to the datastore instance.
	GetConnectionURI(includeCredentials bool) string

	// GetDatabaseSchemaVersion returns the last migration applied (e.g. 3) when the database was prepared.
	GetDatabaseSchemaVersion() int64

	GetUsername() string
	GetPassword() string
}

type memoryTestContainer struct{}

func (m memoryTestContainer) GetConnectionURI(bool) string {
	return ""
}

func (m memoryTestContainer) GetUsername() string {
	return ""
}

func (m memoryTestContainer) GetPassword() string {
	return ""
}

func (m memoryTestContainer) GetDatabaseSchemaVersion() int64 {
	return 1
}

// RunDatastoreTestContainer prepares a DatastoreTestContainer for the provided
// datastore engine and runs all existing database migrations. sqlite uses a
// temporary file; postgres and mysql use the database named by
// DOCMEDIATOR_TEST_POSTGRES_URI or DOCMEDIATOR_TEST_MYSQL_URI and skip the
// test when it is unset.
func RunDatastoreTestContainer(t testing.TB, engine string) DatastoreTestContainer {
	switch engine {
	case "sqlite":
		return NewSqliteTestContainer().RunSqliteTestDatabase(t)
	case "postgres":
		return runExternalTestDatabase(t, postgresEngine)
	case "mysql":
		return runExternalTestDatabase(t, mysqlEngine)
	case "memory":
		return memoryTestContainer{}
	default:
		t.Fatalf("'%s' engine is not supported by RunDatastoreTestContainer", engine)
		return nil
	}
}
