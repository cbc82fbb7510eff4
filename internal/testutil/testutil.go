// Package testutil provides an in-memory database migrated with the SQLite
// schema, shared by package tests.
package testutil

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/Gobusters/ectologger"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/congraphcms/eav-sub001/pkg/database"
)

func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// MigrationFolder returns the absolute path of the SQLite migrations.
func MigrationFolder() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "db", "sqlite")
}

// NewDB opens a private in-memory SQLite database with the schema applied.
// The pool is limited to one connection so every statement sees the same
// in-memory database and transaction.
func NewDB(t *testing.T) database.DB {
	t.Helper()

	raw, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	raw.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = raw.Close() })

	logger := Logger()
	db := database.NewDatabaseInstance(raw, logger)

	driver, err := migratesqlite.WithInstance(raw.DB, &migratesqlite.Config{})
	require.NoError(t, err)

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: MigrationFolder(),
	})
	require.NoError(t, migrations.Migrate("sqlite3", driver))

	return db
}
