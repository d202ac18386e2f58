package dispatch

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// MigrationFiles contains the SQL migrations embedded in the binary, one
// directory per dialect: migrations/sqlite3, migrations/mysql,
// migrations/postgres. Use ApplyMigrations, or feed the files to your own
// migration tool.
//
//go:embed migrations/*/*.sql
var MigrationFiles embed.FS

// migrationDirs maps database/sql driver names to goose dialects and directories.
var migrationDirs = map[string]struct{ dialect, dir string }{
	"sqlite3":  {"sqlite3", "migrations/sqlite3"},
	"mysql":    {"mysql", "migrations/mysql"},
	"postgres": {"postgres", "migrations/postgres"},
	"pgx":      {"postgres", "migrations/postgres"},
}

// ApplyMigrations runs all pending goose migrations for the driver.
//
// Example:
//
//	db, _ := sql.Open("mysql", dsn)
//	if err := dispatch.ApplyMigrations(ctx, db, "mysql"); err != nil {
//	    log.Fatal(err)
//	}
func ApplyMigrations(ctx context.Context, db *sql.DB, driver string) error {
	if db == nil {
		return NewError(ErrCodeConfiguration, "db is required")
	}

	target, ok := migrationDirs[driver]
	if !ok {
		return NewError(ErrCodeConfiguration, fmt.Sprintf("no migrations for driver %q", driver))
	}

	goose.SetBaseFS(MigrationFiles)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(target.dialect); err != nil {
		return NewErrorWithCause(ErrCodeConfiguration, "set goose dialect", err)
	}
	if err := goose.UpContext(ctx, db, target.dir); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "goose up", err)
	}
	return nil
}
