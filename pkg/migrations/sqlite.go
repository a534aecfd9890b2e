package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	sqliteMigrationsPath  = "sqlite"
	sqliteMigrationsTable = "schema_migrations"
)

//go:embed sqlite/*.sql
var sqliteFS embed.FS

// MigrateSQLite brings the rate limit schema of db up to date.
func MigrateSQLite(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate sqlite: nil db")
	}

	source, err := iofs.New(sqliteFS, sqliteMigrationsPath)
	if err != nil {
		return fmt.Errorf("migrate sqlite: init source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: sqliteMigrationsTable,
	})
	if err != nil {
		return fmt.Errorf("migrate sqlite: init db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrate sqlite: init migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate sqlite: up: %w", err)
	}
	return nil
}
