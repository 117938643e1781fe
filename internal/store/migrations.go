package store

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/systmms/signctl/internal/ctlerrors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// RunMigrations applies every pending schema migration to db using
// golang-migrate, sourcing the steps from the embedded migrations
// directory rather than a separate deploy artifact.
func RunMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.Fatal, "store.RunMigrations", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.RunMigrations", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.Fatal, "store.RunMigrations", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return ctlerrors.Wrap(ctlerrors.BackendUnavailable, "store.RunMigrations", err)
	}
	return nil
}
