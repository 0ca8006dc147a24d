package database

import (
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate brings the schema up to the latest embedded version.
func (p *Postgres) Migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}

	driver, err := postgres.WithInstance(p.Db.DB, &postgres.Config{})
	if err != nil {
		log.Error("Failed to init migrate driver: ", err)
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Error("Failed to apply migrations: ", err)
		return err
	}

	version, dirty, _ := m.Version()
	log.Infof("Schema at version %d (dirty=%v)", version, dirty)
	return nil
}
