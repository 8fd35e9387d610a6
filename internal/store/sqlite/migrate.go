package sqlite

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/nextlevelbuilder/agentbus/migrations"
)

// ExpectedSchemaVersion is the newest migration this build knows about.
// A database at a higher version belongs to a newer broker; starting against
// it would corrupt state, so Open refuses.
const ExpectedSchemaVersion = 1

// migrate applies embedded migrations up to ExpectedSchemaVersion.
func (d *DB) migrate() error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	drv, err := sqlitemigrate.WithInstance(d.writer, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty; run the migrate subcommand to repair", version)
	}
	if version > ExpectedSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, ExpectedSchemaVersion)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
