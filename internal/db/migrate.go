package db

import (
	"embed"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/wenwu/saas-platform/access-service/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsTable = "access_schema_migrations"

// Migrate applies the embedded schema migrations
func Migrate(cfg *config.DatabaseConfig) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrationURL(cfg))
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	log.Printf("[db] Schema at version %d (dirty=%v)", version, dirty)
	return nil
}

// migrationURL rewrites the DSN for the pgx/v5 migrate driver
func migrationURL(cfg *config.DatabaseConfig) string {
	dsn := strings.Replace(cfg.DSN(), "postgres://", "pgx5://", 1)
	return dsn + "&x-migrations-table=" + migrationsTable
}
