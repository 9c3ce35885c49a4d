package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

// Services with their own schema.
const (
	ServiceUser    = "user"
	ServiceReplica = "replica"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// RunMigrations applies the embedded migrations for service.
func RunMigrations(db *sql.DB, service string) error {
	dir, err := migrationDir(service)
	if err != nil {
		return err
	}

	source, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{
		MigrationsTable: "schema_migrations_" + service,
	})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	logrus.WithField("service", service).Info("migrations completed")
	return nil
}

func migrationDir(service string) (string, error) {
	switch service {
	case ServiceUser, ServiceReplica:
		return path.Join("migrations", service), nil
	default:
		return "", fmt.Errorf("no migrations for service %q", service)
	}
}

func migrationFiles(service string) ([]string, error) {
	dir, err := migrationDir(service)
	if err != nil {
		return nil, err
	}
	return fs.Glob(migrationsFS, path.Join(dir, "*.up.sql"))
}
