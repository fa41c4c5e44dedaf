package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	atlassiansync "github.com/goliatone/go-atlassian-sync"
	persistence "github.com/goliatone/go-persistence-bun"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	migrationsDir = "data/sql/migrations"
)

// Migrator is the slice of the persistence client the sync schema is applied
// through.
type Migrator interface {
	RegisterSQLMigrations(migrations ...fs.FS) *persistence.Migrations
	Migrate(ctx context.Context) error
}

// Dialect maps a driver or dialect name onto one of the supported schema
// dialects.
func Dialect(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg", "pgdialect":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: unsupported dialect %q", name)
	}
}

// ForDialect returns the migration files for dialect. Postgres files live at
// the root of data/sql/migrations and sqlite files under its sqlite directory.
// Every up file must have a matching down file.
func ForDialect(dialect string, sources ...fs.FS) (fs.FS, error) {
	name, err := Dialect(dialect)
	if err != nil {
		return nil, err
	}
	root := atlassiansync.GetMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}

	dir := migrationsDir
	if name == DialectSQLite {
		dir += "/sqlite"
	}
	sub, err := fs.Sub(root, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", dir, err)
	}
	ups, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s has no %s up files", dir, name)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(sub, down); err != nil {
			return nil, fmt.Errorf("migrations: %s/%s has no down file: %w", dir, up, err)
		}
	}
	return sub, nil
}

// Apply registers the schema for dialect and runs pending migrations.
func Apply(ctx context.Context, migrator Migrator, dialect string) error {
	if migrator == nil {
		return fmt.Errorf("migrations: migrator is required")
	}
	files, err := ForDialect(dialect)
	if err != nil {
		return err
	}
	migrator.RegisterSQLMigrations(files)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("migrations: apply %s: %w", dialect, err)
	}
	return nil
}
