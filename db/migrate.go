package db

import (
	"database/sql"
	"embed"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/meridian-data/quarry/errors"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationDir = "sqlite/migrations"

// Migrate brings the database schema up to date. Migrations are the
// embedded *.sql files, applied in lexical order inside individual
// transactions; each records itself in schema_migrations so re-running
// is a no-op. Migration 000 bootstraps the schema_migrations table
// itself.
func Migrate(conn *sql.DB, logger *zap.SugaredLogger) error {
	names, err := migrationNames()
	if err != nil {
		return err
	}

	for _, name := range names {
		version, _, _ := strings.Cut(name, "_")

		applied, tableExists := migrationApplied(conn, version)
		if !tableExists && version != "000" {
			return errors.Newf("schema_migrations missing before migration %s", name)
		}
		if applied {
			continue
		}

		raw, err := migrationFS.ReadFile(migrationDir + "/" + name)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", name)
		}

		tx, err := conn.Begin()
		if err != nil {
			return errors.Wrapf(err, "begin migration %s", name)
		}
		if _, err := tx.Exec(string(raw)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "apply migration %s", name)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "record migration %s", name)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit migration %s", name)
		}
		if logger != nil {
			logger.Debugw("Applied migration", "migration", name)
		}
	}
	return nil
}

func migrationNames() ([]string, error) {
	entries, err := migrationFS.ReadDir(migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "list migrations")
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// migrationApplied reports whether version is recorded, and whether the
// schema_migrations table exists at all (it does not before 000 runs).
func migrationApplied(conn *sql.DB, version string) (applied, tableExists bool) {
	err := conn.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version,
	).Scan(&applied)
	return applied, err == nil
}
