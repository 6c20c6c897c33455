package db

import (
	"database/sql"
	"embed"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/finledger/batchcore/errors"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationDir = "sqlite/migrations"

// Migrate applies any unapplied migrations in version order, one transaction
// per file. Applied versions are tracked in schema_migrations, which the
// 000 migration itself creates. If logger is nil the run is silent.
func Migrate(conn *sql.DB, logger *zap.SugaredLogger) error {
	files, err := listMigrations()
	if err != nil {
		return err
	}

	applied := 0
	for _, filename := range files {
		version := strings.SplitN(filename, "_", 2)[0]

		done, err := versionApplied(conn, version)
		if err != nil {
			// The tracking table does not exist until 000 runs.
			if version != "000" {
				return errors.Wrapf(err, "cannot check migration state for %s", filename)
			}
		}
		if done {
			continue
		}

		if err := applyMigration(conn, filename, version); err != nil {
			return err
		}
		applied++
		if logger != nil {
			logger.Infow("Applied migration", "migration", filename)
		}
	}

	if logger != nil && applied > 0 {
		logger.Infow("Migrations complete", "applied", applied, "total", len(files))
	}
	return nil
}

func listMigrations() ([]string, error) {
	entries, err := migrationFS.ReadDir(migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read embedded migrations")
	}
	var files []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func versionApplied(conn *sql.DB, version string) (bool, error) {
	var exists bool
	err := conn.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)`, version).
		Scan(&exists)
	return exists, err
}

func applyMigration(conn *sql.DB, filename, version string) error {
	script, err := migrationFS.ReadFile(migrationDir + "/" + filename)
	if err != nil {
		return errors.Wrapf(err, "failed to read migration %s", filename)
	}

	tx, err := conn.Begin()
	if err != nil {
		return errors.Wrapf(err, "failed to begin migration %s", filename)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(script)); err != nil {
		return errors.Wrapf(err, "failed to apply migration %s", filename)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
		return errors.Wrapf(err, "failed to record migration %s", filename)
	}
	return errors.Wrapf(tx.Commit(), "failed to commit migration %s", filename)
}
