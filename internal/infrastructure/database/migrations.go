package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// versionParts is the number of "_"-separated fields in a version
// (YYYYMMDD_HHMMSS); the remainder of the filename is the description.
const versionParts = 2

// MigrationsFS holds the migration files. The migrations package sets it
// from an embedded filesystem at init.
var MigrationsFS fs.FS

// MigrationsDir is the directory within MigrationsFS containing migration files.
var MigrationsDir = "migrations"

// Migration is one schema change, loaded from a
// YYYYMMDD_HHMMSS_name.up.sql / .down.sql pair.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord represents a row in the schema_migrations table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies all pending migrations in version order.
//
// Each migration runs in its own transaction: a failure rolls back that
// migration only, earlier ones stay committed, and re-running Migrate
// continues from the failed one.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	_, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return err
	}

	for _, m := range pending {
		err := db.InTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return fmt.Errorf("executing SQL: %w", err)
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339),
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
// This is primarily for development and testing.
func (db *DB) MigrateDown(ctx context.Context) error {
	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1].Version

	all, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	idx := sort.Search(len(all), func(i int) bool { return all[i].Version >= latest })
	if idx == len(all) || all[idx].Version != latest {
		return fmt.Errorf("migration %s not found in filesystem", latest)
	}
	m := all[idx]
	if m.DownSQL == "" {
		return fmt.Errorf("migration %s has no down SQL", latest)
	}

	return db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			return fmt.Errorf("executing down SQL: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version); err != nil {
			return fmt.Errorf("removing migration record: %w", err)
		}
		return nil
	})
}

// GetMigrationStatus returns applied migrations and those still pending.
func (db *DB) GetMigrationStatus(ctx context.Context) (applied []MigrationRecord, pending []Migration, err error) {
	applied, err = db.appliedMigrations(ctx)
	if err != nil {
		return nil, nil, err
	}

	all, err := loadMigrations()
	if err != nil {
		return nil, nil, fmt.Errorf("loading migrations: %w", err)
	}

	done := make(map[string]bool, len(applied))
	for _, r := range applied {
		done[r.Version] = true
	}
	for _, m := range all {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		var appliedAt string
		if err := rows.Scan(&r.Version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt) //nolint:errcheck // Format is controlled
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return records, nil
}

// loadMigrations reads and pairs migration files, sorted oldest first.
// Down files without a matching up file are ignored.
func loadMigrations() ([]Migration, error) {
	if MigrationsFS == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(MigrationsFS, MigrationsDir)
	if err != nil {
		return nil, nil //nolint:nilerr // Missing directory means no migrations
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, isUp, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}
		body, err := fs.ReadFile(MigrationsFS, path.Join(MigrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		if isUp {
			m.Name = extractMigrationName(entry.Name())
			m.UpSQL = string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL != "" {
			migrations = append(migrations, *m)
		}
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// parseMigrationFilename extracts version and direction from a migration filename.
func parseMigrationFilename(name string) (version string, isUp bool, ok bool) {
	base, found := strings.CutSuffix(name, ".sql")
	if !found {
		return "", false, false
	}
	if b, up := strings.CutSuffix(base, ".up"); up {
		base, isUp = b, true
	} else if b, down := strings.CutSuffix(base, ".down"); down {
		base = b
	} else {
		return "", false, false
	}

	parts := strings.SplitN(base, "_", versionParts+1)
	if len(parts) < versionParts {
		return "", false, false
	}
	return parts[0] + "_" + parts[1], isUp, true
}

// extractMigrationName returns the description part of a migration filename.
// Example: "20261001_090000_mapping_records.up.sql" -> "mapping_records"
func extractMigrationName(filename string) string {
	base := strings.TrimSuffix(filename, ".sql")
	base = strings.TrimSuffix(base, ".up")
	base = strings.TrimSuffix(base, ".down")

	parts := strings.SplitN(base, "_", versionParts+1)
	if len(parts) > versionParts {
		return parts[versionParts]
	}
	return base
}
