package database

import (
	"context"
	"embed"
	"testing"
)

const testMigrationsDir = "testdata"

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// useTestMigrations points the package at testdata for the duration of a test.
func useTestMigrations(t *testing.T) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS = testMigrationsFS
	MigrationsDir = testMigrationsDir
}

func TestMigrate(t *testing.T) {
	useTestMigrations(t)

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	var name string
	if err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='test_items'",
	).Scan(&name); err != nil {
		t.Fatalf("table test_items not created: %v", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 1/0", len(applied), len(pending))
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useTestMigrations(t)

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='test_items'",
	).Scan(&count); err != nil {
		t.Fatalf("query error = %v", err)
	}
	if count != 0 {
		t.Error("test_items should be dropped after MigrateDown()")
	}

	applied, _, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected 0 applied migrations after rollback, got %d", len(applied))
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	origFS := MigrationsFS
	t.Cleanup(func() { MigrationsFS = origFS })
	MigrationsFS = nil

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{"valid up", "20261001_090000_mapping_records.up.sql", "20261001_090000", true, true},
		{"valid down", "20261001_090000_mapping_records.down.sql", "20261001_090000", false, true},
		{"not sql", "readme.txt", "", false, false},
		{"missing direction", "20261001_090000_mapping_records.sql", "", false, false},
		{"invalid format", "invalid.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && (version != tt.wantVersion || isUp != tt.wantIsUp) {
				t.Errorf("got (%q, %v), want (%q, %v)", version, isUp, tt.wantVersion, tt.wantIsUp)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := map[string]string{
		"20261001_090000_mapping_records.up.sql": "mapping_records",
		"20261001_090100_topics.down.sql":        "topics",
		"20261001_090200_audit_log_table.up.sql": "audit_log_table",
	}
	for filename, want := range tests {
		if got := extractMigrationName(filename); got != want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", filename, got, want)
		}
	}
}
