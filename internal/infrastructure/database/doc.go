// Package database provides SQLite connectivity for Gray Logic Voice.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded schema migrations (see the migrations package)
//   - Transaction helpers used by the registry, topic and audit repositories
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
