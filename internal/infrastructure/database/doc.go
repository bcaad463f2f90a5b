// Package database provides the SQLite connection used by the spec store.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Embedded, versioned schema migrations
//   - Connection lifecycle and health checks
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: each version ships an .up.sql and a .down.sql
// file, and new columns must be NULLABLE or carry a DEFAULT.
package database
