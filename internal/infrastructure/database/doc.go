// Package database provides the storage connections for Biolock Core.
//
// SQLite (default):
//   - WAL mode, busy timeout and foreign keys set on the connection string
//   - A single pooled connection, so SQLite's one writer is never contended
//   - Additive-only schema migrations embedded from the migrations package
//
// Postgres (database.driver: postgres):
//   - gorm handle opened with OpenPostgres; repositories AutoMigrate their
//     own models
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The SQLite file mode is set to 0600
//   - Device keys are stored as digests, passwords as argon2id hashes
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
