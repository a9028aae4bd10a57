// Package database provides the SQLite persistence layer for Relay Bridge.
//
// It wraps database/sql with connection setup (WAL mode, busy timeout,
// foreign keys, single-writer pool) and an embedded migration runner.
// Repositories in internal/auth and internal/topic operate on the
// underlying *sql.DB.
//
// Migrations live in the top-level migrations package and are registered
// via MigrationsFS at init time, so the binary carries its own schema.
//
// Lifecycle:
//
//	db, err := database.Open(cfg)
//	defer db.Close()
//	err = db.Migrate(ctx)
package database
