// Package database provides the SQLite connection behind the plan store
// and run log.
//
// The database runs in WAL mode with a single connection. Schema changes
// live as paired YYYYMMDD_HHMMSS_name.up.sql / .down.sql files in the
// top-level migrations package, which embeds them and registers them
// through MigrationsFS.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a DEFAULT.
package database
