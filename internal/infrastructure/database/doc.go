// Package database opens the bridge's SQLite file and applies schema
// migrations.
//
// The database holds the published state history. It is optional: the
// bridge runs without it when database.path is empty.
//
// Migrations are plain SQL files named YYYYMMDD_HHMMSS_description.up.sql
// with a matching .down.sql, read from any fs.FS (normally the embedded
// migrations package). Each migration runs in its own transaction and is
// recorded in schema_migrations.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "data/owbridge.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
