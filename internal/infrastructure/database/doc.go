// Package database opens individual SQLite files for meterlog.
//
// meterlog keeps many small database files (one per meter per month) rather
// than one large one, so this package is concerned with a single file at a
// time:
//   - Opening an existing file, or creating it and its directory on demand
//   - Exclusive write transactions (BEGIN EXCLUSIVE through the driver DSN)
//   - Lock-contention detection for SQLITE_BUSY / SQLITE_LOCKED
//   - Idempotent schema application
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Newly created files get 0600 permissions, directories 0750
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        "/data/10.0.0.5/2024-03-monthly.sqlite",
//	    Create:      true,
//	    ExclusiveTx: true,
//	    BusyTimeout: 5 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.ApplySchema(ctx, migrations.MeasurementsSchema); err != nil {
//	    return err
//	}
package database
