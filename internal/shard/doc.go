// Package shard stores meter readings in one SQLite file per device per
// calendar month.
//
// # Layout
//
//	<workdir>/<device>/<YYYY-MM>-monthly.sqlite
//
// Each file holds a single Measurements table (see package migrations).
// Files are created lazily by the first write of a month and never modified
// except by appending.
//
// # Writes
//
// WriteBatch runs inside one BEGIN EXCLUSIVE transaction per shard, so two
// writers to the same file are serialised by SQLite itself. Failing to get
// the lock within the busy timeout yields ErrLockFailed. A single bad row is
// reported as a RowError (matching ErrInsertFailed) and does not stop the
// rest of the batch from committing.
//
// # Reads
//
// QueryRange walks every month overlapping the requested range, skips months
// that have no file, and concatenates the per-shard results. Readers open
// their own short-lived handles and never create files.
//
// Usage:
//
//	store, err := shard.New(shard.Config{WorkDir: "/var/lib/meterlog"})
//	if err != nil {
//	    return err
//	}
//	res, err := store.WriteBatch(ctx, "10.0.0.5", rows)
//	...
//	rows, err := store.QueryRange(ctx, "10.0.0.5", from, to, nil)
package shard
