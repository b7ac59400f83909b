package shard

import "errors"

// Domain errors for the shard package.
var (
	// ErrShardMissing is returned by Open when the shard file does not exist.
	ErrShardMissing = errors.New("shard: shard does not exist")

	// ErrLockFailed is returned when the exclusive write lock on a shard
	// cannot be acquired within the busy timeout.
	ErrLockFailed = errors.New("shard: could not acquire write lock")

	// ErrInsertFailed marks a single row that could not be written.
	// The rest of its batch is still committed.
	ErrInsertFailed = errors.New("shard: row insert failed")

	// ErrCommitFailed is returned when a batch transaction fails to commit.
	ErrCommitFailed = errors.New("shard: commit failed")

	// ErrInvalidDevice is returned for device identifiers that cannot name
	// a directory.
	ErrInvalidDevice = errors.New("shard: invalid device identifier")

	// ErrInvalidYearMonth is returned for shard keys not shaped YYYY-MM.
	ErrInvalidYearMonth = errors.New("shard: invalid year-month")
)
