// Package migrations embeds the shard schema into the binary.
//
// Every monthly shard file carries the same single table, so the schema is
// applied idempotently whenever a shard is opened for writing rather than
// tracked through versioned migrations.
package migrations

import (
	_ "embed"
)

// MeasurementsSchema creates the Measurements table if it is absent.
//
//go:embed measurements.sql
var MeasurementsSchema string
