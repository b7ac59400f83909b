// Package measurement holds the reading type shared by the meter client,
// the shard store and the rollup engine, plus the hour bucketing and time
// formatting rules they agree on.
package measurement
