// Package rollup turns raw cumulative meter readings into consumption per
// hour, day or month.
//
// Meters report an ever-growing counter. A rollup walks the readings of each
// channel in time order and, whenever a reading falls into a later bucket
// than the last one reported, emits the difference between the two. Day and
// month buckets follow the calendar of a chosen timezone, so a "day" is local
// midnight to local midnight even across DST changes. Months count as crossed
// once their starts are at least 0.9 of a month apart.
//
// Every record carries its interval rendered three ways: UTC, the reporting
// timezone, and the caller's local timezone, all as "YYYY-MM-DD HH:mm:ss".
//
// The input is expected to be sorted by (recorded_time, channel), which is the
// order shard.Store.QueryRange returns:
//
//	rows, err := store.QueryRange(ctx, device, from, to, nil)
//	if err != nil {
//	    return err
//	}
//	records, err := rollup.Compute(rows, rollup.Options{
//	    Granularity: rollup.Daily,
//	    Zone:        budapest,
//	})
//
// Compute is a pure function of its inputs.
package rollup
