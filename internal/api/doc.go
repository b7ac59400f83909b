// Package api implements the HTTP REST API for meterlog.
//
// This package provides:
//   - Read endpoints for stored measurements and timezone-aware rollups
//   - An on-demand poll endpoint that runs one acquisition cycle for a meter
//   - Prometheus exposition of the poller and HTTP metrics
//   - Middleware stack (request ID, logging, recovery, metrics)
//
// # Architecture
//
// The API sits beside the poller. Reads go straight to the shard store,
// opening only the monthly shards a range touches, and rollups are computed
// on the fly from the raw readings. Writes only happen through the poller.
//
// # Time Parameters
//
// The from and to query parameters accept RFC3339, unix seconds, or a bare
// YYYY-MM-DD date. A date is interpreted in the query timezone; as a to
// bound it means the end of that day.
package api
