// Package poller schedules meter reads and stores their results.
//
// One poll cycle for one device is strictly sequential:
//
//	connect → send "read all" → read → parse → lock shard → insert → commit
//
// after which the stored rows are handed to every Publisher (MQTT, InfluxDB)
// and the outcome to every Reporter. Publishing failures are logged and never
// fail the cycle.
//
// Devices are polled concurrently through an errgroup capped at
// Config.Concurrency. A per-device mutex keeps the schedule and on-demand
// polls (HTTP or MQTT) from overlapping on the same meter: the schedule waits,
// an on-demand poll gets ErrPollInProgress.
//
// Every cycle is counted in Prometheus (see Metrics):
//
//	meterlog_polls_total{device,result}
//	meterlog_poll_duration_seconds{device}
//	meterlog_rows_written_total{device}
//	meterlog_row_failures_total{device}
package poller
