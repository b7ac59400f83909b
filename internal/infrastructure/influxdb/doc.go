// Package influxdb mirrors stored meter readings into InfluxDB v2.
//
// Every row committed to a shard is also written as a point:
//
//	energy_meter,device_id=<device>,channel=<n> value=<milli-units> <hour bucket>
//
// The SQLite shards stay the source of truth; InfluxDB is a convenience copy
// for dashboards. Writes are batched according to influxdb.batch_size and
// influxdb.flush_interval, and batch failures are delivered to the callback
// registered with SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.PublishReadings(ctx, "meter-a", rows)
package influxdb
