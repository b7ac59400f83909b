package influxdb

import (
	"context"
	"strconv"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/meterlog/internal/measurement"
)

// MeasurementName is the InfluxDB measurement every reading is written to.
const MeasurementName = "energy_meter"

// Point converts a stored reading into an InfluxDB point tagged by device
// and channel, timestamped at its hour bucket.
func Point(device string, m measurement.Measurement) *write.Point {
	return write.NewPoint(
		MeasurementName,
		map[string]string{
			"device_id": device,
			"channel":   strconv.Itoa(m.Channel),
		},
		map[string]any{
			"value": m.MeasuredValue,
		},
		m.Time(),
	)
}

// PublishReadings queues one point per stored row.
//
// Writes are batched and asynchronous; only a cancelled context or a
// closed client is reported here.
func (c *Client) PublishReadings(ctx context.Context, device string, rows []measurement.Measurement) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	for _, m := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.writeAPI.WritePoint(Point(device, m))
	}
	return nil
}
