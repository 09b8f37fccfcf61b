package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementReading = "node_reading"
	MeasurementAlarm   = "node_alarm"
)

// WriteReading records one sensor class sample for a device.
//
// Parameters:
//   - deviceID: Node identifier (tag)
//   - class: Sensor class, e.g. "soil" or "environment" (tag)
//   - fields: Sampled values, e.g. {"temperature": 21.5, "humidity": 48}
//   - ts: Sample time
//
// Example:
//
//	client.WriteReading("node-001", "environment", map[string]any{"temperature": 21.5, "humidity": 48.0}, time.Now())
func (c *Client) WriteReading(deviceID, class string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementReading,
		map[string]string{
			"device_id": deviceID,
			"class":     class,
		},
		fields,
		ts,
	))
}

// WriteAlarm records a threshold crossing.
//
// Parameters:
//   - deviceID: Node identifier
//   - kind: Which threshold, e.g. "humidity_low"
//   - value: The sampled value that crossed it
//   - limit: The configured threshold
func (c *Client) WriteAlarm(deviceID, kind string, value, limit float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementAlarm,
		map[string]string{
			"device_id": deviceID,
			"kind":      kind,
		},
		map[string]any{
			"value": value,
			"limit": limit,
		},
		ts,
	))
}
