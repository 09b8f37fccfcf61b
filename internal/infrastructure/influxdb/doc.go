// Package influxdb provides the optional InfluxDB sink for node readings.
//
// It wraps the official influxdb-client-go v2 library. When enabled, every
// sample the telemetry publisher produces is also written here, one point
// per sensor class, plus a point for each alarm threshold crossing.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    // ErrDisabled or ErrConnectionFailed; the node runs without the sink
//	}
//	defer client.Close()
//
//	client.WriteReading("node-001", "soil", map[string]any{"moisture": 41.0}, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; errors are
// delivered to the SetOnError callback.
package influxdb
