// Package influxdb provides time-series storage for door telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, measurement writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Lock state reports from the Bluetooth bridge
//   - Door state machine transitions
//   - Actuator energize/de-energize cycles
//   - Battery critical flags
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "sesami",
//	    Bucket: "door",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteDoorTransition("frontdoor", "idle", "awaiting-unlock")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size,
// flush_interval_seconds). Door events are low-frequency, so batches
// usually flush on the interval rather than on size.
package influxdb
