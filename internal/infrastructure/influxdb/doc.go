// Package influxdb stores device telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management and batched writes, and provides a Sink that follows the
// gateway's fan-out hub and records every telemetry event as a
// "device_metrics" point.
//
// # Point Layout
//
//	measurement: device_metrics
//	tags:        device_id
//	fields:      numeric and boolean fields of the telemetry record
//
// Strings, nested objects and arrays are not stored. The routing fields
// "dev", "type", "id" and "ts" are never written as fields.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	sink := influxdb.NewSink(client, hub, logger)
//	go sink.Run(ctx)
//
// # Thread Safety
//
// All Client methods are safe for concurrent use. Writes are non-blocking
// and batched according to batch_size and flush_interval; asynchronous write
// errors are delivered to the SetOnError callback.
package influxdb
