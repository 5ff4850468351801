// Package api implements the HTTP REST API and WebSocket observer endpoint
// for the telemetry gateway.
//
// This package provides:
//   - Device check-in over HTTP (POST /device/telemetry)
//   - Registry reads (device list, single device, latest snapshot)
//   - Command admission and queue inspection per device
//   - A WebSocket channel that streams device events, optionally filtered
//     to one device
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// HTTP shares its port with device sessions. The protocol sniffer hands
// connections that open with an HTTP request line to the listener this
// server serves, so the API never sees device traffic and vice versa.
//
// All state lives in the device registry; handlers only read snapshots,
// call the command dispatcher, or subscribe to the fan-out hub.
//
// # Graceful Degradation
//
// MQTT and InfluxDB are optional. Without them the API, device sessions and
// WebSocket observers keep working; /metrics reports them as disconnected.
package api
