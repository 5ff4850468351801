// Package relay bridges the gateway to an MQTT broker.
//
// Every event published on the fan-out hub is republished, retained, to
// {prefix}/state/{device}. Documents of the form {"set": {...}} arriving on
// {prefix}/command/{device} are handed to the command dispatcher exactly as
// if they had been posted to the HTTP API, so validation, queueing and the
// one-per-telemetry drain apply unchanged.
//
// The relay is optional; the gateway runs without it when MQTT is disabled.
package relay
