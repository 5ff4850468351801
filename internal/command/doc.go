// Package command admits operator commands for devices and delivers them.
//
// A command is a sparse set of actuator assignments such as
// {"r1": true, "r3": 128}. Admission validates every assignment against the
// fixed ActuatorSpace; an invalid command is rejected whole and never queued.
//
// Dispatch policy:
//
//   - Device has a bound transport: the command is written immediately and
//     never enters the queue. There is no acknowledgement tracking.
//   - No transport bound: the command is appended to the device's FIFO queue
//     held by the device registry.
//
// Drain policy: each telemetry or state record received from a device
// releases exactly one queued command (the oldest), regardless of queue
// depth. A failed write is logged and the command is dropped; nothing is
// retried or re-queued.
//
// Server-to-device wire format, one record per line:
//
//	{"type":"command","id":"<uuid>","set":{"r1":true},"ts":"2026-01-01T12:00:00Z"}
package command
