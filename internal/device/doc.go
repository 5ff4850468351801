// Package device provides the volatile Device Registry for the telemetry
// gateway.
//
// The registry is the single source of truth for every device the gateway
// has ever heard from. It maps a self-reported device identifier to a record
// holding the latest structured message, first/last-seen timestamps, the
// transport currently bound to the device (if any) and the device's pending
// command queue.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                          Device Registry                          │
//	│                                                                   │
//	│   id ──▶ record { latest, lastSeen, transport?, queue []Command } │
//	│                                                                   │
//	│   Upsert / Touch          ◀── device sessions, HTTP check-ins     │
//	│   MarkDisconnected        ◀── session close (identity-checked)    │
//	│   Get / List / Latest     ◀── REST API                            │
//	│   Admit / PopCommand      ◀── command dispatcher                  │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Lifecycle
//
// A record is created the first time a message naming its identifier is
// received and is never deleted while the process runs. Read paths (Get,
// Latest, Pending, Admit) never create records; they return
// ErrDeviceNotFound. Nothing is persisted: a restart starts empty.
//
// # Liveness
//
// Online is derived on every read, never stored. Two policies exist and a
// registry uses exactly one:
//
//   - LivenessConnection: online while a transport is bound.
//   - LivenessRecency: online while the last message is within the liveness
//     window (60 s by default), for deployments without persistent links.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Every mutation runs under a single
// registry mutex, so a command admission and a queue pop for the same device
// can never interleave. No method performs transport I/O while holding the
// lock; callers write to the returned Transport after the call returns.
package device
