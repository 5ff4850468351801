package session

import "strings"

// Action is the effect a record has on gateway state, decided by its kind.
type Action int

const (
	// ActionAnnounce upserts and binds the device and notifies observers.
	// Queued commands stay queued.
	ActionAnnounce Action = iota + 1

	// ActionReport upserts and binds the device, notifies observers and
	// releases one queued command.
	ActionReport

	// ActionTouch refreshes last-seen and the binding only. The latest
	// message is kept and observers are not notified.
	ActionTouch
)

// RecordKind returns the normalised "type" field of a record.
func RecordKind(doc map[string]any) string {
	kind, _ := doc["type"].(string) //nolint:errcheck // non-string kinds are treated as absent
	return strings.ToLower(strings.TrimSpace(kind))
}

// Classify maps a record kind to its Action. A missing kind is telemetry.
func Classify(kind string) Action {
	switch kind {
	case KindHello, KindAnnounce:
		return ActionAnnounce
	case "", KindTelemetry, KindState:
		return ActionReport
	default:
		return ActionTouch
	}
}
