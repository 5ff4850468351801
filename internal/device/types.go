package device

import "time"

// Liveness selects how the registry derives a device's online flag.
type Liveness string

// Liveness policies.
const (
	LivenessConnection Liveness = "connection"
	LivenessRecency    Liveness = "recency"
)

// DefaultLivenessWindow is the recency window used when none is configured.
const DefaultLivenessWindow = 60 * time.Second

// Message is the latest structured payload reported by a device.
// It is an opaque key/value document.
type Message map[string]any

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	return deepCopyMap(m)
}

// Transport is the live link to a connected device.
//
// Implementations must be comparable (typically a pointer): the registry
// uses interface equality to decide whether a close notification refers to
// the currently bound transport.
type Transport interface {
	// Send writes one complete server-to-device record.
	Send(payload []byte) error

	// RemoteAddr identifies the peer for logs and the API.
	RemoteAddr() string
}

// Command is a pending command addressed to one device.
type Command struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"device_id"`
	Fields    map[string]any `json:"set"`
	CreatedAt time.Time      `json:"created_at"`
}

// Snapshot is a point-in-time, caller-owned view of a device record.
type Snapshot struct {
	ID              string    `json:"id"`
	Online          bool      `json:"online"`
	LastSeen        time.Time `json:"last_seen"`
	FirstSeen       time.Time `json:"first_seen"`
	Latest          Message   `json:"latest"`
	Messages        uint64    `json:"messages"`
	PendingCommands int       `json:"pending_commands"`
	Remote          string    `json:"remote,omitempty"`
}

// record is the registry-owned state for one device.
type record struct {
	id        string
	latest    Message
	firstSeen time.Time
	lastSeen  time.Time
	messages  uint64
	transport Transport
	queue     []Command
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case Message:
		return Message(deepCopyMap(val))
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, float64, etc.) are safe to copy by value
		return v
	}
}

// cloneCommand copies a command so the queue never shares field maps with
// callers.
func cloneCommand(c Command) Command {
	c.Fields = deepCopyMap(c.Fields)
	return c
}
