package device

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Registry.
type Options struct {
	// Liveness is the online policy. Empty selects LivenessConnection.
	Liveness Liveness

	// LivenessWindow applies to LivenessRecency. Zero selects
	// DefaultLivenessWindow.
	LivenessWindow time.Duration

	// Clock returns the current time. Nil selects time.Now.
	Clock func() time.Time
}

// Registry is the in-memory map from device ID to device record.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*record

	liveness Liveness
	window   time.Duration
	now      func() time.Time
	logger   Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Liveness == "" {
		opts.Liveness = LivenessConnection
	}
	if opts.LivenessWindow <= 0 {
		opts.LivenessWindow = DefaultLivenessWindow
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Registry{
		devices:  make(map[string]*record),
		liveness: opts.Liveness,
		window:   opts.LivenessWindow,
		now:      opts.Clock,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Liveness returns the registry's online policy.
func (r *Registry) Liveness() Liveness {
	return r.liveness
}

// Upsert records a message from device id. The record is created on first
// sight; the latest message is replaced and last-seen set to now. A non-nil
// transport is bound to the device, replacing any previous binding.
func (r *Registry) Upsert(id string, msg Message, transport Transport) (Snapshot, error) {
	if id == "" {
		return Snapshot{}, ErrInvalidDeviceID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.obtain(id)
	rec.latest = msg.Clone()
	if rec.latest == nil {
		rec.latest = Message{}
	}
	rec.messages++
	r.bind(rec, transport)

	return r.snapshot(rec), nil
}

// Touch records activity from device id without replacing its latest
// message. Used for acknowledgements and other records that carry no state.
func (r *Registry) Touch(id string, transport Transport) (Snapshot, error) {
	if id == "" {
		return Snapshot{}, ErrInvalidDeviceID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.obtain(id)
	rec.messages++
	r.bind(rec, transport)

	return r.snapshot(rec), nil
}

// MarkDisconnected clears the transport bound to device id, but only if it is
// the given transport. A close from a connection that has since been replaced
// is ignored. Reports whether the binding was cleared.
func (r *Registry) MarkDisconnected(id string, transport Transport) bool {
	if transport == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[id]
	if !ok || rec.transport == nil || rec.transport != transport {
		r.logger.Debug("ignoring stale disconnect", "device_id", id)
		return false
	}

	rec.transport = nil
	r.logger.Info("device disconnected", "device_id", id, "remote", transport.RemoteAddr())
	return true
}

// Get returns a snapshot of device id.
// Returns ErrDeviceNotFound if the device has never been seen.
func (r *Registry) Get(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return r.snapshot(rec), nil
}

// Latest returns a copy of the latest message from device id.
func (r *Registry) Latest(id string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return rec.latest.Clone(), nil
}

// List returns snapshots of every known device, sorted by ID.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	out := make([]Snapshot, 0, len(r.devices))
	for _, rec := range r.devices {
		out = append(out, r.snapshot(rec))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsOnline reports the derived online flag for device id.
// Unknown devices are offline.
func (r *Registry) IsOnline(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[id]
	return ok && r.online(rec)
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Admit places cmd for its device. If a transport is bound it is returned and
// the queue is left untouched: the caller writes the command immediately.
// Otherwise the command is appended to the device's queue and the returned
// transport is nil.
//
// Returns ErrDeviceNotFound for devices that have never been seen.
func (r *Registry) Admit(cmd Command) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[cmd.DeviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, cmd.DeviceID)
	}
	if rec.transport != nil {
		return rec.transport, nil
	}

	rec.queue = append(rec.queue, cloneCommand(cmd))
	return nil, nil
}

// PopCommand removes the head of device id's queue and returns it together
// with the currently bound transport (which may be nil). ok is false when the
// queue is empty or the device is unknown.
func (r *Registry) PopCommand(id string) (cmd Command, transport Transport, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, found := r.devices[id]
	if !found || len(rec.queue) == 0 {
		return Command{}, nil, false
	}

	cmd = rec.queue[0]
	rec.queue[0] = Command{}
	rec.queue = rec.queue[1:]
	if len(rec.queue) == 0 {
		rec.queue = nil
	}
	return cmd, rec.transport, true
}

// Pending returns a copy of device id's queue in delivery order.
func (r *Registry) Pending(id string) ([]Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	out := make([]Command, len(rec.queue))
	for i, c := range rec.queue {
		out[i] = cloneCommand(c)
	}
	return out, nil
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices   int
	OnlineDevices  int
	QueuedCommands int
	Liveness       Liveness
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		TotalDevices: len(r.devices),
		Liveness:     r.liveness,
	}
	for _, rec := range r.devices {
		if r.online(rec) {
			stats.OnlineDevices++
		}
		stats.QueuedCommands += len(rec.queue)
	}
	return stats
}

// obtain returns the record for id, creating it on first sight.
// Caller must hold r.mu.
func (r *Registry) obtain(id string) *record {
	now := r.now().UTC()
	rec, ok := r.devices[id]
	if !ok {
		rec = &record{id: id, latest: Message{}, firstSeen: now}
		r.devices[id] = rec
		r.logger.Info("device registered", "device_id", id)
	}
	rec.lastSeen = now
	return rec
}

// bind attaches transport to rec, replacing any previous binding.
// Caller must hold r.mu.
func (r *Registry) bind(rec *record, transport Transport) {
	if transport == nil || rec.transport == transport {
		return
	}
	if rec.transport != nil {
		r.logger.Info("device rebound to new connection",
			"device_id", rec.id,
			"previous", rec.transport.RemoteAddr(),
			"remote", transport.RemoteAddr())
	} else {
		r.logger.Info("device connected", "device_id", rec.id, "remote", transport.RemoteAddr())
	}
	rec.transport = transport
}

// online derives the online flag for rec. Caller must hold r.mu.
func (r *Registry) online(rec *record) bool {
	if r.liveness == LivenessRecency {
		return r.now().Sub(rec.lastSeen) <= r.window
	}
	return rec.transport != nil
}

// snapshot copies rec into a caller-owned value. Caller must hold r.mu.
func (r *Registry) snapshot(rec *record) Snapshot {
	s := Snapshot{
		ID:              rec.id,
		Online:          r.online(rec),
		LastSeen:        rec.lastSeen,
		FirstSeen:       rec.firstSeen,
		Latest:          rec.latest.Clone(),
		Messages:        rec.messages,
		PendingCommands: len(rec.queue),
	}
	if rec.transport != nil {
		s.Remote = rec.transport.RemoteAddr()
	}
	return s
}
