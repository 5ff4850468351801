package command

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-telemetry/internal/device"
)

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Status is the outcome of admitting or draining a command.
type Status string

const (
	// StatusSent means the command was written to the device's transport.
	StatusSent Status = "sent"
	// StatusQueued means the device had no transport and the command waits
	// in its queue.
	StatusQueued Status = "queued"
	// StatusDropped means the write failed; the command is gone.
	StatusDropped Status = "dropped"
	// StatusHandoff means a drained command had no transport to go to and is
	// returned to the caller for delivery (HTTP check-in responses).
	StatusHandoff Status = "handoff"
)

// Receipt describes what happened to an admitted command.
type Receipt struct {
	CommandID string    `json:"command_id"`
	DeviceID  string    `json:"device_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery is the result of draining one command.
type Delivery struct {
	Command device.Command
	Status  Status
}

// Stats counts dispatcher outcomes since creation.
type Stats struct {
	Sent     uint64
	Queued   uint64
	Drained  uint64
	Dropped  uint64
	Rejected uint64
}

// Dispatcher validates, routes and drains device commands.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Queue state lives in the
//     device registry and is mutated under its lock; transport writes happen
//     after the lock is released.
type Dispatcher struct {
	registry *device.Registry
	space    ActuatorSpace
	logger   Logger
	now      func() time.Time
	newID    func() string

	sent     atomic.Uint64
	queued   atomic.Uint64
	drained  atomic.Uint64
	dropped  atomic.Uint64
	rejected atomic.Uint64
}

// NewDispatcher creates a dispatcher over registry. A nil logger disables
// logging.
func NewDispatcher(registry *device.Registry, space ActuatorSpace, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		registry: registry,
		space:    space,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Space returns the actuator space commands are validated against.
func (d *Dispatcher) Space() ActuatorSpace {
	return d.space
}

// Enqueue validates fields and admits a command for deviceID.
//
// If the device has a bound transport the command is written immediately and
// the receipt status is StatusSent (or StatusDropped when the write fails,
// in which case the error wraps ErrWriteFailed). Otherwise the command is
// queued and the status is StatusQueued.
//
// Returns ErrInvalidCommand for illegal assignments and
// device.ErrDeviceNotFound for devices that have never reported in.
func (d *Dispatcher) Enqueue(ctx context.Context, deviceID string, fields map[string]any) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	if err := d.space.Validate(fields); err != nil {
		d.rejected.Add(1)
		d.logger.Debug("command rejected", "device_id", deviceID, "error", err)
		return Receipt{}, err
	}

	cmd := device.Command{
		ID:        d.newID(),
		DeviceID:  deviceID,
		Fields:    fields,
		CreatedAt: d.now().UTC(),
	}
	receipt := Receipt{CommandID: cmd.ID, DeviceID: deviceID, CreatedAt: cmd.CreatedAt}

	transport, err := d.registry.Admit(cmd)
	if err != nil {
		d.rejected.Add(1)
		return Receipt{}, err
	}

	if transport == nil {
		d.queued.Add(1)
		receipt.Status = StatusQueued
		d.logger.Info("command queued", "device_id", deviceID, "command_id", cmd.ID)
		return receipt, nil
	}

	if err := d.write(transport, cmd); err != nil {
		receipt.Status = StatusDropped
		return receipt, err
	}
	receipt.Status = StatusSent
	return receipt, nil
}

// Drain releases the oldest queued command for deviceID, if any, and writes
// it to the device's bound transport. With no transport bound the command is
// returned with StatusHandoff for the caller to deliver. ok is false when
// nothing was queued.
func (d *Dispatcher) Drain(deviceID string) (Delivery, bool) {
	return d.DrainTo(deviceID, nil)
}

// DrainTo behaves like Drain, but writes to fallback when the device has no
// bound transport at pop time. Sessions pass their own connection so a
// command popped after a concurrent unbind still reaches the device that just
// reported in.
func (d *Dispatcher) DrainTo(deviceID string, fallback device.Transport) (Delivery, bool) {
	cmd, transport, ok := d.registry.PopCommand(deviceID)
	if !ok {
		return Delivery{}, false
	}
	d.drained.Add(1)

	if transport == nil {
		transport = fallback
	}
	if transport == nil {
		d.logger.Debug("command handed off", "device_id", deviceID, "command_id", cmd.ID)
		return Delivery{Command: cmd, Status: StatusHandoff}, true
	}

	if err := d.write(transport, cmd); err != nil {
		return Delivery{Command: cmd, Status: StatusDropped}, true
	}
	return Delivery{Command: cmd, Status: StatusSent}, true
}

// write encodes cmd and sends it. Failures are logged and counted; the
// command is not re-queued.
func (d *Dispatcher) write(transport device.Transport, cmd device.Command) error {
	payload, err := Encode(cmd)
	if err == nil {
		err = transport.Send(payload)
	}
	if err != nil {
		d.dropped.Add(1)
		d.logger.Warn("command dropped",
			"device_id", cmd.DeviceID,
			"command_id", cmd.ID,
			"remote", transport.RemoteAddr(),
			"error", err)
		if errors.Is(err, ErrWriteFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	d.sent.Add(1)
	d.logger.Info("command sent",
		"device_id", cmd.DeviceID,
		"command_id", cmd.ID,
		"remote", transport.RemoteAddr())
	return nil
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:     d.sent.Load(),
		Queued:   d.queued.Load(),
		Drained:  d.drained.Load(),
		Dropped:  d.dropped.Load(),
		Rejected: d.rejected.Load(),
	}
}
