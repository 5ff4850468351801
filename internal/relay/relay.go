package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-telemetry/internal/command"
	"github.com/nerrad567/gray-logic-telemetry/internal/fanout"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/mqtt"
)

// ErrInvalidTopic is returned for command messages on unexpected topics.
var ErrInvalidTopic = errors.New("relay: not a device command topic")

// ErrInvalidPayload is returned for command messages that are not {"set": {...}}.
var ErrInvalidPayload = errors.New("relay: invalid command payload")

// Broker is the subset of the MQTT client used by the relay.
type Broker interface {
	Topics() mqtt.Topics
	QoS() byte
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Enqueuer admits commands for a device.
type Enqueuer interface {
	Enqueue(ctx context.Context, deviceID string, fields map[string]any) (command.Receipt, error)
}

// Logger defines the logging interface used by the Relay.
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

// StateMessage is the document republished on a device state topic.
type StateMessage struct {
	Type      string         `json:"type"`
	DeviceID  string         `json:"dev"`
	Timestamp string         `json:"ts"`
	Message   map[string]any `json:"msg"`
}

// commandMessage is the document accepted on a device command topic.
type commandMessage struct {
	Set map[string]any `json:"set"`
}

// Stats counts relay activity.
type Stats struct {
	Forwarded     uint64
	PublishErrors uint64
	Commands      uint64
	CommandErrors uint64
}

// Relay republishes hub events to MQTT and routes MQTT commands into the
// dispatcher.
//
// Thread Safety:
//   - Run owns the event loop; HandleCommand may be called concurrently by
//     the MQTT client.
type Relay struct {
	broker   Broker
	events   *fanout.Hub
	enqueuer Enqueuer
	logger   Logger

	forwarded     atomic.Uint64
	publishErrors atomic.Uint64
	commands      atomic.Uint64
	commandErrors atomic.Uint64
}

// New creates a relay. A nil logger disables logging.
func New(broker Broker, events *fanout.Hub, enqueuer Enqueuer, logger Logger) *Relay {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Relay{
		broker:   broker,
		events:   events,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

// Run subscribes to device commands and forwards hub events until ctx is
// cancelled or the hub is closed.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.events.Subscribe("")
	defer sub.Close()

	topics := r.broker.Topics()
	commandTopic := topics.AllCommands()
	err := r.broker.Subscribe(commandTopic, r.broker.QoS(), func(topic string, payload []byte) error {
		return r.HandleCommand(ctx, topic, payload)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", commandTopic, err)
	}
	defer func() {
		if err := r.broker.Unsubscribe(commandTopic); err != nil {
			r.logger.Debug("relay unsubscribe failed", "topic", commandTopic, "error", err)
		}
	}()

	r.logger.Info("MQTT relay started", "commands", commandTopic, "states", topics.AllStates())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			r.forward(topics, ev)
		}
	}
}

// forward republishes one hub event as a retained state message.
func (r *Relay) forward(topics mqtt.Topics, ev fanout.Event) {
	msg := StateMessage{
		Type:      ev.Kind,
		DeviceID:  ev.DeviceID,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Message:   ev.Message,
	}
	if err := r.broker.PublishJSON(topics.State(ev.DeviceID), msg, true); err != nil {
		r.publishErrors.Add(1)
		r.logger.Warn("relay publish failed", "device_id", ev.DeviceID, "error", err)
		return
	}
	r.forwarded.Add(1)
}

// HandleCommand routes one MQTT command message into the dispatcher.
func (r *Relay) HandleCommand(ctx context.Context, topic string, payload []byte) error {
	r.commands.Add(1)

	deviceID, ok := r.broker.Topics().CommandDevice(topic)
	if !ok {
		r.commandErrors.Add(1)
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	var msg commandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.commandErrors.Add(1)
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	receipt, err := r.enqueuer.Enqueue(ctx, deviceID, msg.Set)
	if err != nil {
		r.commandErrors.Add(1)
		return fmt.Errorf("enqueueing command for %s: %w", deviceID, err)
	}

	r.logger.Info("MQTT command accepted",
		"device_id", deviceID,
		"command_id", receipt.CommandID,
		"status", receipt.Status)
	return nil
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Forwarded:     r.forwarded.Load(),
		PublishErrors: r.publishErrors.Load(),
		Commands:      r.commands.Load(),
		CommandErrors: r.commandErrors.Load(),
	}
}
