package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-telemetry/internal/command"
	"github.com/nerrad567/gray-logic-telemetry/internal/device"
	"github.com/nerrad567/gray-logic-telemetry/internal/fanout"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/mqtt"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeBroker records publishes and captures subscription handlers.
type fakeBroker struct {
	mu           sync.Mutex
	topics       mqtt.Topics
	published    []published
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	publishErr   error
	subscribeErr error
	notify       chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		topics:   mqtt.Topics{Prefix: "test/gw"},
		handlers: make(map[string]mqtt.MessageHandler),
		notify:   make(chan struct{}, 64),
	}
}

func (b *fakeBroker) Topics() mqtt.Topics { return b.topics }
func (b *fakeBroker) QoS() byte           { return 1 }

func (b *fakeBroker) PublishJSON(topic string, v any, retained bool) error {
	b.mu.Lock()
	defer func() {
		b.mu.Unlock()
		b.notify <- struct{}{}
	}()
	if b.publishErr != nil {
		return b.publishErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.published = append(b.published, published{topic: topic, payload: data, retained: retained})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	b.unsubscribed = append(b.unsubscribed, topic)
	return nil
}

func (b *fakeBroker) handler(topic string) mqtt.MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[topic]
}

func (b *fakeBroker) snapshot() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

func (b *fakeBroker) waitPublishes(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-b.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d publishes", i, n)
		}
	}
}

type harness struct {
	broker   *fakeBroker
	events   *fanout.Hub
	registry *device.Registry
	relay    *Relay
	cancel   context.CancelFunc
	done     chan error
}

// startRelay runs a relay against a fake broker and waits until it has
// subscribed to both the hub and the command topic.
func startRelay(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		broker:   newFakeBroker(),
		events:   fanout.NewHub(16, nil),
		registry: device.NewRegistry(device.Options{}),
		done:     make(chan error, 1),
	}
	dispatcher := command.NewDispatcher(h.registry, command.DefaultActuatorSpace(), nil)
	h.relay = New(h.broker, h.events, dispatcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.relay.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	deadline := time.Now().Add(2 * time.Second)
	for h.events.Count() == 0 || h.broker.handler(h.broker.topics.AllCommands()) == nil {
		if time.Now().After(deadline) {
			t.Fatal("relay never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return h
}

func TestRelay_ForwardsEventsAsRetainedState(t *testing.T) {
	h := startRelay(t)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h.events.Publish(fanout.Event{DeviceID: "d1", Kind: fanout.KindHello, Message: map[string]any{"type": "hello"}, Timestamp: ts})
	h.events.Publish(fanout.Event{DeviceID: "d2", Kind: fanout.KindTelemetry, Message: map[string]any{"v1": 3.0}, Timestamp: ts})
	h.broker.waitPublishes(t, 2)

	got := h.broker.snapshot()
	if len(got) != 2 {
		t.Fatalf("published %d messages, want 2", len(got))
	}
	if got[0].topic != "test/gw/state/d1" || got[1].topic != "test/gw/state/d2" {
		t.Errorf("topics = %q, %q", got[0].topic, got[1].topic)
	}
	if !got[1].retained {
		t.Error("state messages should be retained")
	}

	var msg StateMessage
	if err := json.Unmarshal(got[1].payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != fanout.KindTelemetry || msg.DeviceID != "d2" || msg.Message["v1"] != 3.0 {
		t.Errorf("state message = %+v", msg)
	}
	if msg.Timestamp != "2026-01-02T03:04:05Z" {
		t.Errorf("ts = %q", msg.Timestamp)
	}

	if stats := h.relay.Stats(); stats.Forwarded != 2 {
		t.Errorf("Forwarded = %d, want 2", stats.Forwarded)
	}
}

func TestRelay_PublishErrorsCounted(t *testing.T) {
	h := startRelay(t)
	h.broker.mu.Lock()
	h.broker.publishErr = mqtt.ErrNotConnected
	h.broker.mu.Unlock()

	h.events.Publish(fanout.Event{DeviceID: "d1", Kind: fanout.KindTelemetry})
	h.broker.waitPublishes(t, 1)

	deadline := time.Now().Add(2 * time.Second)
	for h.relay.Stats().PublishErrors != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Stats() = %+v, want 1 publish error", h.relay.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelay_CommandQueuedForKnownDevice(t *testing.T) {
	h := startRelay(t)
	if _, err := h.registry.Upsert("d1", device.Message{"v1": 0.0}, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	handler := h.broker.handler("test/gw/command/+")
	if err := handler("test/gw/command/d1", []byte(`{"set":{"r1":true}}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	pending, err := h.registry.Pending("d1")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Fields["r1"] != true {
		t.Errorf("pending = %+v, want r1=true queued", pending)
	}
}

func TestRelay_HandleCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr error
	}{
		{name: "wrong topic", topic: "test/gw/state/d1", payload: `{"set":{"r1":1}}`, wantErr: ErrInvalidTopic},
		{name: "bad json", topic: "test/gw/command/d1", payload: `{"set":`, wantErr: ErrInvalidPayload},
		{name: "invalid actuator", topic: "test/gw/command/d1", payload: `{"set":{"x9":1}}`, wantErr: command.ErrInvalidCommand},
		{name: "unknown device", topic: "test/gw/command/ghost", payload: `{"set":{"r1":1}}`, wantErr: device.ErrDeviceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := device.NewRegistry(device.Options{})
			if _, err := registry.Upsert("d1", nil, nil); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			dispatcher := command.NewDispatcher(registry, command.DefaultActuatorSpace(), nil)
			r := New(newFakeBroker(), fanout.NewHub(1, nil), dispatcher, nil)

			err := r.HandleCommand(context.Background(), tt.topic, []byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("HandleCommand() error = %v, want %v", err, tt.wantErr)
			}
			if stats := r.Stats(); stats.Commands != 1 || stats.CommandErrors != 1 {
				t.Errorf("Stats() = %+v", stats)
			}
		})
	}
}

func TestRelay_StopsOnCancelAndUnsubscribes(t *testing.T) {
	h := startRelay(t)
	h.cancel()

	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
		h.done <- nil // consumed again by cleanup
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	h.broker.mu.Lock()
	unsubscribed := append([]string(nil), h.broker.unsubscribed...)
	h.broker.mu.Unlock()
	if len(unsubscribed) != 1 || unsubscribed[0] != "test/gw/command/+" {
		t.Errorf("unsubscribed = %v", unsubscribed)
	}
	if h.events.Count() != 0 {
		t.Errorf("hub subscriptions = %d, want 0", h.events.Count())
	}
}

func TestRelay_SubscribeFailure(t *testing.T) {
	broker := newFakeBroker()
	broker.subscribeErr = mqtt.ErrNotConnected
	events := fanout.NewHub(1, nil)
	r := New(broker, events, command.NewDispatcher(device.NewRegistry(device.Options{}), command.DefaultActuatorSpace(), nil), nil)

	if err := r.Run(context.Background()); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Run() error = %v, want ErrNotConnected", err)
	}
	if events.Count() != 0 {
		t.Errorf("hub subscriptions = %d, want 0 after failed start", events.Count())
	}
}
