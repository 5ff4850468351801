package fanout

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the per-subscription event buffer.
const DefaultBuffer = 64

// Event kinds published by the gateway.
const (
	KindHello     = "hello"
	KindTelemetry = "telemetry"
)

// Logger defines the logging interface used by the Hub.
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

// Event is one registry-affecting update from a device.
// Message is shared between subscribers and must be treated as read-only.
type Event struct {
	DeviceID  string         `json:"device_id"`
	Kind      string         `json:"kind"`
	Message   map[string]any `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

// Stats counts hub activity since creation.
type Stats struct {
	Subscribers int
	Published   uint64
	Delivered   uint64
	Dropped     uint64
}

// Hub routes events to subscriptions.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	buffer int
	logger Logger

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
// A non-positive buffer selects DefaultBuffer. A nil logger disables logging.
func NewHub(buffer int, logger Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers an observer. An empty filter receives every device;
// otherwise only events whose DeviceID equals filter are delivered.
// Subscribing to a closed hub returns an already-closed subscription.
func (h *Hub) Subscribe(filter string) *Subscription {
	sub := &Subscription{
		hub:    h,
		filter: filter,
		ch:     make(chan Event, h.buffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.shutdown()
		return sub
	}
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("observer subscribed", "filter", filter, "subscribers", count)
	return sub
}

// Publish offers ev to every subscription whose filter matches ev.DeviceID
// and returns the number of subscriptions that accepted it. It never blocks.
func (h *Hub) Publish(ev Event) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.published.Add(1)

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return 0
	}
	targets := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		if sub.matches(ev.DeviceID) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	var stale []*Subscription
	for _, sub := range targets {
		ok, closed := sub.offer(ev)
		switch {
		case closed:
			stale = append(stale, sub)
		case ok:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	h.delivered.Add(uint64(delivered))

	if len(stale) > 0 {
		h.mu.Lock()
		for _, sub := range stale {
			delete(h.subs, sub)
		}
		h.mu.Unlock()
		h.logger.Debug("removed closed observers", "count", len(stale))
	}

	return delivered
}

// Count returns the number of registered subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Subscribers: h.Count(),
		Published:   h.published.Load(),
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Close closes every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[*Subscription]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.shutdown()
	}
	h.logger.Info("fan-out hub closed", "subscribers", len(subs))
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Subscription is one observer's view of the hub.
type Subscription struct {
	hub    *Hub
	filter string
	ch     chan Event

	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// Events returns the channel events are delivered on. It is closed when the
// subscription or the hub is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Filter returns the device filter, or "" for all devices.
func (s *Subscription) Filter() string {
	return s.filter
}

// Dropped returns how many events this subscription missed because its
// buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.shutdown()
	s.hub.remove(s)
}

func (s *Subscription) matches(deviceID string) bool {
	return s.filter == "" || s.filter == deviceID
}

// offer attempts a non-blocking delivery.
func (s *Subscription) offer(ev Event) (delivered, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, true
	}
	select {
	case s.ch <- ev:
		return true, false
	default:
		s.dropped.Add(1)
		return false, false
	}
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
