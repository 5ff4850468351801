package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-telemetry/internal/command"
	"github.com/nerrad567/gray-logic-telemetry/internal/device"
	"github.com/nerrad567/gray-logic-telemetry/internal/fanout"
	"github.com/nerrad567/gray-logic-telemetry/internal/frame"
)

// Defaults applied by NewServer.
const (
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultWriteTimeout   = 5 * time.Second
	DefaultReadBufferSize = 4096
)

// Record kinds understood on the device protocol.
const (
	KindHello     = "hello"
	KindAnnounce  = "announce"
	KindTelemetry = "telemetry"
	KindState     = "state"
	KindAck       = "ack"
)

// Logger defines the logging interface used by the Server.
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

// Options configures a Server.
type Options struct {
	// IdleTimeout closes a connection that sends nothing for this long.
	// Zero selects DefaultIdleTimeout; negative disables it.
	IdleTimeout time.Duration

	// WriteTimeout bounds each write to a device. Zero selects
	// DefaultWriteTimeout.
	WriteTimeout time.Duration

	// MaxFrameBuffer caps undelimited bytes per connection.
	// Zero selects frame.DefaultMaxBuffer.
	MaxFrameBuffer int

	// ReadBufferSize is the socket read size. Zero selects
	// DefaultReadBufferSize.
	ReadBufferSize int

	Logger Logger
}

// Stats counts session activity since the server was created.
type Stats struct {
	Connections  uint64
	Active       int64
	Frames       uint64
	Malformed    uint64
	Overflows    uint64
	Unidentified uint64
	WriteErrors  uint64
}

// Server applies device records to the registry, hub and dispatcher.
type Server struct {
	registry   *device.Registry
	dispatcher *command.Dispatcher
	hub        *fanout.Hub
	opts       Options
	logger     Logger

	mu    sync.Mutex
	conns map[*Conn]struct{}

	connections  atomic.Uint64
	active       atomic.Int64
	frames       atomic.Uint64
	malformed    atomic.Uint64
	overflows    atomic.Uint64
	unidentified atomic.Uint64
	writeErrors  atomic.Uint64
}

// NewServer creates a session server. hub may be nil when nothing observes
// device events.
func NewServer(registry *device.Registry, dispatcher *command.Dispatcher, hub *fanout.Hub, opts Options) *Server {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxFrameBuffer <= 0 {
		opts.MaxFrameBuffer = frame.DefaultMaxBuffer
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Server{
		registry:   registry,
		dispatcher: dispatcher,
		hub:        hub,
		opts:       opts,
		logger:     logger,
		conns:      make(map[*Conn]struct{}),
	}
}

// Handle serves one device connection until it closes, the idle timeout
// expires or ctx is cancelled. It always closes nc.
func (s *Server) Handle(ctx context.Context, nc net.Conn) {
	c := newConn(nc, s.opts.WriteTimeout)
	s.track(c)
	defer s.untrack(c)

	stop := context.AfterFunc(ctx, func() {
		_ = c.Close() //nolint:errcheck // shutdown path
	})
	defer stop()

	s.logger.Info("device connection opened", "remote", c.remote)

	dec := frame.NewDecoder(s.opts.MaxFrameBuffer)
	buf := make([]byte, s.opts.ReadBufferSize)

	for {
		if s.opts.IdleTimeout > 0 {
			_ = nc.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout)) //nolint:errcheck // read error surfaces below
		}

		n, err := nc.Read(buf)
		if n > 0 {
			c.bytesIn.Add(uint64(n))
			for _, res := range dec.Feed(buf[:n]) {
				s.handleResult(c, res)
			}
		}
		if err != nil {
			s.logClose(c, err)
			return
		}
	}
}

// handleResult applies one decoder output.
func (s *Server) handleResult(c *Conn, res frame.Result) {
	switch {
	case errors.Is(res.Err, frame.ErrBufferOverflow):
		s.overflows.Add(1)
		s.logger.Warn("frame buffer overflow, discarding", "remote", c.remote, "error", res.Err)
	case res.Err != nil:
		s.malformed.Add(1)
		s.logger.Warn("malformed frame", "remote", c.remote, "error", res.Err)
	default:
		s.frames.Add(1)
		s.handleRecord(c, res.Doc)
	}
}

// handleRecord routes one record by kind.
func (s *Server) handleRecord(c *Conn, doc frame.Document) {
	kind := RecordKind(doc)

	id := doc.String("dev")
	if id == "" {
		id = c.announced
	}
	if id == "" {
		s.unidentified.Add(1)
		s.logger.Warn("record without device id dropped", "remote", c.remote, "kind", kind)
		return
	}

	switch Classify(kind) {
	case ActionAnnounce:
		if !s.upsert(c, id, doc) {
			return
		}
		c.announced = id
		s.publish(id, fanout.KindHello, doc)
		s.reply(c, map[string]any{"type": KindAck, "ref": KindHello, "dev": id})

	case ActionReport:
		if !s.upsert(c, id, doc) {
			return
		}
		s.publish(id, fanout.KindTelemetry, doc)
		if delivery, ok := s.dispatcher.DrainTo(id, c); ok {
			s.logger.Debug("drained queued command",
				"device_id", id,
				"command_id", delivery.Command.ID,
				"status", delivery.Status)
		}

	default:
		s.touch(c, id)
		if kind == KindAck {
			s.logger.Debug("device acknowledgement", "device_id", id, "ref", doc.String("id"))
		} else {
			s.logger.Debug("unrecognised record kind", "device_id", id, "kind", kind)
		}
	}
}

func (s *Server) upsert(c *Conn, id string, doc frame.Document) bool {
	if _, err := s.registry.Upsert(id, device.Message(doc), c); err != nil {
		s.logger.Warn("registry update failed", "device_id", id, "error", err)
		return false
	}
	c.bind(id)
	return true
}

func (s *Server) touch(c *Conn, id string) {
	if _, err := s.registry.Touch(id, c); err != nil {
		s.logger.Warn("registry touch failed", "device_id", id, "error", err)
		return
	}
	c.bind(id)
}

func (s *Server) publish(id, kind string, doc frame.Document) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(fanout.Event{
		DeviceID:  id,
		Kind:      kind,
		Message:   doc,
		Timestamp: time.Now().UTC(),
	})
}

// reply writes a server-generated record. Failures are logged only.
func (s *Server) reply(c *Conn, msg map[string]any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("encoding reply", "error", err)
		return
	}
	if err := c.Send(append(payload, '\n')); err != nil {
		s.writeErrors.Add(1)
		s.logger.Warn("reply to device failed", "remote", c.remote, "error", err)
	}
}

func (s *Server) logClose(c *Conn, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
		s.logger.Info("device closed connection", "remote", c.remote)
	case c.IsClosed() || errors.Is(err, net.ErrClosed):
		s.logger.Info("device connection closed", "remote", c.remote)
	case errors.As(err, &ne) && ne.Timeout():
		s.logger.Info("device connection idle, closing", "remote", c.remote, "idle_timeout", s.opts.IdleTimeout)
	default:
		s.logger.Warn("device connection read error", "remote", c.remote, "error", err)
	}
}

func (s *Server) track(c *Conn) {
	s.connections.Add(1)
	s.active.Add(1)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

// untrack closes c and clears every registry binding it still owns.
func (s *Server) untrack(c *Conn) {
	_ = c.Close() //nolint:errcheck // already closed on most paths

	for id := range c.bound {
		s.registry.MarkDisconnected(id, c)
	}

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.active.Add(-1)
}

// CloseAll closes every active device connection. Handlers return and clear
// their bindings on their own goroutines.
func (s *Server) CloseAll() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close() //nolint:errcheck // shutdown path
	}
}

// Stats returns a snapshot of the session counters.
func (s *Server) Stats() Stats {
	return Stats{
		Connections:  s.connections.Load(),
		Active:       s.active.Load(),
		Frames:       s.frames.Load(),
		Malformed:    s.malformed.Load(),
		Overflows:    s.overflows.Load(),
		Unidentified: s.unidentified.Load(),
		WriteErrors:  s.writeErrors.Load(),
	}
}
