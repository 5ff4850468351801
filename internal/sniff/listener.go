package sniff

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used by the Listener.
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

// Handler takes ownership of a device connection. It must close conn when done.
type Handler func(ctx context.Context, conn net.Conn)

// Options configures a Listener.
type Options struct {
	// Timeout bounds the wait for the first chunk. Zero waits forever.
	Timeout time.Duration

	// PeekSize is the read-ahead buffer size. Zero selects DefaultPeekSize.
	PeekSize int

	Logger Logger
}

// Stats counts routing decisions since the listener was created.
type Stats struct {
	Accepted uint64
	Device   uint64
	Foreign  uint64
	Dropped  uint64
}

// Listener accepts connections on a shared port and routes each one to the
// device handler or the foreign listener.
//
// Thread Safety:
//   - Serve must be called once; Stats and Close are safe from any goroutine.
type Listener struct {
	inner   net.Listener
	handler Handler
	opts    Options
	logger  Logger
	foreign *chanListener

	wg sync.WaitGroup

	accepted atomic.Uint64
	device   atomic.Uint64
	routed   atomic.Uint64
	dropped  atomic.Uint64
}

// NewListener wraps inner. Device connections are passed to handler.
func NewListener(inner net.Listener, handler Handler, opts Options) *Listener {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Listener{
		inner:   inner,
		handler: handler,
		opts:    opts,
		logger:  logger,
		foreign: newChanListener(inner.Addr()),
	}
}

// Foreign returns the listener that yields HTTP connections. Its Accept
// returns net.ErrClosed once the Listener is closed.
func (l *Listener) Foreign() net.Listener {
	return l.foreign
}

// Addr returns the shared listening address.
func (l *Listener) Addr() net.Addr {
	return l.inner.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener is closed.
// Each connection is sniffed in its own goroutine so a silent client never
// blocks the accept loop. When accepting stops for any reason the context
// passed to device handlers is cancelled, and Serve waits for them before
// returning.
func (l *Listener) Serve(ctx context.Context) error {
	if l.foreign.isClosed() {
		return ErrListenerClosed
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		_ = l.Close() //nolint:errcheck // shutdown path
	})
	defer stop()

	l.logger.Info("shared listener started", "addr", l.inner.Addr().String())

	var err error
	for {
		conn, acceptErr := l.inner.Accept()
		if acceptErr != nil {
			if parent.Err() == nil && !errors.Is(acceptErr, net.ErrClosed) {
				err = acceptErr
				l.logger.Error("shared listener accept failed", "error", acceptErr)
			}
			break
		}
		l.accepted.Add(1)

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.route(ctx, conn)
		}()
	}

	cancel()
	_ = l.Close() //nolint:errcheck // idempotent
	l.wg.Wait()
	l.logger.Info("shared listener stopped")
	return err
}

// route performs the one-time sniff for conn and hands it off.
func (l *Listener) route(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()

	pc, first, err := Peek(conn, l.opts.PeekSize, l.opts.Timeout)
	if err != nil {
		l.dropped.Add(1)
		l.logger.Debug("dropping connection before first record", "remote", remote, "error", err)
		_ = conn.Close() //nolint:errcheck // best-effort close
		return
	}

	proto := Detect(first)
	l.logger.Debug("connection classified", "remote", remote, "protocol", proto.String())

	switch proto {
	case ProtocolHTTP:
		if !l.foreign.deliver(ctx, pc) {
			l.dropped.Add(1)
			_ = pc.Close() //nolint:errcheck // listener shutting down
			return
		}
		l.routed.Add(1)
	default:
		l.device.Add(1)
		l.handler(ctx, pc)
	}
}

// Close stops accepting on both the shared and the foreign listener.
func (l *Listener) Close() error {
	l.foreign.close()
	err := l.inner.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Stats returns a snapshot of the routing counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Accepted: l.accepted.Load(),
		Device:   l.device.Load(),
		Foreign:  l.routed.Load(),
		Dropped:  l.dropped.Load(),
	}
}

// chanListener is a net.Listener fed by the sniffer.
type chanListener struct {
	addr  net.Addr
	conns chan net.Conn
	done  chan struct{}
	once  sync.Once
}

func newChanListener(addr net.Addr) *chanListener {
	return &chanListener{
		addr:  addr,
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
}

func (c *chanListener) Accept() (net.Conn, error) {
	select {
	case conn := <-c.conns:
		return conn, nil
	case <-c.done:
		return nil, net.ErrClosed
	}
}

func (c *chanListener) Close() error {
	c.close()
	return nil
}

func (c *chanListener) Addr() net.Addr {
	return c.addr
}

func (c *chanListener) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *chanListener) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// deliver blocks until the foreign server accepts conn, the listener closes,
// or ctx is cancelled. It reports whether conn was handed over.
func (c *chanListener) deliver(ctx context.Context, conn net.Conn) bool {
	select {
	case c.conns <- conn:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}
