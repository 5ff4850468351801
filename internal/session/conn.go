package session

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is the device.Transport for one device connection.
//
// Thread Safety:
//   - Send and Close are safe for concurrent use. Record handling state is
//     owned by the connection's reader goroutine.
type Conn struct {
	conn         net.Conn
	remote       string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	// Reader-goroutine state.
	announced string
	bound     map[string]struct{}

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

func newConn(c net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		conn:         c,
		remote:       c.RemoteAddr().String(),
		writeTimeout: writeTimeout,
		bound:        make(map[string]struct{}),
	}
}

// Send writes one complete record to the device. Concurrent calls are
// serialised so records never interleave on the wire.
func (c *Conn) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrTransportClosed
	}

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("%w: setting write deadline: %v", ErrWriteFailed, err)
		}
	}

	n, err := c.conn.Write(payload)
	c.bytesOut.Add(uint64(n))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// RemoteAddr returns the peer address captured at accept time.
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// bind records that this connection carries device id.
func (c *Conn) bind(id string) {
	c.bound[id] = struct{}{}
	if c.announced == "" {
		c.announced = id
	}
}
