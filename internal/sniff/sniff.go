package sniff

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultPeekSize is the read-ahead buffer used for the first chunk.
const DefaultPeekSize = 4096

// Protocol is the result of classifying a connection's first chunk.
type Protocol int

const (
	// ProtocolDevice is the newline-delimited JSON device protocol.
	ProtocolDevice Protocol = iota
	// ProtocolHTTP is a plain HTTP/1.x request or an HTTP/2 preface.
	ProtocolHTTP
)

// String returns the protocol name used in logs and metrics.
func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP:
		return "http"
	default:
		return "device"
	}
}

// requestPrefixes are the request-line openings that mark a foreign connection.
var requestPrefixes = [][]byte{
	[]byte("GET "),
	[]byte("POST "),
	[]byte("PUT "),
	[]byte("PATCH "),
	[]byte("DELETE "),
	[]byte("HEAD "),
	[]byte("OPTIONS "),
	[]byte("CONNECT "),
	[]byte("TRACE "),
	[]byte("PRI * HTTP/2"),
}

// Detect classifies a connection by its first chunk. A chunk shorter than a
// request-line prefix but consistent with one is treated as HTTP, so a client
// whose first segment is split mid-method is not mistaken for a device.
func Detect(first []byte) Protocol {
	if len(first) == 0 {
		return ProtocolDevice
	}
	for _, p := range requestPrefixes {
		if bytes.HasPrefix(first, p) {
			return ProtocolHTTP
		}
		if len(first) < len(p) && bytes.HasPrefix(p, first) {
			return ProtocolHTTP
		}
	}
	return ProtocolDevice
}

// Conn is a net.Conn whose reads replay the sniffed chunk before continuing
// with the underlying socket. All other methods go to the socket.
type Conn struct {
	net.Conn
	r io.Reader
}

// Read implements io.Reader.
func (c *Conn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// Peek performs the read-ahead phase of a two-phase accept: it reads the
// first available chunk (at most size bytes, waiting at most timeout) and
// returns a *Conn that yields that chunk again before any further socket data.
//
// Returns ErrEmptyConnection if the peer closed without sending anything.
// The read deadline is cleared before returning.
func Peek(conn net.Conn, size int, timeout time.Duration) (*Conn, []byte, error) {
	if size <= 0 {
		size = DefaultPeekSize
	}

	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, nil, fmt.Errorf("sniff: setting read deadline: %w", err)
		}
	}

	buf := make([]byte, size)
	n, err := conn.Read(buf)

	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Time{}) //nolint:errcheck // connection may already be closed
	}

	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, nil, ErrEmptyConnection
		}
		return nil, nil, fmt.Errorf("sniff: reading first chunk: %w", err)
	}

	first := buf[:n]
	return &Conn{
		Conn: conn,
		r:    io.MultiReader(bytes.NewReader(first), conn),
	}, first, nil
}
