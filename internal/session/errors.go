package session

import "errors"

var (
	// ErrTransportClosed is returned by Send after the connection has closed.
	ErrTransportClosed = errors.New("session: transport closed")

	// ErrWriteFailed wraps socket write errors.
	ErrWriteFailed = errors.New("session: write failed")
)
