package sniff

import "errors"

var (
	// ErrEmptyConnection is returned when a connection closes before sending
	// its first byte.
	ErrEmptyConnection = errors.New("sniff: connection closed before first byte")

	// ErrListenerClosed is returned by Serve when called on a closed listener.
	ErrListenerClosed = errors.New("sniff: listener closed")
)
