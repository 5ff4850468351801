package command

import "errors"

var (
	// ErrInvalidCommand is returned when field assignments fall outside the
	// actuator space or carry malformed values.
	ErrInvalidCommand = errors.New("command: invalid command")

	// ErrWriteFailed wraps transport write failures. The command is dropped.
	ErrWriteFailed = errors.New("command: write to device failed")
)
