package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID has never been seen.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDeviceID is returned when an empty device ID is supplied to a
	// mutating operation.
	ErrInvalidDeviceID = errors.New("device: invalid device id")
)
