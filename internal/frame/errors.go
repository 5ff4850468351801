package frame

import "errors"

// Non-fatal decoder signals. Both are reported through Result.Err and never
// stop the decoder.
var (
	// ErrMalformedFrame is reported when a delimited candidate is not a JSON object.
	ErrMalformedFrame = errors.New("frame: malformed frame")

	// ErrBufferOverflow is reported when undelimited bytes exceed the buffer cap.
	// The buffered bytes are discarded.
	ErrBufferOverflow = errors.New("frame: buffer overflow")
)
