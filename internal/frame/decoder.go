package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	// DefaultMaxBuffer is the default cap on undelimited bytes per connection.
	DefaultMaxBuffer = 8192

	// Delimiter terminates a record on the wire.
	Delimiter = '\n'
)

// Document is one decoded record: a JSON object with arbitrary fields.
type Document map[string]any

// String returns the string value of key, or "" if absent or not a string.
func (d Document) String(key string) string {
	v, _ := d[key].(string) //nolint:errcheck // zero value is the documented fallback
	return v
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Result is a single decoder output: either a record or a non-fatal signal.
type Result struct {
	Doc Document
	Err error
}

// Stats counts decoder outcomes since creation.
type Stats struct {
	Frames    uint64
	Malformed uint64
	Overflows uint64
	Discarded uint64 // bytes dropped by overflow
}

// Decoder is a stateful newline-delimited JSON splitter for one byte stream.
type Decoder struct {
	buf   []byte
	max   int
	stats Stats
}

// NewDecoder creates a decoder with the given buffer cap.
// A non-positive cap selects DefaultMaxBuffer.
func NewDecoder(maxBuffer int) *Decoder {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Decoder{max: maxBuffer}
}

// Feed appends chunk to the buffer and returns every record it completes,
// in stream order. Malformed candidates and overflows appear as Results with
// Err set; they never abort the stream.
func (d *Decoder) Feed(chunk []byte) []Result {
	d.buf = append(d.buf, chunk...)

	var out []Result
	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], Delimiter)
		if i < 0 {
			break
		}
		line := d.buf[start : start+i]
		start += i + 1

		if len(line) > d.max {
			out = append(out, d.overflow(len(line)))
			continue
		}
		if res, ok := d.decode(line); ok {
			out = append(out, res)
		}
	}

	// Compact the undelimited remainder to the front of the buffer.
	n := copy(d.buf, d.buf[start:])
	d.buf = d.buf[:n]

	if len(d.buf) > d.max {
		out = append(out, d.overflow(len(d.buf)))
		d.buf = d.buf[:0]
		return out
	}

	pending := bytes.TrimSpace(d.buf)
	if len(pending) == 0 {
		d.buf = d.buf[:0]
		return out
	}
	if pending[0] == '{' && json.Valid(pending) {
		if res, ok := d.decode(pending); ok {
			out = append(out, res)
		}
		d.buf = d.buf[:0]
	}

	return out
}

// decode turns one candidate into a Result. Blank candidates produce nothing.
func (d *Decoder) decode(line []byte) (Result, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Result{}, false
	}

	var doc Document
	if err := json.Unmarshal(line, &doc); err != nil {
		d.stats.Malformed++
		return Result{Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}, true
	}
	if doc == nil {
		d.stats.Malformed++
		return Result{Err: fmt.Errorf("%w: not an object", ErrMalformedFrame)}, true
	}

	d.stats.Frames++
	return Result{Doc: doc}, true
}

func (d *Decoder) overflow(n int) Result {
	d.stats.Overflows++
	d.stats.Discarded += uint64(n)
	return Result{Err: fmt.Errorf("%w: %d bytes discarded", ErrBufferOverflow, n)}
}

// Buffered returns the number of undelimited bytes currently held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards any buffered bytes. Counters are kept.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// Stats returns the decoder's counters.
func (d *Decoder) Stats() Stats {
	return d.stats
}
