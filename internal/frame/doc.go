// Package frame splits a device byte stream into newline-delimited JSON records.
//
// A Decoder is owned by exactly one connection goroutine. Bytes are fed in as
// they arrive from the socket, in whatever chunk sizes the network produces,
// and complete records come out:
//
//	dec := frame.NewDecoder(0)
//	for _, res := range dec.Feed(chunk) {
//	    if res.Err != nil {
//	        // malformed frame or buffer overflow; the connection carries on
//	        continue
//	    }
//	    handle(res.Doc)
//	}
//
// Framing rules:
//   - '\n' terminates a record; surrounding whitespace (including '\r') is trimmed
//   - blank lines are skipped without error
//   - a buffered object with no terminator is emitted as soon as it is a
//     complete JSON document, for devices that omit the newline on short writes
//   - more than the buffer cap (8 KiB by default) of undelimited bytes is
//     discarded and reported as ErrBufferOverflow
//
// Decoder is not safe for concurrent use.
package frame
