// Package session serves device connections handed over by the protocol
// sniffer.
//
// Each connection is owned by one goroutine that reads the socket, feeds a
// private frame.Decoder and applies every decoded record:
//
//	kind                 registry        hub       queue drain   reply
//	hello / announce     upsert + bind   publish   no            ack
//	telemetry / state    upsert + bind   publish   one command   no
//	(no type)            upsert + bind   publish   one command   no
//	ack                  touch + bind    no        no            no
//	anything else        touch + bind    no        no            no
//
// The device identifier comes from the "dev" field. A record without one
// inherits the identifier the connection has already reported; with neither,
// the record is dropped.
//
// Writes to a device (acknowledgements and commands) are serialised per
// connection and bounded by a write deadline. A silent connection is closed
// after the idle timeout. On close the session clears its binding in the
// registry for every device it carried, using the identity-checked
// MarkDisconnected so a newer connection for the same device is untouched.
package session
