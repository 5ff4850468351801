// Package sniff routes connections arriving on a port shared by the device
// protocol and HTTP.
//
// Each accepted connection is inspected exactly once. The first chunk is read
// into a buffer, classified by Detect, and then replayed in front of the
// socket by a *Conn so that whichever handler claims the connection sees the
// stream from its first byte:
//
//	accept ──▶ Peek (read-ahead) ──▶ Detect ──┬──▶ device handler (frame decoder path)
//	                                          └──▶ Foreign() listener (http.Server)
//
// A connection that closes before sending anything is dropped without being
// handed to either side.
//
// Usage:
//
//	ln, _ := net.Listen("tcp", ":8080")
//	sl := sniff.NewListener(ln, sessions.Handle, sniff.Options{Timeout: 10 * time.Second})
//	go httpServer.Serve(sl.Foreign())
//	err := sl.Serve(ctx)
package sniff
