// Package fanout republishes device events to real-time observers.
//
// Observers call Subscribe with an optional device filter and read events
// from Subscription.Events. Publish is best-effort and never blocks: an
// observer whose buffer is full misses that event, and a subscription that
// has been closed is removed from the hub the next time something is
// published. Nothing is retained for late subscribers.
//
// The hub owns only routing. Socket lifecycles (WebSocket, MQTT) belong to
// the transports that consume subscriptions.
package fanout
