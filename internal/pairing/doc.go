// Package pairing implements anonymous two-party matchmaking.
//
// Connections enter a FIFO waiting pool via Matcher.Join and are paired with
// the oldest waiting connection. Each pair forms a Session owned by the
// Registry, which relays opaque payloads between the two members and tears
// the session down (notifying the survivor exactly once) when either member
// disconnects.
//
// Lock order is Matcher -> Registry -> session. Notifications are delivered
// through a Notifier whose implementations must never block.
package pairing
