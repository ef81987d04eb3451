// Package signaling exposes the matchmaker over WebSocket.
//
// Each browser tab opens one connection to GET /signal and speaks a small
// JSON protocol: "join" to be paired with a stranger, then "signal" to relay
// opaque SDP/ICE payloads to the partner. The server answers with "waiting",
// "paired", "signal", "partner-disconnected", "wait-expired" and "error"
// frames. Pairing state lives in the pairing package; this package only
// frames messages and enforces per-connection limits.
package signaling
