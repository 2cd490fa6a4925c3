// Package connection owns the single upstream feed connection.
//
// It provides:
//   - Dialer/Conn: the websocket client (JSON control requests, binary ticks)
//   - codec: request encoding and little-endian packet decoding
//   - Monitor: the tick-driven liveness state machine
//     (Disconnected -> Connecting -> Connected -> Stale -> Connecting)
//
// Reconnection and resync are driven by the hub, not by this package.
package connection
