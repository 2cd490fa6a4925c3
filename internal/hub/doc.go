// Package hub implements the Feed Hub: one upstream connection shared by
// many consumers.
//
// The Hub ties together:
//   - registry: ref-counted desired subscriptions per consumer
//   - connection: the Dialer/Conn and the liveness Monitor
//   - router: fan-out of ticks to consumer sinks
//
// Wire traffic is driven by ref counts. An instrument is subscribed when its
// first consumer registers and unsubscribed when its last consumer leaves.
// Nothing is dialed while no instrument is desired.
//
// After every Connecting -> Connected transition (the first tick on a new
// handle) the whole registry is re-subscribed, so registrations made while
// disconnected are never lost. A connection silent for longer than the
// liveness window is torn down and redialed with exponential backoff.
package hub
