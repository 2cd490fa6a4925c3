// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Upstream connection state and reconnects
//   - Tick rates: received, dispatched, dropped, unrouted
//   - Batched wire calls by outcome
//   - Archive writer rows and flushes, cache flushes
//   - Registered consumers and open push sessions
package metrics
