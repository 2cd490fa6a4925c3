// Package router implements the Tick Router.
//
// The Router fans each tick out to the consumers registered for its
// instrument:
//   - Delivery goes through a Sink and never blocks
//   - A full sink drops the tick and bumps that consumer's drop counter
//   - Ticks for instruments nobody wants are discarded
//
// Sinks: ChanSink, QueueSink (bounded Queue), Mux (per-consumer), Tee, SinkFunc.
package router
