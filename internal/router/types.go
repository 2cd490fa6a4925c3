package router

import (
	"github.com/rickgao/tickhub/internal/model"
)

// AcceptResult is a sink's answer to one delivery attempt.
type AcceptResult int

const (
	Delivered AcceptResult = iota
	Dropped
)

func (r AcceptResult) String() string {
	if r == Delivered {
		return "delivered"
	}
	return "dropped"
}

// Sink receives ticks for consumers. Accept must not block: a sink that cannot
// take the tick right now returns Dropped.
type Sink interface {
	Accept(consumerID model.ConsumerID, tick model.Tick) AcceptResult
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(consumerID model.ConsumerID, tick model.Tick) AcceptResult

func (f SinkFunc) Accept(consumerID model.ConsumerID, tick model.Tick) AcceptResult {
	return f(consumerID, tick)
}

// Index resolves the consumers interested in an instrument. The subscription
// registry implements it.
type Index interface {
	Consumers(key model.InstrumentKey) []model.ConsumerID
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	TicksDispatched int64 // Ticks passed to Dispatch
	Delivered       int64 // Per-consumer deliveries accepted
	Dropped         int64 // Per-consumer deliveries dropped
	Unrouted        int64 // Ticks with no interested consumer
}
